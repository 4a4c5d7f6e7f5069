package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"
	"golang.org/x/sync/errgroup"

	"github.com/Retzilience/ReNight/cmd/renight/cliutil"
	"github.com/Retzilience/ReNight/cmd/renight/updater"
	"github.com/Retzilience/ReNight/config"
	"github.com/Retzilience/ReNight/logger"
	"github.com/Retzilience/ReNight/metrics"
	"github.com/Retzilience/ReNight/mods"
	"github.com/Retzilience/ReNight/watcher"
)

const (
	defaultUpdateCheckFreq = 6 * time.Hour

	// rescanDebounce coalesces the burst of filesystem events a single
	// import or delete produces into one scan.
	rescanDebounce = 2 * time.Second
)

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Action:    cliutil.Action(watchHandler),
		Usage:     "Watch the library folders and keep renight current",
		ArgsUsage: " ",
		Description: `Runs until interrupted: rescans the library whenever the Nightdive or
PWAD folder changes, and checks for updates on a schedule. An available
update is staged unattended and the daemon exits with code 11 so a
service manager restarts it into the new binary.`,
		Flags: []cli.Flag{
			altsrc.NewStringFlag(&cli.StringFlag{
				Name:    "status-addr",
				Usage:   "Listen address for /healthz, /ready and /metrics.",
				EnvVars: []string{"RENIGHT_STATUS_ADDR"},
			}),
			altsrc.NewDurationFlag(&cli.DurationFlag{
				Name:  "update-check-freq",
				Usage: fmt.Sprintf("How often to check for updates. Default is %v, 0 disables the check.", defaultUpdateCheckFreq),
				Value: defaultUpdateCheckFreq,
			}),
			altsrc.NewBoolFlag(&cli.BoolFlag{
				Name:  "no-update-check",
				Usage: "Disable the periodic update check.",
			}),
		},
	}
}

func watchHandler(c *cli.Context) error {
	log := logger.CreateLoggerFromContext(c, logger.EnableTerminalLog)
	cliutil.GetBuildInfo(Version).Log(log)

	store, err := config.OpenDefaultStore()
	if err != nil {
		return errors.Wrap(err, "cannot open the state store")
	}
	library, closeLibrary, err := openLibrary(store, log)
	if err != nil {
		return err
	}
	defer closeLibrary()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dirWatcher, err := watcher.NewDir()
	if err != nil {
		return errors.Wrap(err, "cannot create the filesystem watcher")
	}

	daemon := &watchDaemon{
		store:   store,
		library: library,
		checker: updater.NewChecker(updater.NewDescriptorClient(""), updater.OSTag(), Version, store, log),
		ready:   metrics.NewReadyServer(),
		log:     log,
		changes: make(chan string, 16),
	}

	watched := 0
	for _, folder := range []string{library.NightdiveFolder(), library.PWADFolder()} {
		if folder == "" || folder == "." {
			continue
		}
		if err := dirWatcher.Add(folder); err != nil {
			log.Warn().Err(err).Str("folder", folder).Msg("Cannot watch folder")
			continue
		}
		log.Info().Str("folder", folder).Msg("Watching folder")
		watched++
	}
	if watched == 0 {
		return errors.New("no watchable library folders, run `renight setup` first")
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		daemon.run(ctx, dirWatcher)
		return nil
	})

	if freq := c.Duration("update-check-freq"); freq > 0 && !c.Bool("no-update-check") {
		group.Go(func() error {
			return daemon.runUpdateChecks(ctx, freq)
		})
	}

	if addr := c.String("status-addr"); addr != "" {
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return errors.Wrap(err, "cannot open the status listener")
		}
		group.Go(func() error {
			return metrics.ServeMetrics(ctx, listener, daemon.ready, log)
		})
	}

	return group.Wait()
}

// watchDaemon owns the long-running scan loop. lastSeen is touched only from
// the run goroutine.
type watchDaemon struct {
	store   *config.Store
	library *mods.Library
	checker *updater.Checker
	ready   *metrics.ReadyServer
	log     *zerolog.Logger

	changes  chan string
	lastSeen map[string]mods.Class
}

// WatcherItemDidChange queues a rescan for a changed path. Called from the
// watcher runloop.
func (d *watchDaemon) WatcherItemDidChange(path string) {
	select {
	case d.changes <- path:
	default:
		// A rescan is already queued, the event adds nothing.
	}
}

func (d *watchDaemon) WatcherDidError(err error) {
	d.log.Error().Err(err).Msg("Filesystem watcher error")
}

func (d *watchDaemon) run(ctx context.Context, dirWatcher *watcher.Dir) {
	go dirWatcher.Start(d)
	defer dirWatcher.Shutdown()

	d.rescan()

	var scanDue <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-d.changes:
			d.log.Debug().Str("path", path).Msg("Library change")
			scanDue = time.After(rescanDebounce)
		case <-scanDue:
			scanDue = nil
			d.rescan()
		}
	}
}

func (d *watchDaemon) rescan() {
	started := time.Now()
	entries := d.library.Scan()
	metrics.LibraryScans.Inc()
	metrics.ScanDuration.Observe(time.Since(started).Seconds())

	counts := map[mods.Class]float64{mods.ClassSymlink: 0, mods.ClassCopy: 0, mods.ClassOnly: 0}
	current := make(map[string]mods.Class, len(entries))
	for _, entry := range entries {
		counts[entry.Class]++
		current[entry.Name] = entry.Class
	}
	for class, count := range counts {
		metrics.LibraryEntries.WithLabelValues(string(class)).Set(count)
	}

	for name, class := range current {
		previous, known := d.lastSeen[name]
		switch {
		case !known:
			d.log.Info().Str("mod", name).Str("class", string(class)).Msg("Mod appeared")
		case previous != class:
			d.log.Info().Str("mod", name).Str("class", string(class)).Msg("Mod reclassified")
		}
	}
	for name := range d.lastSeen {
		if _, still := current[name]; !still {
			d.log.Info().Str("mod", name).Msg("Mod removed")
		}
	}
	d.lastSeen = current

	d.ready.RecordScan(time.Now())
	d.ready.SetReady(true)
	d.log.Debug().Int("entries", len(entries)).Dur("took", time.Since(started)).Msg("Library scanned")
}

// runUpdateChecks drives the silent update check on a fixed cadence. The
// first run is delayed by whatever is left of the interval since the last
// recorded check, so a restarting daemon does not re-check early.
func (d *watchDaemon) runUpdateChecks(ctx context.Context, freq time.Duration) error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return errors.Wrap(err, "cannot create the update check scheduler")
	}

	fatal := make(chan error, 1)
	task := func() {
		if err := d.checkAndStage(ctx); err != nil {
			select {
			case fatal <- err:
			default:
			}
		}
	}

	start := gocron.WithStartAt(gocron.WithStartImmediately())
	lastCheck := time.Unix(int64(d.store.Float64(config.KeyLastUpdateCheck)), 0)
	if wait := freq - time.Since(lastCheck); wait > 0 {
		start = gocron.WithStartAt(gocron.WithStartDateTime(time.Now().Add(wait)))
	}

	if _, err := scheduler.NewJob(gocron.DurationJob(freq), gocron.NewTask(task), start); err != nil {
		return errors.Wrap(err, "cannot schedule update checks")
	}
	scheduler.Start()
	defer func() { _ = scheduler.Shutdown() }()

	d.log.Info().Dur("freq", freq).Msg("Scheduled update checks")
	select {
	case <-ctx.Done():
		return nil
	case err := <-fatal:
		return err
	}
}

// checkAndStage is the unattended version of the update command: an
// available update is staged without a prompt. A non-nil return stops the
// daemon, either for the handoff to a staged binary or because the running
// version may no longer be used.
func (d *watchDaemon) checkAndStage(ctx context.Context) error {
	result := d.checker.Check(ctx, false)
	metrics.UpdateChecks.WithLabelValues(string(result.Outcome)).Inc()

	switch result.Outcome {
	case updater.OutcomeNoUpdate:
		d.log.Debug().Str("version", Version).Msg("Up to date")
	case updater.OutcomeDeprecated:
		d.log.Error().Str("version", Version).Str("required", result.Latest.Version).
			Msg("This version is deprecated, stopping until it is updated")
		return &statusErr{errDeprecated}
	case updater.OutcomeUpdateAvailable:
		if result.Latest.URL == "" {
			d.log.Warn().Str("version", result.Latest.Version).
				Msg("New version has no downloadable payload for this platform")
			return nil
		}
		d.log.Info().Str("version", result.Latest.Version).Msg("Staging update")
		if err := stageUpdate(ctx, d.store, result.Latest, d.log); err != nil {
			d.log.Error().Err(err).Msg("Cannot stage update, will retry at the next check")
			return nil
		}
		return &statusSuccess{newVersion: result.Latest.Version}
	default:
		d.log.Warn().Err(result.Err).Msg("Scheduled update check failed")
	}
	return nil
}
