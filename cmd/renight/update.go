package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/Retzilience/ReNight/cmd/renight/cliutil"
	"github.com/Retzilience/ReNight/cmd/renight/updater"
	"github.com/Retzilience/ReNight/config"
	"github.com/Retzilience/ReNight/logger"
	"github.com/Retzilience/ReNight/metrics"
)

var errDeprecated = errors.New("the running version is deprecated and must be updated")

// statusSuccess implements the ExitCoder interface; the app exits with status
// code 11 after handing off to a staged binary.
// https://pkg.go.dev/github.com/urfave/cli/v2?tab=doc#ExitCoder
type statusSuccess struct {
	newVersion string
}

func (u *statusSuccess) Error() string {
	return fmt.Sprintf("renight staged an update to version %s", u.newVersion)
}

func (u *statusSuccess) ExitCode() int {
	return 11
}

// statusErr implements the ExitCoder interface; the app exits with status
// code 10 when an update was needed but could not be staged.
type statusErr struct {
	err error
}

func (e *statusErr) Error() string {
	return fmt.Sprintf("failed to update renight: %v", e.err)
}

func (e *statusErr) ExitCode() int {
	return 10
}

func updateCommand() *cli.Command {
	return &cli.Command{
		Name:      "update",
		Action:    cliutil.Action(updateHandler),
		Usage:     "Check for a new version and stage it",
		ArgsUsage: " ",
		Description: `Fetches the release descriptor and compares it against the running
version. When a newer release exists, downloads its payload, stages the
new binary and hands off to it; the staged binary copies itself over
this executable and restarts from the permanent location.

To determine if an update was staged in a script, check for exit code 11.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "check",
				Usage: "Report the check outcome without staging anything.",
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Offer the newest version even if it was snoozed earlier.",
			},
			&cli.BoolFlag{
				Name:  "yes",
				Usage: "Accept an available update without prompting.",
			},
		},
	}
}

func updateHandler(c *cli.Context) error {
	log := logger.CreateLoggerFromContext(c, logger.EnableTerminalLog)

	store, err := config.OpenDefaultStore()
	if err != nil {
		return errors.Wrap(err, "cannot open the state store")
	}

	checker := updater.NewChecker(updater.NewDescriptorClient(""), updater.OSTag(), Version, store, log)
	result := checker.Check(c.Context, c.Bool("force"))
	metrics.UpdateChecks.WithLabelValues(string(result.Outcome)).Inc()

	switch result.Outcome {
	case updater.OutcomeNoUpdate:
		fmt.Printf("renight is up to date (%s)\n", Version)
		return nil
	case updater.OutcomeDeprecated:
		return handleDeprecated(c, store, result.Latest, log)
	case updater.OutcomeUpdateAvailable:
		return handleUpdateAvailable(c, store, checker, result.Latest, log)
	default:
		return &statusErr{result.Err}
	}
}

func handleUpdateAvailable(c *cli.Context, store *config.Store, checker *updater.Checker, latest *updater.UpdateEntry, log *zerolog.Logger) error {
	fmt.Printf("A new ReNight version %s is available.\n", latest.Version)
	fmt.Printf("You are currently running %s.\n", Version)

	if c.Bool("check") {
		return nil
	}
	if !c.Bool("yes") {
		if !isRunningFromTerminal() {
			fmt.Println("Run `renight update --yes` to stage it.")
			return nil
		}
		switch promptChoice("Update now [u], open the releases page [r], or decide later [l]?", "url", 'u') {
		case 'l':
			maybeSnooze(checker, latest.Version)
			return nil
		case 'r':
			openReleasesPage(log)
			maybeSnooze(checker, latest.Version)
			return nil
		}
	}

	if latest.URL == "" {
		// Nothing to download for this platform; point at the releases page.
		fmt.Printf("This release has no direct download; opening %s\n", updater.ReleasesURL)
		openReleasesPage(log)
		return nil
	}

	if err := stageUpdate(c.Context, store, latest, log); err != nil {
		return &statusErr{err}
	}
	fmt.Println("The updated ReNight binary has been started. This instance will now exit.")
	return &statusSuccess{newVersion: latest.Version}
}

func handleDeprecated(c *cli.Context, store *config.Store, latest *updater.UpdateEntry, log *zerolog.Logger) error {
	fmt.Printf("This version (%s) has been marked as deprecated.\n", Version)
	fmt.Printf("You must update to version %s to continue using ReNight.\n", latest.Version)

	if c.Bool("check") {
		return nil
	}
	if !c.Bool("yes") {
		if !isRunningFromTerminal() {
			return &statusErr{errDeprecated}
		}
		switch promptChoice("Update now [u], open the releases page [r], or quit [q]?", "urq", 'u') {
		case 'r':
			openReleasesPage(log)
			return &statusErr{errDeprecated}
		case 'q':
			return &statusErr{errDeprecated}
		}
	}

	if latest.URL == "" {
		fmt.Printf("This release has no direct download; opening %s\n", updater.ReleasesURL)
		openReleasesPage(log)
		return &statusErr{errDeprecated}
	}

	if err := stageUpdate(c.Context, store, latest, log); err != nil {
		return &statusErr{err}
	}
	fmt.Println("The updated ReNight binary has been started. This instance will now exit.")
	return &statusSuccess{newVersion: latest.Version}
}

// stageUpdate downloads the release payload, extracts it when it is an
// archive, and records the staging handshake. When it returns nil the staged
// binary is already running and the caller must exit promptly.
func stageUpdate(ctx context.Context, store *config.Store, latest *updater.UpdateEntry, log *zerolog.Logger) error {
	updatesRoot, err := config.UpdatesDirectory()
	if err != nil {
		return errors.Wrap(err, "cannot locate the updates directory")
	}

	download, err := updater.NewStager(updatesRoot, log).Download(ctx, latest.URL, latest.Version)
	if err != nil {
		return err
	}
	metrics.Downloads.Inc()
	metrics.DownloadBytes.Add(float64(download.Size))

	stagedExe := download.Path
	stageDir := ""
	if updater.IsArchivePath(download.Path) {
		stageDir = filepath.Join(updatesRoot, updater.StageDirName(latest.Version, time.Now()))
		result := <-updater.ExtractAsync(download.Path, stageDir)
		if result.Err != nil {
			return result.Err
		}
		stagedExe = result.ExecPath
	}

	handshake := updater.NewHandshake(store, updater.NewPlatform(), log)
	return handshake.Stage(latest.Version, stagedExe, stageDir, download.Path)
}

func openReleasesPage(log *zerolog.Logger) {
	if err := updater.NewPlatform().OpenURL(updater.ReleasesURL); err != nil {
		log.Warn().Err(err).Str("url", updater.ReleasesURL).Msg("Cannot open the releases page")
	}
}

func maybeSnooze(checker *updater.Checker, version string) {
	if promptYesNo("Skip this version from now on?") {
		checker.Snooze(version)
	}
}

var stdin = bufio.NewReader(os.Stdin)

// promptChoice asks until one of the allowed letters (or an empty line,
// meaning the default) is entered.
func promptChoice(prompt, allowed string, fallback rune) rune {
	for {
		fmt.Printf("%s ", prompt)
		line, err := stdin.ReadString('\n')
		if err != nil {
			return fallback
		}
		line = strings.TrimSpace(strings.ToLower(line))
		if line == "" {
			return fallback
		}
		if choice := rune(line[0]); strings.ContainsRune(allowed, choice) {
			return choice
		}
	}
}

func promptYesNo(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	line, err := stdin.ReadString('\n')
	if err != nil {
		return false
	}
	line = strings.TrimSpace(strings.ToLower(line))
	return line == "y" || line == "yes"
}

func isRunningFromTerminal() bool {
	return terminal.IsTerminal(int(os.Stdout.Fd()))
}
