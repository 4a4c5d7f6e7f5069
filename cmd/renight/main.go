package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"
	_ "go.uber.org/automaxprocs"

	"github.com/Retzilience/ReNight/cmd/renight/cliutil"
	"github.com/Retzilience/ReNight/cmd/renight/updater"
	"github.com/Retzilience/ReNight/config"
	"github.com/Retzilience/ReNight/logger"
	"github.com/Retzilience/ReNight/metrics"
)

const versionText = "Print the version"

var (
	Version   = "DEV"
	BuildTime = "unknown"
)

func main() {
	// The staged-update handshake must run to completion before anything
	// else reads the state store or touches the executable on disk. When it
	// reports a handoff, another process generation owns the session now.
	if resumeUpdateHandshake() {
		return
	}

	metrics.RegisterBuildInfo(Version, BuildTime)
	updater.Init(cliutil.GetBuildInfo(Version).UserAgent())

	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"v", "V"},
		Usage:   versionText,
	}

	app := &cli.App{}
	app.Name = "renight"
	app.Usage = "WAD library manager and self-updater for the Nightdive DOOM port"
	app.UsageText = "renight [global options] [command] [command options]"
	app.Version = fmt.Sprintf("%s (built %s)", Version, BuildTime)
	app.Description = `renight imports PWADs into the Nightdive source port's game folder, keeps
	track of where each one came from, and keeps its own binary current against
	the published release descriptor.`
	app.Flags = flags()
	app.Commands = commands(cli.ShowVersion)

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resumeUpdateHandshake runs the startup half of a staged self-update. The
// return value is true when control was handed to another process generation
// and this one must exit without doing anything else.
func resumeUpdateHandshake() bool {
	log := logger.Create(nil)
	store, err := config.OpenDefaultStore()
	if err != nil {
		log.Warn().Err(err).Msg("Cannot open the state store, skipping the update handshake")
		return false
	}
	return updater.NewHandshake(store, updater.NewPlatform(), log).Resume()
}

func commands(version func(c *cli.Context)) []*cli.Command {
	return []*cli.Command{
		setupCommand(),
		importCommand(),
		listCommand(),
		deleteCommand(),
		updateCommand(),
		watchCommand(),
		{
			Name: "version",
			Action: func(c *cli.Context) (err error) {
				version(c)
				return nil
			},
			Usage:       versionText,
			Description: versionText,
		},
	}
}

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "Specifies a config file in YAML format.",
			Value: config.FindDefaultConfigPath(),
		},
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    logger.LogLevelFlag,
			Value:   "info",
			Usage:   "Application logging level {debug, info, warn, error, fatal}.",
			EnvVars: []string{"RENIGHT_LOGLEVEL"},
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    logger.LogFileFlag,
			Usage:   "Save application log to this file. File-level logging is JSON formatted.",
			EnvVars: []string{"RENIGHT_LOGFILE"},
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    logger.LogDirectoryFlag,
			Usage:   "Save application log to this directory with a rolling file.",
			EnvVars: []string{"RENIGHT_LOGDIRECTORY"},
		}),
	}
}
