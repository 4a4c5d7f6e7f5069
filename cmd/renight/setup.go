package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/Retzilience/ReNight/cmd/renight/cliutil"
	"github.com/Retzilience/ReNight/config"
	"github.com/Retzilience/ReNight/mods"
)

func setupCommand() *cli.Command {
	return &cli.Command{
		Name:      "setup",
		Action:    cliutil.Action(setupHandler),
		Usage:     "Configure the library folders and the import mode",
		ArgsUsage: " ",
		Description: `Stores the Nightdive game folder, the PWAD folder and the import mode in
the state store. Run without flags it prints the current settings.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "nightdive-folder",
				Usage: "Folder the Nightdive port loads WADs from.",
			},
			&cli.StringFlag{
				Name:  "pwad-folder",
				Usage: "Folder your PWAD collection lives in.",
			},
			&cli.BoolFlag{
				Name:  "symlink",
				Usage: "Import WADs as symlinks into the PWAD folder.",
			},
			&cli.BoolFlag{
				Name:  "copy",
				Usage: "Import WADs as copies.",
			},
		},
	}
}

func setupHandler(c *cli.Context) error {
	store, err := config.OpenDefaultStore()
	if err != nil {
		return errors.Wrap(err, "cannot open the state store")
	}

	changed := false
	if folder := c.String("nightdive-folder"); folder != "" {
		store.Set(config.KeyNightdiveFolder, folder)
		changed = true
	}
	if folder := c.String("pwad-folder"); folder != "" {
		store.Set(config.KeyPWADFolder, folder)
		changed = true
	}
	switch {
	case c.Bool("symlink") && c.Bool("copy"):
		return errors.New("--symlink and --copy are mutually exclusive")
	case c.Bool("symlink"):
		store.Set(config.KeySymlinkOption, true)
		changed = true
	case c.Bool("copy"):
		store.Set(config.KeySymlinkOption, false)
		changed = true
	}

	if changed {
		if err := store.Save(); err != nil {
			return errors.Wrap(err, "cannot save settings")
		}
	}

	nightdiveFolder := store.String(config.KeyNightdiveFolder)
	if nightdiveFolder == "" {
		nightdiveFolder = mods.DefaultNightdiveFolder()
	}
	importMode := "copy"
	if store.Bool(config.KeySymlinkOption, true) {
		importMode = "symlink"
	}

	fmt.Printf("Nightdive folder: %s\n", nightdiveFolder)
	fmt.Printf("PWAD folder:      %s\n", store.String(config.KeyPWADFolder))
	fmt.Printf("Import mode:      %s\n", importMode)
	fmt.Printf("Settings file:    %s\n", store.Path())
	return nil
}
