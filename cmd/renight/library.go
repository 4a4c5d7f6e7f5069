package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/Retzilience/ReNight/cmd/renight/cliutil"
	"github.com/Retzilience/ReNight/config"
	"github.com/Retzilience/ReNight/logger"
	"github.com/Retzilience/ReNight/mods"
)

const hashCacheFileName = "hashcache.db"

func importCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Action:    cliutil.Action(importHandler),
		Usage:     "Import WADs into the Nightdive folder",
		ArgsUsage: "WAD [WAD...]",
		Description: `Brings the given WADs into the Nightdive folder, as symlinks or copies
depending on the configured import mode. A copy colliding with a
different file of the same name gets a suffixed name instead of
replacing it.`,
	}
}

func importHandler(c *cli.Context) error {
	log := logger.CreateLoggerFromContext(c, logger.EnableTerminalLog)
	library, closeLibrary, err := openDefaultLibrary(log)
	if err != nil {
		return err
	}
	defer closeLibrary()

	result := library.Import(c.Args().Slice())
	for _, message := range result.Messages {
		fmt.Println(message)
	}
	if result.AnyFailure {
		return cli.Exit("", 1)
	}
	return nil
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Action:    cliutil.Action(listHandler),
		Usage:     "List the WADs in the Nightdive folder",
		ArgsUsage: " ",
		Description: `Scans the Nightdive folder and prints every entry with its
classification: (SL) symlinked, (CPY) copied from a known source,
(ONL) present only in the Nightdive folder.`,
	}
}

func listHandler(c *cli.Context) error {
	log := logger.CreateLoggerFromContext(c, logger.EnableTerminalLog)
	library, closeLibrary, err := openDefaultLibrary(log)
	if err != nil {
		return err
	}
	defer closeLibrary()

	entries := library.Scan()
	if len(entries) == 0 {
		fmt.Println("No mods found.")
		return nil
	}
	for _, entry := range entries {
		fmt.Printf("%s %s\n", entry.Class, entry.Name)
	}
	return nil
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Action:    cliutil.Action(deleteHandler),
		Usage:     "Delete WADs from the Nightdive folder",
		ArgsUsage: "NAME [NAME...]",
		Description: `Removes the named entries from the Nightdive folder together with their
recorded metadata. Sources in the PWAD folder are never touched.`,
	}
}

func deleteHandler(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("specify at least one mod name to delete")
	}

	log := logger.CreateLoggerFromContext(c, logger.EnableTerminalLog)
	library, closeLibrary, err := openDefaultLibrary(log)
	if err != nil {
		return err
	}
	defer closeLibrary()

	for _, message := range library.Delete(c.Args().Slice()) {
		fmt.Println(message)
	}
	return nil
}

// openDefaultLibrary builds the mod library from the persisted settings. The
// returned closer flushes the digest cache.
func openDefaultLibrary(log *zerolog.Logger) (*mods.Library, func(), error) {
	store, err := config.OpenDefaultStore()
	if err != nil {
		return nil, nil, errors.Wrap(err, "cannot open the state store")
	}
	return openLibrary(store, log)
}

func openLibrary(store *config.Store, log *zerolog.Logger) (*mods.Library, func(), error) {
	configDir, err := config.ConfigDirectory()
	if err != nil {
		return nil, nil, errors.Wrap(err, "cannot locate the config directory")
	}

	nightdiveFolder := store.String(config.KeyNightdiveFolder)
	if nightdiveFolder == "" {
		nightdiveFolder = mods.DefaultNightdiveFolder()
	}

	hashes := openHashCache(log)
	library := mods.NewLibrary(mods.Options{
		NightdiveFolder: nightdiveFolder,
		PWADFolder:      store.String(config.KeyPWADFolder),
		Symlink:         store.Bool(config.KeySymlinkOption, true),
		MetadataPath:    filepath.Join(configDir, config.ModDBFileName),
		Hashes:          hashes,
		Log:             log,
	})
	return library, func() { _ = hashes.Close() }, nil
}

// openHashCache opens the persistent digest cache, degrading to a memory-only
// cache when the data directory is unavailable.
func openHashCache(log *zerolog.Logger) *mods.HashCache {
	dataDir, err := config.DataDirectory()
	if err == nil {
		err = os.MkdirAll(dataDir, 0755)
	}
	if err == nil {
		var cache *mods.HashCache
		if cache, err = mods.OpenHashCache(filepath.Join(dataDir, hashCacheFileName)); err == nil {
			return cache
		}
	}
	log.Warn().Err(err).Msg("Cannot open the digest cache, hashing without one")
	cache, _ := mods.OpenHashCache("")
	return cache
}
