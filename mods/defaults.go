package mods

import (
	"os"
	"path/filepath"
	"runtime"

	homedir "github.com/mitchellh/go-homedir"
)

const (
	kexConfigName  = "kexengine.cfg"
	doomSteamAppID = "2280"
)

// DefaultNightdiveFolder guesses where the Nightdive port keeps its DOOM
// folder. On Windows that is the Saved Games location; on Linux the Proton
// compatdata tree is probed for an install carrying the kex engine config,
// falling back to the Windows-style path under the home directory for
// non-Steam Wine setups.
func DefaultNightdiveFolder() string {
	home, err := homedir.Dir()
	if err != nil {
		home = "."
	}
	if runtime.GOOS == "linux" {
		if path := protonNightdiveFolder(home); path != "" {
			return path
		}
	}
	return filepath.Join(home, "Saved Games", "Nightdive Studios", "DOOM")
}

func protonNightdiveFolder(home string) string {
	compatRoot := filepath.Join(home, ".local", "share", "Steam", "steamapps", "compatdata")

	// The canonical appid first, then any prefix that looks right.
	if path := compatdataDoomFolder(compatRoot, doomSteamAppID); path != "" {
		return path
	}
	entries, err := os.ReadDir(compatRoot)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if path := compatdataDoomFolder(compatRoot, entry.Name()); path != "" {
			return path
		}
	}
	return ""
}

func compatdataDoomFolder(compatRoot, appID string) string {
	base := filepath.Join(
		compatRoot, appID,
		"pfx", "drive_c", "users", "steamuser",
		"Saved Games", "Nightdive Studios", "DOOM",
	)
	if !dirExists(base) {
		return ""
	}
	if !fileExists(filepath.Join(base, kexConfigName)) {
		return ""
	}
	return base
}
