package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	yaml "gopkg.in/yaml.v3"
)

var (
	// DefaultConfigFiles is the file names from which we attempt to read flag defaults.
	DefaultConfigFiles = []string{"config.yml", "config.yaml"}

	ErrNoConfigFile = fmt.Errorf("no config file %v found in the ReNight config directory", DefaultConfigFiles)
)

const (
	// StateFileName is the JSON key-value store shared with every prior
	// release; its key names must stay stable so configs round-trip.
	StateFileName = "ReNight_config.json"

	// ModDBFileName holds mod metadata keyed by file name in the Nightdive folder.
	ModDBFileName = "ReNight_mods.json"

	appDirName = "ReNight"
)

// ConfigDirectory returns the per-user directory for configuration and state.
// Windows: %APPDATA%\ReNight, elsewhere: ~/.config/ReNight.
func ConfigDirectory() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", errors.Wrap(err, "cannot determine home directory")
	}
	if runtime.GOOS == "windows" {
		base := os.Getenv("APPDATA")
		if base == "" {
			base = home
		}
		return filepath.Join(base, appDirName), nil
	}
	return filepath.Join(home, ".config", appDirName), nil
}

// DataDirectory returns the per-user directory for data (updates, caches).
// Windows: %LOCALAPPDATA%\ReNight, elsewhere: ~/.local/share/ReNight.
func DataDirectory() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", errors.Wrap(err, "cannot determine home directory")
	}
	if runtime.GOOS == "windows" {
		base := os.Getenv("LOCALAPPDATA")
		if base == "" {
			base = home
		}
		return filepath.Join(base, appDirName), nil
	}
	return filepath.Join(home, ".local", "share", appDirName), nil
}

// UpdatesDirectory returns the transient directory that holds downloaded
// release payloads and their extraction roots.
func UpdatesDirectory() (string, error) {
	dataDir, err := DataDirectory()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "updates"), nil
}

// FileExists checks to see if a file exist at the provided path.
func FileExists(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// ignore missing files
			return false, nil
		}
		return false, err
	}
	_ = f.Close()
	return true, nil
}

// FindDefaultConfigPath returns the first config file found in the ReNight
// config directory, or empty string if there is none.
func FindDefaultConfigPath() string {
	dir, err := ConfigDirectory()
	if err != nil {
		return ""
	}
	for _, configFile := range DefaultConfigFiles {
		path := filepath.Join(dir, configFile)
		if ok, _ := FileExists(path); ok {
			return path
		}
	}
	return ""
}

// configFileSettings exposes the config file to altsrc so flags not given on
// the command line pick up their file-configured values.
type configFileSettings struct {
	settings   map[string]interface{}
	sourceFile string
}

func (c *configFileSettings) Source() string {
	return c.sourceFile
}

func (c *configFileSettings) Int(name string) (int, error) {
	if raw, ok := c.settings[name]; ok {
		if v, ok := raw.(int); ok {
			return v, nil
		}
		return 0, fmt.Errorf("expected int found %T for %s", raw, name)
	}
	return 0, nil
}

func (c *configFileSettings) Duration(name string) (time.Duration, error) {
	if raw, ok := c.settings[name]; ok {
		switch v := raw.(type) {
		case time.Duration:
			return v, nil
		case string:
			return time.ParseDuration(v)
		}
		return 0, fmt.Errorf("expected duration found %T for %s", raw, name)
	}
	return 0, nil
}

func (c *configFileSettings) Float64(name string) (float64, error) {
	if raw, ok := c.settings[name]; ok {
		if v, ok := raw.(float64); ok {
			return v, nil
		}
		return 0, fmt.Errorf("expected float found %T for %s", raw, name)
	}
	return 0, nil
}

func (c *configFileSettings) String(name string) (string, error) {
	if raw, ok := c.settings[name]; ok {
		if v, ok := raw.(string); ok {
			return v, nil
		}
		return "", fmt.Errorf("expected string found %T for %s", raw, name)
	}
	return "", nil
}

func (c *configFileSettings) StringSlice(name string) ([]string, error) {
	if raw, ok := c.settings[name]; ok {
		if slice, ok := raw.([]interface{}); ok {
			strSlice := make([]string, len(slice))
			for i, v := range slice {
				str, ok := v.(string)
				if !ok {
					return nil, fmt.Errorf("expected string, found %T for %v", v, v)
				}
				strSlice[i] = str
			}
			return strSlice, nil
		}
		return nil, fmt.Errorf("expected string slice found %T for %s", raw, name)
	}
	return nil, nil
}

func (c *configFileSettings) IntSlice(name string) ([]int, error) {
	if raw, ok := c.settings[name]; ok {
		if slice, ok := raw.([]interface{}); ok {
			intSlice := make([]int, len(slice))
			for i, v := range slice {
				n, ok := v.(int)
				if !ok {
					return nil, fmt.Errorf("expected int, found %T for %v", v, v)
				}
				intSlice[i] = n
			}
			return intSlice, nil
		}
		if v, ok := raw.([]int); ok {
			return v, nil
		}
		return nil, fmt.Errorf("expected int slice found %T for %s", raw, name)
	}
	return nil, nil
}

func (c *configFileSettings) Generic(name string) (cli.Generic, error) {
	return nil, errors.New("option type Generic not supported")
}

func (c *configFileSettings) Bool(name string) (bool, error) {
	if raw, ok := c.settings[name]; ok {
		if v, ok := raw.(bool); ok {
			return v, nil
		}
		return false, fmt.Errorf("expected boolean found %T for %s", raw, name)
	}
	return false, nil
}

var configuration configFileSettings

// ReadConfigFile returns the parsed config file for altsrc flag resolution.
// On repeat calls it returns the cached parse; if the value of the "config"
// flag changes, the new file is read instead.
func ReadConfigFile(c *cli.Context, log *zerolog.Logger) (*configFileSettings, error) {
	configFile := c.String("config")
	if configFile == "" {
		configFile = FindDefaultConfigPath()
	}
	if configuration.Source() == configFile || configFile == "" {
		if configuration.Source() == "" {
			return nil, ErrNoConfigFile
		}
		return &configuration, nil
	}

	log.Debug().Msgf("Loading configuration from %s", configFile)
	file, err := os.Open(configFile)
	if err != nil {
		if os.IsNotExist(err) {
			err = ErrNoConfigFile
		}
		return nil, err
	}
	defer file.Close()

	configuration.settings = make(map[string]interface{})
	if err := yaml.NewDecoder(file).Decode(&configuration.settings); err != nil {
		if err == io.EOF {
			log.Error().Msgf("Configuration file %s was empty", configFile)
			return &configuration, nil
		}
		return nil, errors.Wrap(err, "error parsing YAML in config file at "+configFile)
	}
	configuration.sourceFile = configFile
	return &configuration, nil
}
