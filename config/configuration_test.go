package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func testContext(t *testing.T, configPath string) *cli.Context {
	set := flag.NewFlagSet("test", 0)
	set.String("config", configPath, "")
	return cli.NewContext(cli.NewApp(), set, nil)
}

func TestReadConfigFileSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	content := `
nightdive-folder: /games/doom
symlink: true
check-interval: 6h
status-addr: 127.0.0.1:8125
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	log := zerolog.Nop()
	settings, err := ReadConfigFile(testContext(t, path), &log)
	require.NoError(t, err)
	assert.Equal(t, path, settings.Source())

	folder, err := settings.String("nightdive-folder")
	require.NoError(t, err)
	assert.Equal(t, "/games/doom", folder)

	symlink, err := settings.Bool("symlink")
	require.NoError(t, err)
	assert.True(t, symlink)

	interval, err := settings.Duration("check-interval")
	require.NoError(t, err)
	assert.Equal(t, 6*time.Hour, interval)

	missing, err := settings.String("no-such-key")
	require.NoError(t, err)
	assert.Equal(t, "", missing)
}

func TestReadConfigFileWrongType(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("symlink: [not, a, bool]\n"), 0644))

	log := zerolog.Nop()
	settings, err := ReadConfigFile(testContext(t, path), &log)
	require.NoError(t, err)

	_, err = settings.Bool("symlink")
	assert.Error(t, err)
}

func TestReadConfigFileMissing(t *testing.T) {
	log := zerolog.Nop()
	_, err := ReadConfigFile(testContext(t, filepath.Join(t.TempDir(), "config.yml")), &log)
	assert.Equal(t, ErrNoConfigFile, err)
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "present")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	ok, err := FileExists(path)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = FileExists(filepath.Join(dir, "absent"))
	require.NoError(t, err)
	assert.False(t, ok)
}
