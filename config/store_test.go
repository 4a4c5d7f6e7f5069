package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), StateFileName)

	s := OpenStore(path)
	s.Set(KeyNightdiveFolder, "/games/doom")
	s.Set(KeySymlinkOption, false)
	s.Set(KeyLastUpdateCheck, 1724563200.0)
	s.Set(KeyUpdateState, "staged")
	s.Set(KeyUpdateStagedExe, "/tmp/stage/ReNight")
	require.NoError(t, s.Save())

	loaded := OpenStore(path)
	assert.Equal(t, "/games/doom", loaded.String(KeyNightdiveFolder))
	assert.False(t, loaded.Bool(KeySymlinkOption, true))
	assert.Equal(t, 1724563200.0, loaded.Float64(KeyLastUpdateCheck))
	assert.Equal(t, "staged", loaded.String(KeyUpdateState))
	assert.Equal(t, "/tmp/stage/ReNight", loaded.String(KeyUpdateStagedExe))
}

func TestStoreMissingFile(t *testing.T) {
	s := OpenStore(filepath.Join(t.TempDir(), "does-not-exist.json"))
	assert.Equal(t, "", s.String(KeyUpdateState))
	assert.True(t, s.Bool(KeySymlinkOption, true))
	assert.Equal(t, 0.0, s.Float64(KeyLastUpdateCheck))
}

func TestStoreCorruptFileDegradesToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), StateFileName)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	s := OpenStore(path)
	assert.Equal(t, "", s.String(KeyUpdateState))

	// The store stays usable and can be saved over the corrupt content.
	s.Set(KeyUpdateState, "copied")
	require.NoError(t, s.Save())
	assert.Equal(t, "copied", OpenStore(path).String(KeyUpdateState))
}

func TestStoreNonObjectContentDegradesToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), StateFileName)
	require.NoError(t, os.WriteFile(path, []byte(`["list","not","object"]`), 0644))

	s := OpenStore(path)
	assert.Equal(t, "", s.String(KeyUpdateVersion))
}

func TestStoreWrongTypeFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), StateFileName)
	s := OpenStore(path)
	s.Set(KeySnoozedVersion, 42)
	s.Set(KeySymlinkOption, "yes")

	assert.Equal(t, "", s.String(KeySnoozedVersion))
	assert.True(t, s.Bool(KeySymlinkOption, true))
}

func TestStoreSaveCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", StateFileName)
	s := OpenStore(path)
	s.Set(KeyPWADFolder, "/wads")
	require.NoError(t, s.Save())

	assert.Equal(t, "/wads", OpenStore(path).String(KeyPWADFolder))
}

func TestStoreDelete(t *testing.T) {
	s := OpenStore(filepath.Join(t.TempDir(), StateFileName))
	s.Set(KeySnoozedVersion, "1.2")
	s.Delete(KeySnoozedVersion)
	assert.Equal(t, "", s.String(KeySnoozedVersion))
}
