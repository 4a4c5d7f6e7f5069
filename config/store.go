package config

import (
	"os"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Keys persisted in the state store. The update_* group belongs to the
// self-update handshake and is only ever mutated as a unit.
const (
	KeyNightdiveFolder = "nightdive_folder"
	KeyPWADFolder      = "pwad_folder"
	KeySymlinkOption   = "symlink_option"
	KeyLastUpdateCheck = "last_update_check"
	KeySnoozedVersion  = "snoozed_version"

	KeyUpdateState      = "update_state"
	KeyUpdateVersion    = "update_version"
	KeyUpdateOldExe     = "update_old_exe"
	KeyUpdateStagedExe  = "update_staged_exe"
	KeyUpdateStageDir   = "update_stage_dir"
	KeyUpdateArchive    = "update_archive"
	KeyUpdateCleanupExe = "update_cleanup_exe"
)

// Store is the persisted key-value state shared by the mod library and the
// update handshake. It is the only channel between process generations, so
// loads degrade to an empty map rather than failing: a corrupt or missing
// file means "no pending update", never an error.
type Store struct {
	path string

	mu   sync.Mutex
	data map[string]interface{}
}

// OpenDefaultStore opens the state store at its per-user location.
func OpenDefaultStore() (*Store, error) {
	dir, err := ConfigDirectory()
	if err != nil {
		return nil, err
	}
	return OpenStore(filepath.Join(dir, StateFileName)), nil
}

// OpenStore loads the store at path. Missing or unreadable content yields an
// empty store bound to the same path.
func OpenStore(path string) *Store {
	s := &Store{
		path: path,
		data: make(map[string]interface{}),
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return s
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil || data == nil {
		return s
	}
	s.data = data
	return s
}

// Path returns the location the store persists to.
func (s *Store) Path() string {
	return s.path
}

// String returns the value for key, or "" when absent or not a string.
func (s *Store) String(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.data[key].(string); ok {
		return v
	}
	return ""
}

// Bool returns the value for key, or fallback when absent or not a bool.
func (s *Store) Bool(key string, fallback bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.data[key].(bool); ok {
		return v
	}
	return fallback
}

// Float64 returns the value for key, or 0 when absent. JSON numbers decode
// as float64, so this covers the numeric keys.
func (s *Store) Float64(key string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch v := s.data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// Set records a value for key in memory. Call Save to persist.
func (s *Store) Set(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// Delete removes key from the store in memory.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

// Save writes the store back to disk.
func (s *Store) Save() error {
	s.mu.Lock()
	raw, err := json.MarshalIndent(s.data, "", "    ")
	s.mu.Unlock()
	if err != nil {
		return errors.Wrap(err, "cannot encode state")
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(err, "cannot create state directory")
		}
	}
	if err := os.WriteFile(s.path, raw, 0644); err != nil {
		return errors.Wrap(err, "cannot write state")
	}
	return nil
}
