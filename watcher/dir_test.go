//go:build !windows
// +build !windows

package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockNotifier struct {
	mu         sync.Mutex
	eventPaths []string
}

func (n *mockNotifier) WatcherItemDidChange(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.eventPaths = append(n.eventPaths, path)
}

func (n *mockNotifier) WatcherDidError(err error) {
}

func (n *mockNotifier) paths() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.eventPaths...)
}

func TestDirChanged(t *testing.T) {
	dir := t.TempDir()

	service, err := NewDir()
	require.NoError(t, err)

	err = service.Add(dir)
	require.NoError(t, err)

	n := &mockNotifier{}
	go service.Start(n)

	wadPath := filepath.Join(dir, "test.wad")
	require.NoError(t, os.WriteFile(wadPath, []byte("PWAD"), 0644))

	// give it time to trigger
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, os.Remove(wadPath))
	time.Sleep(20 * time.Millisecond)
	service.Shutdown()

	paths := n.paths()
	assert.Contains(t, paths, wadPath, "notifier didn't get events for the new and removed file")
}
