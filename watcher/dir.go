package watcher

import (
	"github.com/fsnotify/fsnotify"
)

// Notification is the delegate methods from the Notifier
type Notification interface {
	WatcherItemDidChange(string)
	WatcherDidError(error)
}

// Notifier is the base interface for filesystem watching
type Notifier interface {
	Start(Notification)
	Add(string) error
	Shutdown()
}

// changeOps are the operations that mean a watched folder's contents moved
// under us. Chmod is deliberately excluded; it fires for metadata-only
// touches that don't change what a library scan would see.
const changeOps = fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename

// Dir is a directory watcher that notifies when entries inside watched
// directories are created, written, removed or renamed.
type Dir struct {
	watcher  *fsnotify.Watcher
	shutdown chan struct{}
}

// NewDir is a standard constructor
func NewDir() (*Dir, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	d := &Dir{
		watcher:  watcher,
		shutdown: make(chan struct{}),
	}
	return d, nil
}

// Add adds a directory to start watching
func (d *Dir) Add(path string) error {
	return d.watcher.Add(path)
}

// Shutdown stops the watching run loop
func (d *Dir) Shutdown() {
	// don't block if Start quit early
	select {
	case d.shutdown <- struct{}{}:
	default:
	}
}

// Start is a runloop delivering change events for the directories added
// with Add()
func (d *Dir) Start(notifier Notification) {
	for {
		select {
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&changeOps != 0 {
				notifier.WatcherItemDidChange(event.Name)
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			notifier.WatcherDidError(err)

		case <-d.shutdown:
			d.watcher.Close()
			return
		}
	}
}
