// Package watcher reports evdev nodes appearing and disappearing so
// tablets plugged in after startup are picked up.
package watcher

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDir is where the kernel creates evdev nodes.
const DefaultDir = "/dev/input"

// Op is what happened to a node.
type Op int

const (
	Added Op = iota
	Removed
)

func (o Op) String() string {
	if o == Removed {
		return "removed"
	}
	return "added"
}

// Event reports one node.
type Event struct {
	Path      string
	Op        Op
	Timestamp time.Time
}

// Watcher monitors a device directory. A new node is reported only after
// it stopped changing for the settle interval: udev adjusts ownership and
// mode right after the kernel creates it.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	dir       string
	settle    time.Duration

	// path -> last change
	pending   map[string]time.Time
	pendingMu sync.Mutex

	events chan Event
	errors chan error

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a watcher for dir. settle <= 0 selects 500ms.
func New(dir string, settle time.Duration) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if settle <= 0 {
		settle = 500 * time.Millisecond
	}
	return &Watcher{
		fsWatcher: fsWatcher,
		dir:       dir,
		settle:    settle,
		pending:   make(map[string]time.Time),
		events:    make(chan Event, 16),
		errors:    make(chan error, 4),
		done:      make(chan struct{}),
	}, nil
}

// Events returns the channel of node events.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel of watch errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// IsEventNode reports whether name is an evdev event node.
func IsEventNode(name string) bool {
	base := filepath.Base(name)
	if !strings.HasPrefix(base, "event") || len(base) == len("event") {
		return false
	}
	for _, r := range base[len("event"):] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Existing lists the event nodes present in dir, sorted.
func (w *Watcher) Existing() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && IsEventNode(e.Name()) {
			paths = append(paths, filepath.Join(w.dir, e.Name()))
		}
	}
	slices.Sort(paths)
	return paths, nil
}

// Start begins watching.
func (w *Watcher) Start() error {
	if err := w.fsWatcher.Add(w.dir); err != nil {
		return err
	}
	w.wg.Add(2)
	go w.eventLoop()
	go w.settleLoop()
	return nil
}

// Stop shuts the watcher down and closes its channels.
func (w *Watcher) Stop() error {
	close(w.done)
	w.wg.Wait()
	close(w.events)
	close(w.errors)
	return w.fsWatcher.Close()
}

// Pending returns how many new nodes are waiting to settle.
func (w *Watcher) Pending() int {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	return len(w.pending)
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !IsEventNode(event.Name) {
				continue
			}
			switch {
			case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
				w.pendingMu.Lock()
				_, waiting := w.pending[event.Name]
				delete(w.pending, event.Name)
				w.pendingMu.Unlock()
				// A node that never settled was never reported.
				if !waiting {
					w.emit(Event{Path: event.Name, Op: Removed, Timestamp: time.Now()})
				}
			case event.Has(fsnotify.Create) || event.Has(fsnotify.Chmod) || event.Has(fsnotify.Write):
				w.pendingMu.Lock()
				if _, waiting := w.pending[event.Name]; waiting || event.Has(fsnotify.Create) {
					w.pending[event.Name] = time.Now()
				}
				w.pendingMu.Unlock()
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

func (w *Watcher) settleLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(max(w.settle/4, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case now := <-ticker.C:
			for _, path := range w.settled(now) {
				w.emit(Event{Path: path, Op: Added, Timestamp: now})
			}
		}
	}
}

// settled removes and returns the nodes unchanged for the settle interval.
func (w *Watcher) settled(now time.Time) []string {
	threshold := now.Add(-w.settle)

	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	var ready []string
	for path, last := range w.pending {
		if last.Before(threshold) {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	slices.Sort(ready)
	return ready
}

func (w *Watcher) emit(ev Event) {
	select {
	case w.events <- ev:
	case <-w.done:
	}
}
