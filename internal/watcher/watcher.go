// Package watcher turns filesystem events in the vault into document sync
// events, debounced so a burst of editor saves becomes one event.
package watcher

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kimvales/vaultsync/internal/errors"
	"github.com/kimvales/vaultsync/internal/logging"
	"github.com/kimvales/vaultsync/internal/task"
)

// Event is one debounced vault change, identified by the document's
// vault-relative path.
type Event struct {
	Path string
	Type task.Type
}

// Config controls filtering and debouncing.
type Config struct {
	// Extensions limits events to these file extensions (with dot).
	Extensions []string
	// Debounce is how long a path must stay quiet before its latest
	// event is emitted.
	Debounce time.Duration
}

// DefaultConfig watches markdown files with a 400ms debounce.
func DefaultConfig() Config {
	return Config{
		Extensions: []string{".md"},
		Debounce:   400 * time.Millisecond,
	}
}

// VaultWatcher watches a vault root recursively. New subdirectories are
// added to the watch as they appear.
type VaultWatcher struct {
	root    string
	cfg     Config
	watcher *fsnotify.Watcher
	events  chan Event
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	running bool
	timers  map[string]*time.Timer
	latest  map[string]task.Type
}

// New creates a watcher for the vault rooted at root.
func New(root string, cfg Config) (*VaultWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(errors.ErrWatchFailed, "failed to create filesystem watcher", err)
	}

	return &VaultWatcher{
		root:    root,
		cfg:     cfg,
		watcher: fsw,
		events:  make(chan Event, 256),
		done:    make(chan struct{}),
		timers:  make(map[string]*time.Timer),
		latest:  make(map[string]task.Type),
	}, nil
}

// Events returns the debounced event channel. It is closed by Stop.
func (w *VaultWatcher) Events() <-chan Event {
	return w.events
}

// Start adds the vault tree to the watch and begins emitting events.
func (w *VaultWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return errors.New(errors.ErrWatchFailed, "watcher already running")
	}

	err := filepath.WalkDir(w.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && p != w.root {
			return filepath.SkipDir
		}
		return w.watcher.Add(p)
	})
	if err != nil {
		return errors.Wrap(errors.ErrWatchFailed, "failed to watch vault tree", err)
	}

	w.running = true
	w.wg.Add(1)
	go w.loop()

	logging.Info("watching vault", map[string]interface{}{"root": w.root})
	return nil
}

// Stop shuts the watcher down and closes the event channel. Pending
// debounce timers are discarded.
func (w *VaultWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	for path, timer := range w.timers {
		timer.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()

	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	close(w.events)

	if err != nil {
		return errors.Wrap(errors.ErrWatchFailed, "failed to close filesystem watcher", err)
	}
	return nil
}

func (w *VaultWatcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.ErrorWithCode("watch error", string(errors.ErrWatchFailed), err)
		}
	}
}

func (w *VaultWatcher) handle(ev fsnotify.Event) {
	// A created directory joins the watch; everything else flows
	// through classification.
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !strings.HasPrefix(filepath.Base(ev.Name), ".") {
				_ = w.watcher.Add(ev.Name)
			}
			return
		}
	}

	rel, typ, ok := Classify(w.root, ev, w.cfg.Extensions)
	if !ok {
		return
	}
	w.debounce(rel, typ)
}

// debounce holds back the event until the path has been quiet for the
// configured window, keeping only the most significant pending type
// (a delete is never downgraded by a trailing write event).
func (w *VaultWatcher) debounce(path string, typ task.Type) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	if prev, ok := w.latest[path]; !ok || prev != task.TypeDelete {
		w.latest[path] = typ
	}

	if timer, ok := w.timers[path]; ok {
		timer.Reset(w.cfg.Debounce)
		return
	}

	w.timers[path] = time.AfterFunc(w.cfg.Debounce, func() {
		w.fire(path)
	})
}

func (w *VaultWatcher) fire(path string) {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	typ := w.latest[path]
	delete(w.latest, path)
	delete(w.timers, path)
	w.mu.Unlock()

	select {
	case w.events <- Event{Path: path, Type: typ}:
	case <-w.done:
	}
}

// Classify maps a raw filesystem event to a vault-relative document event.
// Returns ok=false for paths outside the filter, dotfiles, and event kinds
// that carry no document change (chmod).
func Classify(root string, ev fsnotify.Event, extensions []string) (string, task.Type, bool) {
	name := filepath.Base(ev.Name)
	if strings.HasPrefix(name, ".") {
		return "", "", false
	}

	if len(extensions) > 0 {
		matched := false
		for _, ext := range extensions {
			if strings.HasSuffix(name, ext) {
				matched = true
				break
			}
		}
		if !matched {
			return "", "", false
		}
	}

	rel, err := filepath.Rel(root, ev.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", "", false
	}
	rel = filepath.ToSlash(rel)

	switch {
	case ev.Has(fsnotify.Create):
		return rel, task.TypeCreate, true
	case ev.Has(fsnotify.Write):
		return rel, task.TypeUpdate, true
	case ev.Has(fsnotify.Remove):
		return rel, task.TypeDelete, true
	case ev.Has(fsnotify.Rename):
		// The new name arrives as its own create event.
		return rel, task.TypeDelete, true
	default:
		return "", "", false
	}
}
