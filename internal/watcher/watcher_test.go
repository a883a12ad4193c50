package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kimvales/vaultsync/internal/task"
)

func TestClassify(t *testing.T) {
	root := string(filepath.Separator) + "vault"
	md := []string{".md"}

	cases := []struct {
		name     string
		ev       fsnotify.Event
		wantPath string
		wantType task.Type
		wantOK   bool
	}{
		{
			name:     "create",
			ev:       fsnotify.Event{Name: filepath.Join(root, "notes", "a.md"), Op: fsnotify.Create},
			wantPath: "notes/a.md",
			wantType: task.TypeCreate,
			wantOK:   true,
		},
		{
			name:     "write",
			ev:       fsnotify.Event{Name: filepath.Join(root, "a.md"), Op: fsnotify.Write},
			wantPath: "a.md",
			wantType: task.TypeUpdate,
			wantOK:   true,
		},
		{
			name:     "remove",
			ev:       fsnotify.Event{Name: filepath.Join(root, "a.md"), Op: fsnotify.Remove},
			wantPath: "a.md",
			wantType: task.TypeDelete,
			wantOK:   true,
		},
		{
			name:     "rename is a delete",
			ev:       fsnotify.Event{Name: filepath.Join(root, "a.md"), Op: fsnotify.Rename},
			wantPath: "a.md",
			wantType: task.TypeDelete,
			wantOK:   true,
		},
		{
			name:   "chmod ignored",
			ev:     fsnotify.Event{Name: filepath.Join(root, "a.md"), Op: fsnotify.Chmod},
			wantOK: false,
		},
		{
			name:   "wrong extension",
			ev:     fsnotify.Event{Name: filepath.Join(root, "a.pdf"), Op: fsnotify.Write},
			wantOK: false,
		},
		{
			name:   "dotfile",
			ev:     fsnotify.Event{Name: filepath.Join(root, ".trash.md"), Op: fsnotify.Write},
			wantOK: false,
		},
		{
			name:   "outside root",
			ev:     fsnotify.Event{Name: filepath.Join(string(filepath.Separator)+"elsewhere", "a.md"), Op: fsnotify.Write},
			wantOK: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path, typ, ok := Classify(root, tc.ev, md)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if path != tc.wantPath || typ != tc.wantType {
				t.Errorf("Classify = (%q, %s), want (%q, %s)", path, typ, tc.wantPath, tc.wantType)
			}
		})
	}
}

func TestDebounceCoalescesBursts(t *testing.T) {
	dir := t.TempDir()

	cfg := Config{Extensions: []string{".md"}, Debounce: 50 * time.Millisecond}
	w, err := New(dir, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	// A burst of writes to the same file.
	path := filepath.Join(dir, "a.md")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte("rev"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	var got []Event
	deadline := time.After(2 * time.Second)
	quiet := time.After(600 * time.Millisecond)

collect:
	for {
		select {
		case ev := <-w.Events():
			got = append(got, ev)
		case <-quiet:
			break collect
		case <-deadline:
			break collect
		}
	}

	if len(got) != 1 {
		t.Fatalf("events = %v, want exactly 1 coalesced event", got)
	}
	if got[0].Path != "a.md" {
		t.Errorf("Path = %q, want a.md", got[0].Path)
	}
}

func TestDeleteIsNotDowngraded(t *testing.T) {
	w := &VaultWatcher{
		cfg:     Config{Debounce: time.Hour},
		timers:  map[string]*time.Timer{},
		latest:  map[string]task.Type{},
		running: true,
		events:  make(chan Event, 1),
		done:    make(chan struct{}),
	}

	w.debounce("a.md", task.TypeDelete)
	w.debounce("a.md", task.TypeUpdate)

	if w.latest["a.md"] != task.TypeDelete {
		t.Errorf("latest = %s, want DELETE to survive a trailing write", w.latest["a.md"])
	}

	for _, timer := range w.timers {
		timer.Stop()
	}
}
