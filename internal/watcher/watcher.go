// Package watcher delivers debounced file change events for registered
// folders so the index can follow edits without full rescans.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/quarrysearch/quarry/internal/extract"
)

// Operation is a file system operation type.
type Operation int

const (
	// OpCreate indicates a new file was created.
	OpCreate Operation = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file was deleted or renamed away.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is a single debounced change to a watched document.
type FileEvent struct {
	// Path is the absolute path of the file.
	Path string

	// Folder is the registered folder root the file lives under.
	Folder string

	// Operation is the type of change.
	Operation Operation

	// Timestamp is when the event was detected.
	Timestamp time.Time
}

// Options configures the watcher behavior.
type Options struct {
	// DebounceWindow is the time to wait before emitting coalesced events.
	// Default: 500ms
	DebounceWindow time.Duration

	// EventBufferSize is the size of the event channel buffer.
	// Default: 256
	EventBufferSize int
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	if o.DebounceWindow == 0 {
		o.DebounceWindow = 500 * time.Millisecond
	}
	if o.EventBufferSize == 0 {
		o.EventBufferSize = 256
	}
	return o
}

// FolderWatcher watches registered folders recursively via fsnotify and
// emits debounced batches of events for supported document types.
type FolderWatcher struct {
	fsnotify  *fsnotify.Watcher
	debouncer *Debouncer
	events    chan []FileEvent
	errors    chan error
	stopCh    chan struct{}
	opts      Options

	mu      sync.Mutex
	folders []string
	stopped bool
}

// New creates a folder watcher.
func New(opts Options) (*FolderWatcher, error) {
	opts = opts.WithDefaults()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &FolderWatcher{
		fsnotify:  fsw,
		debouncer: NewDebouncer(opts.DebounceWindow),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
		opts:      opts,
	}, nil
}

// AddFolder begins watching a folder tree. Safe to call while running.
func (w *FolderWatcher) AddFolder(folder string) error {
	abs, err := filepath.Abs(folder)
	if err != nil {
		return fmt.Errorf("resolve folder path: %w", err)
	}

	w.mu.Lock()
	w.folders = append(w.folders, abs)
	w.mu.Unlock()

	return filepath.WalkDir(abs, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != abs && strings.HasPrefix(d.Name(), ".") {
			return fs.SkipDir
		}
		return w.fsnotify.Add(path)
	})
}

// Run processes raw fsnotify events until the context is cancelled or
// Stop is called. Blocks; run in a goroutine.
func (w *FolderWatcher) Run(ctx context.Context) error {
	go w.forwardDebounced(ctx)

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fsnotify.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.fsnotify.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

// Events returns the channel of debounced event batches.
func (w *FolderWatcher) Events() <-chan []FileEvent {
	return w.events
}

// Errors returns the channel of non-fatal watcher errors.
func (w *FolderWatcher) Errors() <-chan error {
	return w.errors
}

// Stop stops the watcher. Safe to call twice. The event and error
// channels stay open so a late batch from the debouncer can never send
// on a closed channel; receivers exit via their own context instead.
func (w *FolderWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true

	close(w.stopCh)
	w.debouncer.Stop()
	return w.fsnotify.Close()
}

func (w *FolderWatcher) handle(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") {
		return
	}

	isDir := false
	if info, err := os.Stat(event.Name); err == nil {
		isDir = info.IsDir()
	}

	var op Operation
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
		// New subdirectories need their own watch.
		if isDir {
			_ = w.fsnotify.Add(event.Name)
			return
		}
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&fsnotify.Remove != 0, event.Op&fsnotify.Rename != 0:
		op = OpDelete
	default:
		return // chmod and friends
	}

	if isDir {
		return
	}
	// Deletes cannot stat the file, so judge by extension alone.
	if !extract.Supported(event.Name) {
		return
	}

	folder := w.folderFor(event.Name)
	if folder == "" {
		return
	}

	w.debouncer.Add(FileEvent{
		Path:      event.Name,
		Folder:    folder,
		Operation: op,
		Timestamp: time.Now(),
	})
}

// folderFor maps an event path back to its registered folder root.
func (w *FolderWatcher) folderFor(path string) string {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, folder := range w.folders {
		if path == folder || strings.HasPrefix(path, folder+string(filepath.Separator)) {
			return folder
		}
	}
	return ""
}

func (w *FolderWatcher) forwardDebounced(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case batch, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			if len(batch) == 0 {
				continue
			}
			w.deliver(batch)
		}
	}
}

// deliver hands a batch to the events channel unless the watcher has
// stopped. The debouncer's buffered output stays readable after Stop,
// so the stopped check must happen under the lock right before the send.
func (w *FolderWatcher) deliver(batch []FileEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	select {
	case w.events <- batch:
	default:
		// Buffer full. The next full sync reconciles.
	}
}

func (w *FolderWatcher) emitError(err error) {
	select {
	case w.errors <- err:
	default:
	}
}
