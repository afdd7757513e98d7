package aghos

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/fsnotify/fsnotify"
)

// Event is a convenient alias for an empty struct to signal that watched file
// event happened.
type Event = struct{}

// FSWatcher tracks the changes of files, for example the configuration file,
// and notifies about those.
type FSWatcher interface {
	service.Interface

	// Events returns the channel to notify about the file system events.
	Events() (e <-chan Event)

	// Add starts tracking the file.  It returns an error if the file can't be
	// tracked.
	Add(name string) (err error)
}

// osWatcher tracks the file system provided by the OS.
type osWatcher struct {
	// logger is used for logging the operations of the osWatcher.
	logger *slog.Logger

	// filesMu protects files.
	filesMu *sync.RWMutex

	// watcher is the actual notifier that is handled by osWatcher.
	watcher *fsnotify.Watcher

	// events is the channel to notify.
	events chan Event

	// files maps directories to the absolute names of the files tracked in
	// them.
	files map[string]*container.MapSet[string]
}

// osWatcherPref is a prefix for wrapping errors in osWatcher's methods.
const osWatcherPref = "os watcher"

// NewOSWritesWatcher creates FSWatcher that tracks the real file system of the
// OS and notifies about writing and replacing the tracked files.  l must not
// be nil.
func NewOSWritesWatcher(l *slog.Logger) (w FSWatcher, err error) {
	defer func() { err = errors.Annotate(err, "%s: %w", osWatcherPref) }()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	return &osWatcher{
		logger:  l,
		filesMu: &sync.RWMutex{},
		watcher: watcher,
		events:  make(chan Event, 1),
		files:   map[string]*container.MapSet[string]{},
	}, nil
}

// type check
var _ FSWatcher = (*osWatcher)(nil)

// Start implements the [FSWatcher] interface for *osWatcher.
func (w *osWatcher) Start(ctx context.Context) (err error) {
	go w.handleErrors(ctx)
	go w.handleEvents(ctx)

	return nil
}

// Shutdown implements the [FSWatcher] interface for *osWatcher.
func (w *osWatcher) Shutdown(_ context.Context) (err error) {
	return w.watcher.Close()
}

// Events implements the [FSWatcher] interface for *osWatcher.
func (w *osWatcher) Events() (e <-chan Event) {
	return w.events
}

// Add implements the [FSWatcher] interface for *osWatcher.
func (w *osWatcher) Add(name string) (err error) {
	defer func() { err = errors.Annotate(err, "%s: %w", osWatcherPref) }()

	abs, err := filepath.Abs(name)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", name, err)
	}

	name = abs

	fi, err := os.Stat(name)
	if err != nil {
		return fmt.Errorf("checking file %q: %w", name, err)
	} else if fi.IsDir() {
		return fmt.Errorf("checking file %q: is a directory", name)
	}

	// Watch the directory and filter the events by the file name, since files
	// are often replaced by renaming.
	dirName := filepath.Dir(name)

	w.filesMu.Lock()
	defer w.filesMu.Unlock()

	names := w.files[dirName]
	if names == nil {
		names = container.NewMapSet[string]()
		w.files[dirName] = names
	}
	names.Add(name)

	err = w.watcher.Add(dirName)
	if err != nil {
		return fmt.Errorf("adding %q: %w", dirName, err)
	}

	return nil
}

// handleEvents notifies about the received file system's event if needed.  It
// is intended to be used as a goroutine.
func (w *osWatcher) handleEvents(ctx context.Context) {
	defer slogutil.RecoverAndLog(ctx, w.logger)

	defer close(w.events)

	ch := w.watcher.Events
	for e := range ch {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) || !w.isTrackedFile(e.Name) {
			continue
		}

		skipDuplicates(ch)

		select {
		case w.events <- Event{}:
			// Go on.
		default:
			w.logger.DebugContext(ctx, "events buffer is full")
		}
	}
}

// isTrackedFile returns true if the file is tracked.
func (w *osWatcher) isTrackedFile(name string) (ok bool) {
	w.filesMu.RLock()
	defer w.filesMu.RUnlock()

	names := w.files[filepath.Dir(name)]

	return names != nil && names.Has(name)
}

// skipDuplicates drains the given channel of events, assuming that some events
// might occur multiple times.
func skipDuplicates(ch <-chan fsnotify.Event) {
	for {
		select {
		case <-ch:
			// Go on.
		default:
			return
		}
	}
}

// handleErrors handles accompanying errors.  It is intended to be used as a
// goroutine.
func (w *osWatcher) handleErrors(ctx context.Context) {
	defer slogutil.RecoverAndLog(ctx, w.logger)

	for err := range w.watcher.Errors {
		w.logger.ErrorContext(ctx, "handling error", slogutil.KeyError, err)
	}
}

// EmptyFSWatcher is a no-op implementation of the [FSWatcher] interface.  It
// is used when watching is disabled.
type EmptyFSWatcher struct{}

// type check
var _ FSWatcher = EmptyFSWatcher{}

// Start implements the [FSWatcher] interface for EmptyFSWatcher.  It always
// returns nil error.
func (EmptyFSWatcher) Start(_ context.Context) (err error) {
	return nil
}

// Shutdown implements the [FSWatcher] interface for EmptyFSWatcher.  It always
// returns nil error.
func (EmptyFSWatcher) Shutdown(_ context.Context) (err error) {
	return nil
}

// Events implements the [FSWatcher] interface for EmptyFSWatcher.  It always
// returns nil channel.
func (EmptyFSWatcher) Events() (e <-chan Event) {
	return nil
}

// Add implements the [FSWatcher] interface for EmptyFSWatcher.  It always
// returns nil error.
func (EmptyFSWatcher) Add(_ string) (err error) {
	return nil
}
