// Package watcher monitors the corpus roots for descriptor file changes
// using fsnotify with per-file debouncing. Editors and sync tools write
// files in bursts, so an event is only emitted once a file's size and
// mtime have stopped moving for a settle delay.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/karabase/karabase-server/internal/scanner"
)

// EventType classifies a settled corpus change.
type EventType int

const (
	EventChanged EventType = iota
	EventRemoved
)

func (t EventType) String() string {
	switch t {
	case EventChanged:
		return "changed"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is one settled change to a descriptor file.
type Event struct {
	Type    EventType
	Path    string
	Size    int64
	ModTime time.Time
}

// DefaultSettleDelay is how long a file must stop changing before its
// event is emitted.
const DefaultSettleDelay = 500 * time.Millisecond

// Watcher monitors corpus roots for song and series descriptor changes.
type Watcher struct {
	logger      *slog.Logger
	settleDelay time.Duration
	fsw         *fsnotify.Watcher

	pending map[string]*pendingEvent
	mu      sync.Mutex

	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup
}

// pendingEvent tracks a file that may still be changing.
type pendingEvent struct {
	size    int64
	modTime time.Time
	timer   *time.Timer
}

// New creates a watcher over the given corpus roots. A settleDelay of
// zero uses DefaultSettleDelay.
func New(roots []string, settleDelay time.Duration, logger *slog.Logger) (*Watcher, error) {
	if settleDelay <= 0 {
		settleDelay = DefaultSettleDelay
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		logger:      logger,
		settleDelay: settleDelay,
		fsw:         fsw,
		pending:     make(map[string]*pendingEvent),
		events:      make(chan Event, 100),
		done:        make(chan struct{}),
	}

	for _, root := range roots {
		if err := w.watchDir(root); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// watchDir recursively adds watches for a directory tree.
func (w *Watcher) watchDir(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			w.logger.Warn("failed to access path", "path", path, "error", err)
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if name := info.Name(); name != "." && strings.HasPrefix(name, ".") {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Error("failed to add watch", "path", path, "error", err)
			return nil
		}
		w.logger.Debug("added watch", "path", path)
		return nil
	})
}

// Start processes filesystem events until ctx is canceled.
func (w *Watcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.processEvents(ctx)
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

// isDescriptor reports whether path names a song or series descriptor.
func isDescriptor(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	return strings.HasSuffix(name, scanner.KaraExt) || strings.HasSuffix(name, scanner.SeriesExt)
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := event.Name

	// New directories need their own watch.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			w.watchDir(path)
			return
		}
	}

	if !isDescriptor(path) {
		return
	}

	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		w.cancelPending(path)
		w.emit(Event{Type: EventRemoved, Path: path})
		return
	}

	if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
		w.startSettling(path)
	}
}

// startSettling begins or restarts the settle timer for a file.
func (w *Watcher) startSettling(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if pending, exists := w.pending[path]; exists {
		pending.timer.Stop()
	}

	info, err := os.Stat(path)
	if err != nil {
		delete(w.pending, path)
		return
	}
	if info.IsDir() {
		return
	}

	pending := &pendingEvent{size: info.Size(), modTime: info.ModTime()}
	pending.timer = time.AfterFunc(w.settleDelay, func() {
		w.checkSettled(path)
	})
	w.pending[path] = pending
}

// checkSettled emits the event if the file stopped changing, otherwise
// restarts the timer.
func (w *Watcher) checkSettled(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	pending, exists := w.pending[path]
	if !exists {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		delete(w.pending, path)
		w.emit(Event{Type: EventRemoved, Path: path})
		return
	}

	if info.Size() != pending.size || !info.ModTime().Equal(pending.modTime) {
		pending.size = info.Size()
		pending.modTime = info.ModTime()
		pending.timer = time.AfterFunc(w.settleDelay, func() {
			w.checkSettled(path)
		})
		return
	}

	delete(w.pending, path)
	w.emit(Event{
		Type:    EventChanged,
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	})
}

func (w *Watcher) cancelPending(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if pending, exists := w.pending[path]; exists {
		pending.timer.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) emit(event Event) {
	select {
	case w.events <- event:
	case <-w.done:
	}
}

// Events returns the settled-event channel.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Stop shuts the watcher down and closes the event channel.
func (w *Watcher) Stop() error {
	close(w.done)

	w.mu.Lock()
	for _, pending := range w.pending {
		pending.timer.Stop()
	}
	clear(w.pending)
	w.mu.Unlock()

	w.fsw.Close()
	w.wg.Wait()
	close(w.events)
	return nil
}
