package analyzer

import (
	"context"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-synchronizes open documents when their on-disk contents
// change behind the backend's back: another tool edits a file after the
// backend was told about it via didOpen, and without a resync every
// later query would answer against the stale snapshot.
//
// Writes are debounced per file so editors that write in bursts trigger
// one resync, not one per chunk.
type Watcher struct {
	client  *Client
	watcher *fsnotify.Watcher
	logger  *log.Logger

	debounce time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWatcher starts watching the workspace's Rust sources and manifest
// files for out-of-band modifications.
func NewWatcher(client *Client, root string, logger *log.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = log.Default()
	}

	w := &Watcher{
		client:   client,
		watcher:  fsw,
		logger:   logger,
		debounce: 200 * time.Millisecond,
		pending:  make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}

	if err := w.watchTree(root); err != nil {
		fsw.Close()
		return nil, err
	}

	w.wg.Add(1)
	go w.processLoop()

	return w, nil
}

// watchTree registers every directory under root except build output
// and VCS metadata. fsnotify reports file events for watched parents,
// so only directories need registration.
func (w *Watcher) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if shouldSkipDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Printf("watcher: cannot watch %s: %v", path, err)
		}
		return nil
	})
}

func shouldSkipDir(name string) bool {
	if name == "target" || name == "node_modules" {
		return true
	}
	return strings.HasPrefix(name, ".") && name != "."
}

// processLoop drains fsnotify events into debounced resyncs.
func (w *Watcher) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("watcher: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	// New directories join the watch so files created in them are seen.
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !shouldSkipDir(filepath.Base(event.Name)) {
				_ = w.watcher.Add(event.Name)
			}
			return
		}
	}

	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
		return
	}
	if !isRustSource(event.Name) {
		return
	}
	// Only files the backend already knows about need a resync.
	if !w.client.IsDocumentOpen(event.Name) {
		return
	}

	w.scheduleResync(event.Name)
}

func isRustSource(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".rs" || filepath.Base(path) == "Cargo.toml"
}

// scheduleResync arms (or re-arms) the per-file debounce timer.
func (w *Watcher) scheduleResync(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}

	if t, ok := w.pending[path]; ok {
		t.Reset(w.debounce)
		return
	}

	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		closed := w.closed
		w.mu.Unlock()
		if closed {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := w.client.Resync(ctx, path); err != nil {
			w.logger.Printf("watcher: resync %s: %v", path, err)
			return
		}
		w.logger.Printf("watcher: resynced %s", path)
	})
}

// Close stops watching and cancels pending resyncs.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for _, t := range w.pending {
		t.Stop()
	}
	w.pending = make(map[string]*time.Timer)
	w.mu.Unlock()

	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}
