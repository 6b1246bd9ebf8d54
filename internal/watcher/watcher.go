package watcher

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period after the last event before a
// batch is emitted. Editors commonly write a file several times in
// quick succession; one update per burst is enough.
const DefaultDebounce = 500 * time.Millisecond

// Watcher observes a set of directories and emits debounced batches of
// changed paths. It reports raw filesystem activity; deciding whether a
// path's content actually changed is the updater's job.
type Watcher struct {
	fs       *fsnotify.Watcher
	debounce time.Duration
	logger   *log.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
	closed  bool

	batches chan []string
}

// New creates a watcher. A non-positive debounce uses DefaultDebounce.
func New(debounce time.Duration, logger *log.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &Watcher{
		fs:       fs,
		debounce: debounce,
		logger:   logger,
		pending:  make(map[string]struct{}),
		batches:  make(chan []string, 4),
	}, nil
}

// Add starts watching a directory (non-recursive, per fsnotify).
func (w *Watcher) Add(dir string) error {
	return w.fs.Add(dir)
}

// Batches returns the channel of debounced change batches. Each batch
// is a sorted, de-duplicated list of paths. The channel closes when Run
// returns.
func (w *Watcher) Batches() <-chan []string {
	return w.batches
}

// Run pumps filesystem events into debounced batches until ctx is
// cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() {
		w.mu.Lock()
		w.closed = true
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		close(w.batches)
		_ = w.fs.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.collect(ev.Name)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			if w.logger != nil {
				w.logger.Printf("watch error: %v", err)
			}
		}
	}
}

// collect records a changed path and (re)arms the debounce timer.
func (w *Watcher) collect(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[path] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

// flush emits the pending batch.
func (w *Watcher) flush() {
	w.mu.Lock()
	if w.closed || len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	batch := make([]string, 0, len(w.pending))
	for p := range w.pending {
		batch = append(batch, p)
	}
	w.pending = make(map[string]struct{})
	sort.Strings(batch)

	// Send while holding the lock so Run cannot close the channel
	// between the closed check and the send. Dropped rather than
	// blocked if the consumer is behind; the next rescan covers the
	// same files anyway.
	select {
	case w.batches <- batch:
	default:
		if w.logger != nil {
			w.logger.Printf("dropping change batch of %d paths: consumer busy", len(batch))
		}
	}
	w.mu.Unlock()
}
