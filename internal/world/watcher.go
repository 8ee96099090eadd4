package world

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"notegraph/internal/logging"
)

// ChangeWatcher watches the vault with fsnotify and signals the scanner to
// run early. It only hints: the scanner's fingerprint comparison still
// decides what changed, so dropped events fall back to the interval scan.
type ChangeWatcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	root        string
	policy      Policy
	debounceMap map[string]time.Time
	debounceDur time.Duration
	wake        chan struct{}
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	stats WatcherStats
}

// WatcherStats tracks watcher activity.
type WatcherStats struct {
	Events        int
	Wakeups       int
	Errors        int
	LastEventTime time.Time
	LastEventPath string
}

// NewChangeWatcher creates a watcher over root. debounce is how long a path
// must stay quiet before it triggers a wake-up.
func NewChangeWatcher(root string, policy Policy, debounce time.Duration) (*ChangeWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &ChangeWatcher{
		watcher:     watcher,
		root:        root,
		policy:      policy,
		debounceMap: make(map[string]time.Time),
		debounceDur: debounce,
		wake:        make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Wake returns the channel signalled when settled changes are seen.
func (cw *ChangeWatcher) Wake() <-chan struct{} {
	return cw.wake
}

// Start adds every non-excluded directory under the root and begins
// watching. Non-blocking.
func (cw *ChangeWatcher) Start(ctx context.Context) error {
	cw.mu.Lock()
	if cw.running {
		cw.mu.Unlock()
		return nil
	}
	cw.running = true
	cw.mu.Unlock()

	added := cw.addTree(cw.root)
	logging.WatcherDebug("watching %d directories under %s", added, cw.root)

	go cw.run(ctx)
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (cw *ChangeWatcher) Stop() {
	cw.mu.Lock()
	if !cw.running {
		cw.mu.Unlock()
		return
	}
	cw.running = false
	cw.mu.Unlock()

	close(cw.stopCh)
	<-cw.doneCh

	if err := cw.watcher.Close(); err != nil {
		logging.Get(logging.CategoryWatcher).Error("error closing watcher: %v", err)
	}
}

// Close releases the fsnotify handle of a watcher that was never started.
func (cw *ChangeWatcher) Close() error {
	cw.mu.RLock()
	running := cw.running
	cw.mu.RUnlock()
	if running {
		cw.Stop()
		return nil
	}
	return cw.watcher.Close()
}

func (cw *ChangeWatcher) addTree(root string) int {
	added := 0
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != cw.root && cw.policy.Excluded(path) {
			return filepath.SkipDir
		}
		if err := cw.watcher.Add(path); err != nil {
			logging.WatcherDebug("cannot watch %s: %v", path, err)
			return nil
		}
		added++
		return nil
	})
	return added
}

func (cw *ChangeWatcher) run(ctx context.Context) {
	defer close(cw.doneCh)

	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-cw.stopCh:
			return

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			cw.handleEvent(event)

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryWatcher).Warn("watcher error: %v", err)
			cw.mu.Lock()
			cw.stats.Errors++
			cw.mu.Unlock()

		case <-debounceTicker.C:
			cw.flushSettled()
		}
	}
}

func (cw *ChangeWatcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
		return // chmod
	}
	if cw.policy.Excluded(event.Name) {
		return
	}

	// New directories need their own watch.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			cw.addTree(event.Name)
			return
		}
	}
	if !cw.policy.HasExtension(event.Name) {
		return
	}

	logging.WatcherDebug("%s %s", event.Op, event.Name)

	cw.mu.Lock()
	cw.stats.Events++
	cw.stats.LastEventTime = time.Now()
	cw.stats.LastEventPath = event.Name
	cw.debounceMap[event.Name] = time.Now()
	cw.mu.Unlock()
}

// flushSettled signals a wake-up once any recorded path has been quiet for
// the debounce window.
func (cw *ChangeWatcher) flushSettled() {
	cw.mu.Lock()
	now := time.Now()
	settled := 0
	for path, at := range cw.debounceMap {
		if now.Sub(at) >= cw.debounceDur {
			delete(cw.debounceMap, path)
			settled++
		}
	}
	if settled > 0 {
		cw.stats.Wakeups++
	}
	cw.mu.Unlock()

	if settled == 0 {
		return
	}
	select {
	case cw.wake <- struct{}{}:
	default: // a wake-up is already pending
	}
}

// Stats returns the current watcher statistics.
func (cw *ChangeWatcher) Stats() WatcherStats {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.stats
}

// IsWatching returns true if the watcher is currently running.
func (cw *ChangeWatcher) IsWatching() bool {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.running
}
