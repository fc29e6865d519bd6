package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce coalesces the burst of events an atomic write makes.
const DefaultWatchDebounce = 200 * time.Millisecond

// ScheduleWatcher calls OnChange whenever the schedule file is written,
// replaced or removed, by this process or another one (`bingus wake`).
type ScheduleWatcher struct {
	path     string
	debounce time.Duration
	onChange func()

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}

	mu    sync.Mutex
	timer *time.Timer
}

// NewScheduleWatcher creates a watcher for the schedule file at path
func NewScheduleWatcher(path string, debounce time.Duration, onChange func()) *ScheduleWatcher {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	return &ScheduleWatcher{path: path, debounce: debounce, onChange: onChange}
}

// Start begins watching. The file's directory is watched rather than the
// file itself, because atomic writes replace the inode.
func (w *ScheduleWatcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create schedule directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w.watcher = watcher
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.watchLoop(ctx)
	return nil
}

// Stop ends the watch and drops any pending notification.
func (w *ScheduleWatcher) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	w.watcher.Close()
	<-w.done

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()
}

func (w *ScheduleWatcher) watchLoop(ctx context.Context) {
	defer close(w.done)
	name := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.trigger(ctx)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			wakeLog.Errorf("watch error: %v", err)
		}
	}
}

func (w *ScheduleWatcher) trigger(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		w.onChange()
	})
}
