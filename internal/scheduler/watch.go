package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/stagepipe/stagepipe/internal/logger"
)

// DefaultDebounce is how long a watcher waits after the last file event
// before starting a run.
const DefaultDebounce = 500 * time.Millisecond

// ErrNoWatchedFiles is returned when a watcher is given no paths.
var ErrNoWatchedFiles = errors.New("no files to watch")

// Watcher starts a job whenever one of its files is written or created.
// Bursts of events within the debounce interval start a single run, and
// events arriving during a run queue at most one follow-up run.
type Watcher struct {
	name     string
	job      Job
	debounce time.Duration
	files    map[string]bool
	dirs     []string
}

// NewWatcher creates a watcher for paths. Their parent directories are
// watched so that files replaced by rename are still seen.
func NewWatcher(name string, paths []string, job Job, debounce time.Duration) (*Watcher, error) {
	if job == nil {
		return nil, ErrNilJob
	}
	if len(paths) == 0 {
		return nil, ErrNoWatchedFiles
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w := &Watcher{name: name, job: job, debounce: debounce, files: make(map[string]bool)}
	seen := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("watch path %q: %w", p, err)
		}
		w.files[abs] = true
		if dir := filepath.Dir(abs); !seen[dir] {
			seen[dir] = true
			w.dirs = append(w.dirs, dir)
		}
	}
	return w, nil
}

// Run watches until ctx is done. It returns after the current run, if any,
// has returned.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	for _, dir := range w.dirs {
		if err := fw.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}
	logger.Info("watching source files", "job", w.name, "files", len(w.files))
	return w.watch(ctx, fw.Events, fw.Errors)
}

// watch dispatches file events until ctx is done or either channel closes.
// The runner is stopped and waited for on every exit path.
func (w *Watcher) watch(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) error {
	ctx, cancel := context.WithCancel(ctx)
	pending := make(chan struct{}, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.runner(ctx, pending)
	}()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
		cancel()
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil || !w.files[abs] {
				continue
			}
			logger.Debug("source file changed", "job", w.name, "file", abs)
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case pending <- struct{}{}:
				default:
				}
			})
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			logger.Warn("file watcher error", "job", w.name, "error", err.Error())
		}
	}
}

func (w *Watcher) runner(ctx context.Context, pending <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-pending:
			logger.Info("watched run triggered", "job", w.name)
			if err := w.job(ctx); err != nil {
				logger.Error("watched run failed", "job", w.name, "error", err.Error())
			}
		}
	}
}
