package plugin

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"geneforge/internal/logging"
)

// Watcher hot-reloads the plugin directory: a settled filesystem
// change re-runs directory discovery. Rapid saves are debounced and
// concurrent triggers are coalesced so at most one discovery pass runs
// at a time.
type Watcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	registry *Registry
	dir      string
	debounce time.Duration
	group    singleflight.Group
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool

	// Reports receives every discovery report produced by the
	// watcher. Buffered; stale reports are dropped if nobody reads.
	Reports chan DiscoveryReport
}

// NewWatcher creates a watcher over the given plugin directory.
func NewWatcher(registry *Registry, dir string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:  fsw,
		registry: registry,
		dir:      dir,
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		Reports:  make(chan DiscoveryReport, 4),
	}, nil
}

// Start begins watching. Non-blocking; the event loop runs in its own
// goroutine until Stop or ctx cancellation. A failed Start leaves the
// watcher stopped: Stop is still safe and Start may be retried.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	// The event loop only starts once the directory is registered;
	// running stays false on failure so Stop has nothing to wait for.
	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}
	w.running = true

	logging.For(logging.CategoryPlugins).Info("watching plugin directory",
		zap.String("dir", w.dir))
	go w.run(ctx)
	return nil
}

// Stop terminates the event loop and closes the underlying watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	running := w.running
	w.running = false
	w.mu.Unlock()

	if !running {
		_ = w.watcher.Close()
		return
	}
	close(w.stopCh)
	<-w.doneCh
	_ = w.watcher.Close()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			// Debounce: re-arm on every relevant event, fire once
			// the directory has settled.
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			w.rediscover(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.For(logging.CategoryPlugins).Warn("plugin watcher error", zap.Error(err))

		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// relevant filters events down to create/write/remove/rename of
// candidate script files.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !strings.HasSuffix(event.Name, ".go") {
		return false
	}
	const ops = fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename
	return event.Op&ops != 0
}

// rediscover runs one directory discovery pass, coalescing concurrent
// triggers through singleflight.
func (w *Watcher) rediscover(ctx context.Context) {
	report, _, _ := w.group.Do("discover", func() (any, error) {
		return w.registry.DiscoverDir(ctx, w.dir), nil
	})

	select {
	case w.Reports <- report.(DiscoveryReport):
	default:
		// Nobody is reading; drop rather than block the loop.
	}
}
