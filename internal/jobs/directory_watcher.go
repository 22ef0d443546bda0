// directory_watcher.go implements the DirectoryWatcher background job, which keeps
// the catalog in sync with the source directory. It rescans after filesystem
// activity settles and, optionally, on a fixed interval to catch changes the
// watcher cannot see (network mounts, missed events).
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/apk-registry/apk-registry/internal/catalog"
	"github.com/apk-registry/apk-registry/internal/identity"
	"github.com/apk-registry/apk-registry/internal/telemetry"
)

const defaultDebounce = 2 * time.Second

// DirectoryScanner runs one scan of a directory.
type DirectoryScanner interface {
	Scan(ctx context.Context, dir string) (catalog.ScanResult, error)
}

// DirectoryWatcher rescans dir whenever .apk files appear or change in it.
type DirectoryWatcher struct {
	scanner  DirectoryScanner
	dir      string
	interval time.Duration
	// debounce coalesces bursts of events, e.g. a large file being written
	debounce time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewDirectoryWatcher creates a watcher for dir. interval enables periodic
// rescans when positive.
func NewDirectoryWatcher(scanner DirectoryScanner, dir string, interval time.Duration) *DirectoryWatcher {
	return &DirectoryWatcher{
		scanner:  scanner,
		dir:      dir,
		interval: interval,
		debounce: defaultDebounce,
		stopChan: make(chan struct{}),
	}
}

// Start scans once, then watches until ctx is cancelled or Stop is called.
// It returns an error only when neither the watcher nor periodic rescans can
// run.
func (w *DirectoryWatcher) Start(ctx context.Context) error {
	var events <-chan fsnotify.Event
	var watchErrs <-chan error

	fw, err := fsnotify.NewWatcher()
	if err == nil {
		defer fw.Close()
		err = fw.Add(w.dir)
	}
	if err != nil {
		if w.interval <= 0 {
			return err
		}
		slog.Warn("directory watch unavailable, falling back to periodic rescans",
			"directory", w.dir, "interval", w.interval, "error", err)
	} else {
		events, watchErrs = fw.Events, fw.Errors
	}

	var tick <-chan time.Time
	if w.interval > 0 {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	slog.Info("directory watcher started", "directory", w.dir, "interval", w.interval)
	w.scan(ctx)

	// settle is nil until an event arms the debounce timer
	var settle <-chan time.Time
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !relevant(ev) {
				continue
			}
			telemetry.WatcherEventsTotal.WithLabelValues(opLabel(ev.Op)).Inc()
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			settle = timer.C
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			slog.Warn("directory watcher error", "directory", w.dir, "error", err)
		case <-settle:
			settle = nil
			w.scan(ctx)
		case <-tick:
			w.scan(ctx)
		case <-w.stopChan:
			slog.Info("directory watcher stopped", "directory", w.dir)
			return nil
		case <-ctx.Done():
			slog.Info("directory watcher context cancelled", "directory", w.dir)
			return nil
		}
	}
}

// Stop signals the loop to exit. Safe to call more than once.
func (w *DirectoryWatcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
}

func (w *DirectoryWatcher) scan(ctx context.Context) {
	res, err := w.scanner.Scan(ctx, w.dir)
	if err != nil {
		telemetry.ScansTotal.WithLabelValues("watcher", "error").Inc()
		if !errors.Is(err, context.Canceled) {
			slog.Error("watched directory scan failed", "directory", w.dir, "error", err)
		}
		return
	}
	telemetry.ScansTotal.WithLabelValues("watcher", "success").Inc()
	if res.Added > 0 {
		slog.Info("watched directory scan added packages", "directory", w.dir, "added", res.Added)
	}
}

// relevant reports whether ev can add a package to the catalog. Removals
// never do; catalog entries outlive their files.
func relevant(ev fsnotify.Event) bool {
	if !identity.HasAPKExtension(filepath.Base(ev.Name)) {
		return false
	}
	return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Chmod)
}

func opLabel(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "create"
	case op.Has(fsnotify.Write):
		return "write"
	case op.Has(fsnotify.Rename):
		return "rename"
	default:
		return "chmod"
	}
}
