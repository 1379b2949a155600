package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/oshokin/alarm-engine/internal/logger"
)

// DefaultDebounce coalesces the event bursts editors produce when saving.
const DefaultDebounce = 500 * time.Millisecond

// Watcher observes a single configuration file and reports coalesced change
// events. The parent directory is watched rather than the file itself, so
// editors that replace the file via rename-and-create are still seen.
type Watcher struct {
	// path is the absolute path of the watched file.
	path string
	// debounce is the quiet period required before a change is reported.
	debounce time.Duration
	// fs is the underlying filesystem watcher.
	fs *fsnotify.Watcher
	// onChange is invoked once per coalesced change burst.
	onChange func(ctx context.Context)
}

// New creates a watcher for the file at path. The onChange callback runs on
// the watcher's loop goroutine and must not block for long.
func New(path string, debounce time.Duration, onChange func(ctx context.Context)) (*Watcher, error) {
	absolute, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path %s: %w", path, err)
	}

	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create filesystem watcher: %w", err)
	}

	if err = fs.Add(filepath.Dir(absolute)); err != nil {
		_ = fs.Close()

		return nil, fmt.Errorf("watch directory %s: %w", filepath.Dir(absolute), err)
	}

	return &Watcher{
		path:     absolute,
		debounce: debounce,
		fs:       fs,
		onChange: onChange,
	}, nil
}

// Run delivers change events until the context is canceled. It always
// returns after closing the underlying watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() {
		if err := w.fs.Close(); err != nil {
			logger.WarnKV(ctx, "Failed to close filesystem watcher", "error", err)
		}
	}()

	logger.InfoKV(ctx, "Watching configuration file", "path", w.path)

	// The timer stays stopped until a relevant event arrives, then each
	// further event pushes the deadline out again.
	debounce := time.NewTimer(w.debounce)
	if !debounce.Stop() {
		<-debounce.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}

			if !w.relevant(event) {
				continue
			}

			debounce.Reset(w.debounce)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}

			logger.WarnKV(ctx, "Filesystem watcher error", "error", err)
		case <-debounce.C:
			logger.InfoKV(ctx, "Configuration file changed", "path", w.path)
			w.onChange(ctx)
		}
	}
}

// relevant reports whether the event concerns the watched file's content.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}

	return event.Op.Has(fsnotify.Write) ||
		event.Op.Has(fsnotify.Create) ||
		event.Op.Has(fsnotify.Rename)
}
