// Package watcher observes the CLI's credentials file so a login
// performed outside the app is picked up without polling.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// debounce window: editors and the CLI write the file in several quick
// operations; only the last one matters.
const debounce = 500 * time.Millisecond

// Watcher emits a signal whenever the credentials file changes.
type Watcher struct {
	path    string
	logger  *zap.Logger
	changes chan struct{}
}

// New creates a Watcher for the given credentials file path.
func New(path string, logger *zap.Logger) *Watcher {
	return &Watcher{
		path:    path,
		logger:  logger,
		changes: make(chan struct{}, 1),
	}
}

// Changes delivers at most one pending change signal; coalesced while
// unconsumed.
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}

// Run watches until ctx is done. The parent directory is watched rather
// than the file itself because the CLI replaces the file on write,
// which would invalidate a direct watch.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	if err := fsw.Add(dir); err != nil {
		return err
	}

	w.logger.Debug("watching credentials file", zap.String("path", w.path))

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			select {
			case w.changes <- struct{}{}:
			default:
			}
			w.logger.Info("credentials file changed", zap.String("path", w.path))

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("credentials watcher error", zap.Error(err))
		}
	}
}
