package session

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher calls back whenever the session in a file changes.
//
// The parent directory is watched rather than the file itself, so the file
// may be created, replaced by rename, or deleted (which signs the user out).
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func(Session)
	current  Session
	ready    chan struct{}
}

// NewWatcher creates a watcher for path. onChange runs on the watcher's
// goroutine.
func NewWatcher(path string, onChange func(Session)) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return nil, err
	}

	return &Watcher{
		path:     abs,
		watcher:  watcher,
		onChange: onChange,
		ready:    make(chan struct{}),
	}, nil
}

// Ready is closed once the watch is in place.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Start watches until ctx is cancelled or Stop is called.
// The session present at start is the baseline and is not reported.
func (w *Watcher) Start(ctx context.Context) error {
	current, err := LoadFile(w.path)
	if err != nil {
		slog.Warn("failed to read session file", "path", w.path, "error", err)
	}
	w.current = current

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		close(w.ready)
		return err
	}
	close(w.ready)

	slog.Debug("started watching session file", "path", w.path)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("session watcher error", "error", err)

		case <-ctx.Done():
			slog.Debug("session watcher stopping")
			return nil
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	s, err := LoadFile(w.path)
	if err != nil {
		// Partially written files parse badly; the next write fixes it.
		slog.Debug("ignoring unreadable session file", "path", w.path, "error", err)
		return
	}
	if s == w.current {
		return
	}
	w.current = s

	slog.Info("session changed", "signed_in", s.SignedIn(), "user_id", s.UserID)
	if w.onChange != nil {
		w.onChange(s)
	}
}

// Stop closes the underlying watcher, which makes Start return.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}
