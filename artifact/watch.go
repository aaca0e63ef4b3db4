package artifact

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// Watcher reports each new artifact file once as it appears under the
// root. Subdirectories created while watching are followed.
type Watcher struct {
	lister  *Lister
	watcher *fsnotify.Watcher

	mu   sync.Mutex
	seen map[string]bool
}

// Watch starts watching the Lister's root, creating it when missing. Files
// already present are treated as seen and not reported.
func (l *Lister) Watch() (*Watcher, error) {
	if err := os.MkdirAll(l.root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts root: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &Watcher{lister: l, watcher: fw, seen: map[string]bool{}}
	if err := w.addTree(l.root, false, nil); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

// Run delivers new artifact paths, relative to the root and slash-separated,
// to fn until ctx is canceled or the watcher is closed. fn is called from
// a single goroutine.
func (w *Watcher) Run(ctx context.Context, fn func(path string)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(ev, fn)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch artifacts: %w", err)
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) handle(ev fsnotify.Event, fn func(string)) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	info, err := os.Stat(ev.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		// Files may land in a new directory before it is watched.
		_ = w.addTree(ev.Name, true, fn)
		return
	}
	w.report(ev.Name, fn)
}

func (w *Watcher) addTree(dir string, report bool, fn func(string)) error {
	return filepath.WalkDir(dir, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, iofs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			if report {
				w.report(path, fn)
			} else {
				w.markSeen(path)
			}
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) rel(path string) (string, bool) {
	rel, err := filepath.Rel(w.lister.root, path)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if w.lister.ignored(rel) {
		return "", false
	}
	if ok, _ := doublestar.Match(w.lister.pattern, rel); !ok {
		return "", false
	}
	return rel, true
}

func (w *Watcher) markSeen(path string) {
	if rel, ok := w.rel(path); ok {
		w.mu.Lock()
		w.seen[rel] = true
		w.mu.Unlock()
	}
}

func (w *Watcher) report(path string, fn func(string)) {
	rel, ok := w.rel(path)
	if !ok {
		return
	}
	w.mu.Lock()
	dup := w.seen[rel]
	w.seen[rel] = true
	w.mu.Unlock()
	if !dup && fn != nil {
		fn(rel)
	}
}
