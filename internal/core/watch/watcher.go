package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"idxsync/internal/logging"
)

var log = logging.Log("watch")

// Watcher reports changes to a fixed set of files. fsnotify watches their
// parent directories so editors that replace files by rename are seen too.
type Watcher struct {
	files     map[string]struct{}
	debouncer *Debouncer

	watcher   *fsnotify.Watcher
	closeOnce sync.Once
	closed    chan struct{}
}

type Options struct {
	Debounce time.Duration
	// OnChange receives the cleaned absolute paths that changed.
	OnChange func(paths []string)
}

func NewWatcher(paths []string, opts Options) (*Watcher, error) {
	files := map[string]struct{}{}
	dirs := map[string]struct{}{}
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		abs = filepath.Clean(abs)
		files[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files to watch")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		files:     files,
		debouncer: NewDebouncer(opts.Debounce),
		watcher:   fsw,
		closed:    make(chan struct{}),
	}
	if opts.OnChange != nil {
		w.debouncer.OnFire(opts.OnChange)
	}

	sorted := make([]string, 0, len(dirs))
	for d := range dirs {
		sorted = append(sorted, d)
	}
	sort.Strings(sorted)
	for _, d := range sorted {
		if err := fsw.Add(d); err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("watch %s: %w", d, err)
		}
	}
	return w, nil
}

func (w *Watcher) Debounce() time.Duration {
	if w == nil {
		return 0
	}
	return w.debouncer.Delay()
}

func (w *Watcher) Close() error {
	if w == nil {
		return nil
	}
	w.closeOnce.Do(func() { close(w.closed) })
	w.debouncer.Stop()
	if w.watcher == nil {
		return nil
	}
	return w.watcher.Close()
}

// Run dispatches events until ctx ends or the watcher is closed. Watch
// errors are logged and do not stop the loop.
func (w *Watcher) Run(ctx context.Context) error {
	if w == nil || w.watcher == nil {
		return fmt.Errorf("watcher is not initialized")
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.closed:
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("watch error")
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	name := filepath.Clean(ev.Name)
	if _, ok := w.files[name]; !ok {
		return
	}
	w.debouncer.Push(name)
}
