package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// ChangeFunc receives the relative paths that changed within one debounce
// window, sorted and de-duplicated.
type ChangeFunc func(paths []string)

type Watcher struct {
	root     string
	ignore   []string
	include  []string
	debounce time.Duration
	onChange ChangeFunc
	logger   *slog.Logger
}

type Option func(*Watcher)

// WithIgnore skips files and directories matching any of the glob patterns.
func WithIgnore(patterns ...string) Option {
	return func(w *Watcher) {
		w.ignore = append(w.ignore, patterns...)
	}
}

// WithInclude reports only files matching one of the glob patterns.
// Directories are still watched so that new matches are seen.
func WithInclude(patterns ...string) Option {
	return func(w *Watcher) {
		w.include = append(w.include, patterns...)
	}
}

// WithDebounce sets the batching window. Default is 100ms.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounce = d
	}
}

func New(root string, onChange ChangeFunc, logger *slog.Logger, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve watch root: %w", err)
	}

	w := &Watcher{
		root:     abs,
		debounce: 100 * time.Millisecond,
		onChange: onChange,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(w)
	}

	for _, p := range w.ignore {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid ignore pattern %q", p)
		}
	}
	for _, p := range w.include {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid include pattern %q", p)
		}
	}

	return w, nil
}

func (w *Watcher) rel(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (w *Watcher) ignored(rel string) bool {
	for _, p := range w.ignore {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

func (w *Watcher) included(rel string) bool {
	if len(w.include) == 0 {
		return true
	}
	for _, p := range w.include {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// addTree registers dir and every non-ignored directory below it. Files
// already present are passed to found when it is not nil, so content written
// into a new directory before its watch existed is not lost.
func (w *Watcher) addTree(fsw *fsnotify.Watcher, dir string, found func(rel string)) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Directories may vanish while walking.
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}

		rel, ok := w.rel(path)
		if ok && w.ignored(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.IsDir() {
			if ok && found != nil {
				found(rel)
			}
			return nil
		}
		return fsw.Add(path)
	})
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := w.addTree(fsw, w.root, nil); err != nil {
		return fmt.Errorf("watch %s: %w", w.root, err)
	}
	w.logger.Debug("watching files", slog.String("root", w.root), slog.Int("dirs", len(fsw.WatchList())))

	pending := make(map[string]struct{})
	flushCh := make(chan struct{}, 1)
	var timer *time.Timer

	mark := func(rel string) {
		if !w.included(rel) {
			return
		}
		pending[rel] = struct{}{}
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, func() {
			select {
			case flushCh <- struct{}{}:
			default:
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}

			rel, ok := w.rel(event.Name)
			if !ok || w.ignored(rel) {
				continue
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(fsw, event.Name, mark); err != nil {
						w.logger.Warn("failed to watch new directory", slog.String("dir", rel), slog.Any("err", err))
					}
					continue
				}
			}

			mark(rel)

		case <-flushCh:
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			pending = make(map[string]struct{})

			w.logger.Debug("files changed", slog.Any("paths", paths))
			w.onChange(paths)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", slog.Any("err", err))
		}
	}
}
