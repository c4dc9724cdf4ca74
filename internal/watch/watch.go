// Package watch re-runs scenarios when their configuration files change.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jakopako/goverify/internal/log"
)

// DefaultDebounce is the quiet period after the last change before the
// callback runs.
const DefaultDebounce = 500 * time.Millisecond

// A Watcher calls a function whenever a yaml file at one of its paths is
// written, created, renamed or removed. Directories are watched recursively,
// like the configuration loader reads them.
type Watcher struct {
	watcher  *fsnotify.Watcher
	files    []string
	dirs     []string
	Debounce time.Duration
}

// New creates a watcher for the given files and directories. Paths that do
// not exist are an error.
func New(paths ...string) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	w := &Watcher{watcher: watcher, Debounce: DefaultDebounce}
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			watcher.Close()
			return nil, err
		}
		if info.IsDir() {
			if err := w.addTree(p); err != nil {
				watcher.Close()
				return nil, err
			}
			w.dirs = append(w.dirs, filepath.Clean(p))
			continue
		}
		// watch the parent of files, editors often replace files on save
		dir := filepath.Dir(p)
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to watch %q: %w", dir, err)
		}
		w.files = append(w.files, filepath.Clean(p))
	}
	return w, nil
}

// addTree watches root and every directory below it.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %q: %w", path, err)
		}
		return nil
	})
}

func within(dir, name string) bool {
	rel, err := filepath.Rel(dir, name)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// relevant reports whether an event on name concerns one of the watched paths.
func (w *Watcher) relevant(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if ext != ".yml" && ext != ".yaml" {
		return false
	}
	name = filepath.Clean(name)
	for _, p := range w.files {
		if name == p {
			return true
		}
	}
	for _, d := range w.dirs {
		if within(d, name) {
			return true
		}
	}
	return false
}

// watchCreated starts watching directories created below a watched
// directory. It reports whether name is such a directory.
func (w *Watcher) watchCreated(name string) bool {
	info, err := os.Stat(name)
	if err != nil || !info.IsDir() {
		return false
	}
	for _, d := range w.dirs {
		if within(d, name) {
			return w.addTree(name) == nil
		}
	}
	return false
}

// Run calls onChange after every burst of changes until ctx is done. Calls
// never overlap; changes during a call trigger another call afterwards. Run
// closes the watcher before it returns.
func (w *Watcher) Run(ctx context.Context, onChange func(ctx context.Context)) error {
	defer w.watcher.Close()
	logger := log.LoggerFromContext(ctx)

	trigger := make(chan struct{}, 1)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) && w.watchCreated(event.Name) {
				logger.Debug(fmt.Sprintf("watching new directory %s", event.Name))
				continue
			}
			if !w.relevant(event.Name) || (event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write)) {
				continue
			}
			logger.Debug(fmt.Sprintf("file changed: %s", event.Name), slog.String("op", event.Op.String()))
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(w.Debounce, func() {
				select {
				case trigger <- struct{}{}:
				default:
				}
			})
		case <-trigger:
			onChange(ctx)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn(fmt.Sprintf("file watcher error: %v", err))
		}
	}
}
