package poll

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/JonMunkholm/telemetry-recorder/internal/core"
	"github.com/JonMunkholm/telemetry-recorder/internal/logging"
	"github.com/JonMunkholm/telemetry-recorder/internal/metrics"
)

// Watcher turns file changes into cycle triggers. Files are watched through
// their parent directory so editors that replace the file are still seen.
type Watcher struct {
	fsw      *fsnotify.Watcher
	files    map[string]bool // exact files
	dirs     map[string]bool // any non-hidden file inside
	ignored  map[string]bool // never trigger, e.g. sink output
	debounce *Debouncer
	changes  *ChangeDetector
	metrics  *metrics.Recorder
	events   chan string
}

// NewWatcher watches the given files and folders. A path that does not
// exist yet is treated as a file.
func NewWatcher(paths []string, cooldown time.Duration, m *metrics.Recorder) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: %w: %v", core.ErrConfig, err)
	}
	w := newWatcher(cooldown, nil, m)
	w.fsw = fsw

	for _, p := range paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watcher: %w: %v", core.ErrConfig, err)
		}
		dir := abs
		if info, err := os.Stat(abs); err == nil && info.IsDir() {
			w.dirs[abs] = true
		} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
			fsw.Close()
			return nil, fmt.Errorf("watcher: %w: %v", core.ErrConfig, err)
		} else {
			w.files[abs] = true
			dir = filepath.Dir(abs)
		}
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watcher: %w: watch %s: %v", core.ErrConfig, dir, err)
		}
	}
	return w, nil
}

func newWatcher(cooldown time.Duration, now func() time.Time, m *metrics.Recorder) *Watcher {
	return &Watcher{
		files:    make(map[string]bool),
		dirs:     make(map[string]bool),
		ignored:  make(map[string]bool),
		debounce: NewDebouncer(cooldown, now),
		changes:  NewChangeDetector(),
		metrics:  m,
		events:   make(chan string, 1),
	}
}

// Ignore excludes paths from triggering, so the recorder's own output inside
// a watched folder does not start cycles.
func (w *Watcher) Ignore(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if abs, err := filepath.Abs(p); err == nil {
			w.ignored[abs] = true
		}
	}
}

// Events delivers accepted file paths.
func (w *Watcher) Events() <-chan string { return w.events }

// Run forwards accepted events until ctx is done, then closes the
// underlying watcher.
func (w *Watcher) Run(ctx context.Context) {
	logger := logging.FromContext(ctx)
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			path, result := w.handle(ev)
			if result == "" {
				continue
			}
			logger.Debug("file event", "path", path, "op", ev.Op.String(), "result", result)
			if result != metrics.WatchAccepted {
				continue
			}
			select {
			case w.events <- path:
			case <-ctx.Done():
				return
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Warn("watcher error", "error", err)
		}
	}
}

// handle classifies one event. An empty result means the event is not
// for a watched file.
func (w *Watcher) handle(ev fsnotify.Event) (string, string) {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return "", ""
	}
	path := filepath.Clean(ev.Name)
	if !w.watches(path) {
		return "", ""
	}

	result := metrics.WatchAccepted
	switch {
	case !w.debounce.Allow(path):
		result = metrics.WatchCooldown
	case !w.changes.Changed(path):
		result = metrics.WatchUnchanged
	}
	w.metrics.WatchEvent(result)
	return path, result
}

func (w *Watcher) watches(path string) bool {
	if w.ignored[path] {
		return false
	}
	if w.files[path] {
		return true
	}
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	return w.dirs[filepath.Dir(path)]
}
