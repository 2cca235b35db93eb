// Package knowledge loads the onboarding knowledge base injected into the
// reply prompt. The backing file is watched and hot-reloaded so editors can
// update guidance without a restart.
package knowledge

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 750 * time.Millisecond

// Loader holds the current knowledge base text.
type Loader struct {
	path string

	mu   sync.RWMutex
	text string

	watchMu  sync.Mutex
	watcher  *fsnotify.Watcher
	timer    *time.Timer
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewLoader reads the knowledge file at path. An empty path yields a loader
// with no text, which is valid: the prompt simply omits the knowledge section.
func NewLoader(path string) (*Loader, error) {
	l := &Loader{stopCh: make(chan struct{})}
	if path == "" {
		return l, nil
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	l.path = filepath.Clean(path)

	if err := l.reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Text returns the current knowledge base content.
func (l *Loader) Text() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.text
}

// Watch begins watching the knowledge file for changes. No-op when the loader
// has no backing file.
func (l *Loader) Watch() error {
	if l.path == "" {
		return nil
	}

	l.watchMu.Lock()
	if l.watcher != nil {
		l.watchMu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		l.watchMu.Unlock()
		return err
	}
	l.watcher = watcher
	l.watchMu.Unlock()

	// Watch the directory: editors replace files via rename, which drops a
	// watch placed on the file itself.
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		_ = watcher.Close()
		l.watchMu.Lock()
		l.watcher = nil
		l.watchMu.Unlock()
		return err
	}

	go l.watchLoop(watcher)
	return nil
}

// Stop terminates the watcher.
func (l *Loader) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		l.watchMu.Lock()
		if l.timer != nil {
			l.timer.Stop()
			l.timer = nil
		}
		if l.watcher != nil {
			_ = l.watcher.Close()
			l.watcher = nil
		}
		l.watchMu.Unlock()
	})
}

func (l *Loader) watchLoop(watcher *fsnotify.Watcher) {
	for {
		select {
		case <-l.stopCh:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != l.path {
				continue
			}
			l.scheduleReload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("knowledge watcher error", "error", err)
		}
	}
}

func (l *Loader) scheduleReload() {
	l.watchMu.Lock()
	defer l.watchMu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
	}
	l.timer = time.AfterFunc(watchDebounce, func() {
		select {
		case <-l.stopCh:
			return
		default:
		}
		if err := l.reload(); err != nil {
			slog.Warn("knowledge reload failed", "path", l.path, "error", err)
			return
		}
		slog.Info("knowledge base reloaded", "path", l.path)
	})
}

func (l *Loader) reload() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("read knowledge base: %w", err)
	}
	l.mu.Lock()
	l.text = string(data)
	l.mu.Unlock()
	return nil
}
