// Package watch polls a single source file for modifications so a command
// can recompile it on every save without the caller managing timers itself.
package watch

import (
	"os"
	"sync"
	"time"
)

// Watcher polls one file's mtime and debounces repeated changes (editors
// often write a file more than once per save) before invoking onChange.
type Watcher struct {
	path     string
	interval time.Duration
	debounce time.Duration
	onChange func(string)

	mu      sync.Mutex
	modTime time.Time
	timer   *time.Timer
	stop    chan struct{}
}

// New creates a Watcher for path. onChange is called (from the watcher's own
// goroutine) no more than once per debounce window after path's mtime advances.
func New(path string, onChange func(string)) (*Watcher, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path:     path,
		interval: 150 * time.Millisecond,
		debounce: 200 * time.Millisecond,
		onChange: onChange,
		modTime:  info.ModTime(),
		stop:     make(chan struct{}),
	}, nil
}

// Run blocks, polling until Close is called.
func (w *Watcher) Run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.check()
		case <-w.stop:
			return
		}
	}
}

func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		return
	}
	if !info.ModTime().After(w.modTime) {
		return
	}
	w.modTime = info.ModTime()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() { w.onChange(w.path) })
}

// Close stops the polling loop.
func (w *Watcher) Close() {
	close(w.stop)
}
