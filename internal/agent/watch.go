package agent

import (
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

const refreshDebounce = 500 * time.Millisecond

// InstallWatcher invalidates the registry's descriptor cache when the managed
// install directory changes, so a freshly installed agent shows up as
// installed without restarting the daemon.
type InstallWatcher struct {
	fsWatcher *fsnotify.Watcher
	registry  *Registry
	logger    *slog.Logger
	done      chan struct{}
}

// WatchInstallDir starts watching dir. The watcher runs until Close.
func WatchInstallDir(dir string, registry *Registry, logger *slog.Logger) (*InstallWatcher, error) {
	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsW.Add(dir); err != nil {
		fsW.Close()
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}
	w := &InstallWatcher{
		fsWatcher: fsW,
		registry:  registry,
		logger:    logger,
		done:      make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *InstallWatcher) loop() {
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Chmod) == 0 {
				continue
			}
			// Debounce: installs touch many files in quick succession.
			if timer == nil {
				timer = time.NewTimer(refreshDebounce)
				fire = timer.C
			} else {
				timer.Reset(refreshDebounce)
			}
		case <-fire:
			timer = nil
			fire = nil
			w.logger.Debug("install dir changed, refreshing agent descriptors")
			w.registry.Refresh()
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("install watcher error", "error", err)
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *InstallWatcher) Close() error {
	close(w.done)
	return w.fsWatcher.Close()
}
