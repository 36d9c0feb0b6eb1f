package credential

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// WatchDir watches dir for new *.json files and enrolls them into m via
// Add, without requiring a restart (SPEC_FULL §4.2). It returns
// immediately after starting a background goroutine; call the returned
// stop func to tear it down. Only meaningful for a FileSource-backed pool.
func (m *Manager) WatchDir(ctx context.Context, dir string) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Ext(ev.Name) != ".json" {
					continue
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
					if err := m.Add(ctx, ev.Name); err != nil {
						log.WithError(err).WithField("file", ev.Name).Warn("credential: hot-reload enroll failed")
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("credential: watcher error")
			}
		}
	}()

	return func() { _ = watcher.Close() }, nil
}
