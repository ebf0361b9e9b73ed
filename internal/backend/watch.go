package backend

import (
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher hot-loads/unloads backend images as .so files appear or disappear
// in a configured directory, deriving each image's registered name from its
// file name (stripping the configured prefix/suffix, matching the original
// engine's pulley_<name>.so convention).
type Watcher struct {
	mgr    *Manager
	dir    string
	prefix string
	suffix string
	log    logrus.FieldLogger
	fsw    *fsnotify.Watcher
}

// NewWatcher starts watching dir for plug-in image changes.
func NewWatcher(mgr *Manager, dir, prefix, suffix string, log logrus.FieldLogger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	w := &Watcher{mgr: mgr, dir: dir, prefix: prefix, suffix: suffix, log: log, fsw: fsw}
	go w.loop()
	return w, nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("backend directory watch error")
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	name, ok := w.imageName(ev.Name)
	if !ok {
		return
	}

	switch {
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		if err := w.mgr.Load(name, ev.Name); err != nil {
			w.log.WithError(err).WithField("backend", name).Warn("failed to load backend image")
			return
		}
		w.log.WithField("backend", name).Info("loaded backend image")
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		if err := w.mgr.Unload(name); err != nil {
			w.log.WithError(err).WithField("backend", name).Warn("failed to unload backend image")
			return
		}
		w.log.WithField("backend", name).Info("unloaded backend image")
	}
}

// imageName derives a backend's registered name from a file path, e.g.
// "libexample.so" with prefix "lib" and suffix ".so" yields "example".
func (w *Watcher) imageName(path string) (string, bool) {
	base := filepath.Base(path)
	if w.suffix != "" && !strings.HasSuffix(base, w.suffix) {
		return "", false
	}
	base = strings.TrimSuffix(base, w.suffix)
	base = strings.TrimPrefix(base, w.prefix)
	if base == "" {
		return "", false
	}
	return base, true
}
