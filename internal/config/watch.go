package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"

	lomerrors "github.com/sonic-net/lom-engine/pkg/shared/errors"
)

// Watcher reports writes and creates of the four JSON config files on
// disk, a supplementary reload trigger (SPEC_FULL.md §2 ambient stack)
// alongside SIGHUP (spec.md §4.7 step 6). It neither handles signals nor
// reloads Config itself; the caller reacts to Events.
type Watcher struct {
	dir string
	log logr.Logger
	fsw *fsnotify.Watcher
}

// NewWatcher starts watching dir for changes. Callers must call Close when
// done.
func NewWatcher(dir string, log logr.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, lomerrors.FailedTo("start config file watcher", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, lomerrors.FailedToWithDetails("watch config directory", "config", dir, err)
	}
	return &Watcher{dir: dir, log: log, fsw: fsw}, nil
}

// Events exposes the filtered channel of reload-worthy events: writes or
// creates of any of the four recognized config file names.
func (w *Watcher) Events() <-chan struct{} {
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		for {
			select {
			case ev, ok := <-w.fsw.Events:
				if !ok {
					return
				}
				if !isConfigFile(ev.Name) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			case err, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
				w.log.Error(err, "config watcher error", "dir", w.dir)
			}
		}
	}()
	return out
}

func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func isConfigFile(path string) bool {
	base := baseName(path)
	switch base {
	case actionsFileName, bindingsFileName, procsFileName, globalsFileName:
		return true
	default:
		return false
	}
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
