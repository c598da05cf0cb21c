// Package vault keeps tasks as markdown notes with YAML front matter, one note per task.
// It is the backing store: tasks owned by other sources are imported as notes and converge
// with their origin through the cross-source pass.
package vault

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/harrisonrobin/taskmerge/pkg/model"
	"github.com/harrisonrobin/taskmerge/pkg/reconcile"
	"github.com/harrisonrobin/taskmerge/pkg/sources"
)

const (
	SourceID        = "vault"
	noteExt         = ".md"
	defaultDebounce = 500 * time.Millisecond
)

// Vault is the adapter over a directory of task notes.
type Vault struct {
	root     string
	debounce time.Duration
	log      logrus.FieldLogger

	// mu serializes note writes against each other.
	mu sync.Mutex
}

func New(root string, debounce time.Duration, log logrus.FieldLogger) *Vault {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Vault{root: root, debounce: debounce, log: log.WithField("source", SourceID)}
}

func (v *Vault) ID() string                       { return SourceID }
func (v *Vault) Name() string                     { return "Vault" }
func (v *Vault) Reconciler() reconcile.Reconciler { return reconcile.BackingStore{} }
func (v *Vault) Root() string                     { return v.root }

func (v *Vault) LoadInitialData(ctx context.Context) ([]model.Pending, error) {
	if err := os.MkdirAll(v.root, 0700); err != nil {
		return nil, err
	}
	return v.Refresh(ctx)
}

// Refresh parses every task note under the root. Unreadable notes are logged and skipped.
func (v *Vault) Refresh(ctx context.Context) ([]model.Pending, error) {
	var out []model.Pending
	err := filepath.WalkDir(v.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != v.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !isNote(path) {
			return nil
		}
		p, ok, err := v.readRecord(path)
		if err != nil {
			v.log.WithError(err).WithField("note", path).Warn("skipping unreadable note")
			return nil
		}
		if ok {
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// readRecord returns false without error for notes that are not tasks.
func (v *Vault) readRecord(path string) (model.Pending, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Pending{}, false, err
	}
	n, err := ParseNote(data)
	if errors.Is(err, errNoFrontMatter) {
		return model.Pending{}, false, nil
	}
	if err != nil {
		return model.Pending{}, false, err
	}
	if !n.IsTask() {
		return model.Pending{}, false, nil
	}
	key, err := v.key(path)
	if err != nil {
		return model.Pending{}, false, err
	}
	return n.pending(key), true, nil
}

// key is the slash-separated path of a note relative to the root.
func (v *Vault) key(path string) (string, error) {
	rel, err := filepath.Rel(v.root, path)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

func (v *Vault) path(key string) string {
	return filepath.Join(v.root, filepath.FromSlash(key))
}

func isNote(path string) bool {
	return strings.EqualFold(filepath.Ext(path), noteExt) && !strings.HasPrefix(filepath.Base(path), ".")
}

// Watch reports note changes. Events for one path are coalesced until the vault has been quiet
// for the debounce interval.
func (v *Vault) Watch(ctx context.Context, cb sources.Callbacks) (sources.CancelFunc, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := v.addDirs(w, v.root); err != nil {
		w.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer w.Close()
		v.watchLoop(ctx, w, cb)
	}()

	return func() {
		cancel()
		<-done
	}, nil
}

func (v *Vault) addDirs(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

func (v *Vault) watchLoop(ctx context.Context, w *fsnotify.Watcher, cb sources.Callbacks) {
	pending := make(map[string]struct{})
	timer := time.NewTimer(v.debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := v.addDirs(w, ev.Name); err != nil {
						v.log.WithError(err).WithField("dir", ev.Name).Warn("failed to watch directory")
					}
					continue
				}
			}
			if !isNote(ev.Name) || (ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write)) {
				continue
			}
			pending[ev.Name] = struct{}{}
			timer.Reset(v.debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			v.log.WithError(err).Warn("watcher error")

		case <-timer.C:
			for path := range pending {
				v.emit(path, cb)
			}
			clear(pending)
		}
	}
}

// emit reports the current state of one note: changed when it is a task, deleted otherwise.
func (v *Vault) emit(path string, cb sources.Callbacks) {
	key, err := v.key(path)
	if err != nil {
		return
	}
	p, ok, err := v.readRecord(path)
	switch {
	case errors.Is(err, fs.ErrNotExist), err == nil && !ok:
		if cb.OnItemDeleted != nil {
			cb.OnItemDeleted(key)
		}
	case err != nil:
		v.log.WithError(err).WithField("note", key).Warn("skipping unreadable note")
	default:
		if cb.OnItemChanged != nil {
			cb.OnItemChanged(p)
		}
	}
}
