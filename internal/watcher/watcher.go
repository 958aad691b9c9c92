// Package watcher hot-reloads the provider pools file. Edits made while
// the server runs are picked up without a restart: the pools are
// re-read under the manager's lock and lifecycle records are re-seeded
// for credentials that appeared.
package watcher

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/justlovemaki/AIClient-2-API/internal/lifecycle"
	"github.com/justlovemaki/AIClient-2-API/internal/pool"
	log "github.com/sirupsen/logrus"
)

// debounce coalesces the editor write-rename-chmod bursts into one
// reload.
const debounce = 500 * time.Millisecond

// Watcher reloads the pool manager when the pools file changes.
type Watcher struct {
	poolsFile string
	poolMgr   *pool.Manager
	store     *lifecycle.Store
	fsWatcher *fsnotify.Watcher
}

// NewWatcher builds a watcher over the pools file.
func NewWatcher(poolsFile string, poolMgr *pool.Manager, store *lifecycle.Store) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		poolsFile: poolsFile,
		poolMgr:   poolMgr,
		store:     store,
		fsWatcher: fsWatcher,
	}, nil
}

// Start begins watching until the context is cancelled. The containing
// directory is watched because editors replace files by rename.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.fsWatcher.Add(filepath.Dir(w.poolsFile)); err != nil {
		return err
	}
	go w.loop(ctx)
	return nil
}

// Stop releases the underlying fsnotify watcher.
func (w *Watcher) Stop() error {
	return w.fsWatcher.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	var pending *time.Timer
	pendingC := make(chan struct{}, 1)

	schedule := func() {
		if pending != nil {
			pending.Stop()
		}
		pending = time.AfterFunc(debounce, func() {
			select {
			case pendingC <- struct{}{}:
			default:
			}
		})
	}

	target := filepath.Clean(w.poolsFile)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			log.Debugf("watcher: pools file event %s", event.Op)
			schedule()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Warnf("watcher: %v", err)

		case <-pendingC:
			w.reload()
		}
	}
}

// reload re-reads the pools file and re-seeds lifecycle records for any
// credentials the edit introduced.
func (w *Watcher) reload() {
	if err := w.poolMgr.Load(); err != nil {
		log.Errorf("watcher: pools reload failed, keeping previous pools: %v", err)
		return
	}
	w.store.InitializeFromPools(w.poolMgr.Seeds())
	log.Infof("watcher: pools file reloaded")
}
