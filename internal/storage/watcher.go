// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// EXTERNAL CHANGE WATCHER
// =============================================================================

// watchDebounce coalesces rapid successive writes (the atomic-rename
// commit pattern produces create+rename event pairs).
const watchDebounce = 250 * time.Millisecond

// Watcher reloads the store when the root blob is modified by another
// process, turning external writes into ordinary change notifications.
type Watcher struct {
	store   *Store
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
}

// NewWatcher starts watching the store's directory. The watcher runs
// until Close or until ctx is done.
func NewWatcher(ctx context.Context, store *Store) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory, not the file: atomic renames replace the inode,
	// and a plain file watch would go stale after the first commit.
	if err := fsw.Add(filepath.Dir(store.path)); err != nil {
		fsw.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	w := &Watcher{store: store, watcher: fsw, cancel: cancel}
	go w.run(ctx)
	return w, nil
}

// Close stops the watcher and releases its resources.
func (w *Watcher) Close() error {
	w.cancel()
	return w.watcher.Close()
}

func (w *Watcher) run(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time

	target := filepath.Base(w.store.path)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(watchDebounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			// Our own commits also land here; only foreign writes need a
			// reload.
			if !w.store.recentlyCommitted(time.Second) {
				w.store.reload()
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Watch errors are non-fatal; the store still works without
			// external-change detection.
		}
	}
}
