// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the bursts of write events editors produce into
// one reload.
const watchDebounce = 250 * time.Millisecond

// Watcher reloads the config file when it changes on disk. It exists for
// long-lived embedders of this module; the one-shot CLI loads the config
// once per invocation and does not start one.
type Watcher struct {
	fs       *fsnotify.Watcher
	path     string
	onChange func(*Config)
	done     chan struct{}
}

// Watch starts watching the default config file. onChange receives each
// successfully reloaded config; invalid intermediate states are logged and
// skipped.
func Watch(onChange func(*Config)) (*Watcher, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return WatchPath(path, onChange)
}

// WatchPath starts watching a specific config file.
func WatchPath(path string, onChange func(*Config)) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory, not the file. Atomic saves replace the inode,
	// which drops a file-level watch.
	if err := fs.Add(filepath.Dir(path)); err != nil {
		fs.Close()
		return nil, err
	}

	w := &Watcher{
		fs:       fs,
		path:     path,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fs.Close()
}

func (w *Watcher) run() {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
				timerC = timer.C
			} else {
				timer.Reset(watchDebounce)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Printf("config: watch error: %v", err)
		case <-timerC:
			timer = nil
			timerC = nil
			cfg, err := LoadFromPath(w.path)
			if err != nil {
				log.Printf("config: reload skipped: %v", err)
				continue
			}
			w.onChange(cfg)
		}
	}
}
