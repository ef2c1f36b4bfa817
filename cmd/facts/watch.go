// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultReloadDebounce is how long serve --watch waits for further
// writes before rebuilding the store.
const defaultReloadDebounce = 250 * time.Millisecond

// swapHandler serves every request with the most recently stored handler.
//
// Thread Safety: Safe for concurrent use. Requests in flight keep the
// handler they started with.
type swapHandler struct {
	current atomic.Pointer[http.Handler]
}

// Store replaces the handler used for new requests.
func (s *swapHandler) Store(h http.Handler) {
	s.current.Store(&h)
}

func (s *swapHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h := s.current.Load()
	if h == nil {
		http.Error(w, "service starting", http.StatusServiceUnavailable)
		return
	}
	(*h).ServeHTTP(w, r)
}

// dumpWatcher reports changes to a fixed set of fact dump files.
//
// Description:
//
//	Watches the directories holding the dumps rather than the files, so
//	dumps rewritten by rename (as most editors and atomic writers do)
//	keep being seen. Bursts of events are debounced into one reload.
//
// Thread Safety: Run must be called once.
type dumpWatcher struct {
	watcher  *fsnotify.Watcher
	targets  map[string]struct{}
	debounce time.Duration
	logger   *slog.Logger
}

// newDumpWatcher starts watching the directories of paths.
func newDumpWatcher(paths []string, debounce time.Duration, logger *slog.Logger) (*dumpWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = defaultReloadDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	targets := make(map[string]struct{}, len(paths))
	dirs := make(map[string]struct{})
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		targets[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			w.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	return &dumpWatcher{watcher: w, targets: targets, debounce: debounce, logger: logger}, nil
}

// Run calls reload after each debounced burst of writes to a watched dump
// until ctx is done. It closes the watcher on return.
func (d *dumpWatcher) Run(ctx context.Context, reload func()) error {
	defer d.watcher.Close()

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-d.watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			abs, err := filepath.Abs(ev.Name)
			if err != nil {
				continue
			}
			if _, ok := d.targets[abs]; !ok {
				continue
			}
			d.logger.Debug("fact dump changed", "path", abs, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(d.debounce)
			} else {
				timer.Reset(d.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			reload()

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return nil
			}
			d.logger.Warn("dump watcher error", "error", err)
		}
	}
}
