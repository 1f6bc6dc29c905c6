// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package task spawns the cache's background work: prefetches, ancestor
// backfills, post-navigation warm-ups.
//
// Background failures are structured-logged and never reach the
// goroutine that triggered them; a background error must not fail a
// user-facing operation. Panics are recovered and logged so a bad
// background task cannot take the process down.
package task

import (
	"context"
	"log/slog"
	"sync"
)

// Spawner runs named fire-and-forget tasks with failure logging.
//
// # Thread Safety
//
// Safe for concurrent use. Wait blocks until every spawned task has
// returned, which tests use to make background completion
// deterministic.
type Spawner struct {
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewSpawner creates a spawner. A nil logger falls back to
// slog.Default().
func NewSpawner(logger *slog.Logger) *Spawner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Spawner{logger: logger}
}

// Spawn runs fn on its own goroutine. A returned error is logged at
// Warn with the task name; a panic is recovered and logged at Error.
func (s *Spawner) Spawn(ctx context.Context, name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("background task panicked", "task", name, "panic", r)
			}
		}()
		if err := fn(ctx); err != nil {
			s.logger.Warn("background task failed", "task", name, "error", err)
		}
	}()
}

// Wait blocks until all spawned tasks have finished.
func (s *Spawner) Wait() {
	s.wg.Wait()
}
