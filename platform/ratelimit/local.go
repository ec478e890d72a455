// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Local is a process local fixed window limiter guarded by a mutex.
type Local struct {
	mu      sync.Mutex
	limit   int
	windows map[string]*localWindow

	lastSweep time.Time
}

type localWindow struct {
	start time.Time
	count int
}

// NewLocal creates a local limiter allowing limit requests per window.
func NewLocal(limit int) *Local {
	return &Local{
		limit:   limit,
		windows: map[string]*localWindow{},
	}
}

// Allow implements Limiter.
func (local *Local) Allow(ctx context.Context, key string, now time.Time) (bool, error) {
	local.mu.Lock()
	defer local.mu.Unlock()

	if now.Sub(local.lastSweep) > 10*window {
		for key, w := range local.windows {
			if now.Sub(w.start) > window {
				delete(local.windows, key)
			}
		}
		local.lastSweep = now
	}

	w, ok := local.windows[key]
	if !ok || now.Sub(w.start) >= window {
		local.windows[key] = &localWindow{start: now, count: 1}
		return true, nil
	}
	if w.count >= local.limit {
		return false, nil
	}
	w.count++
	return true, nil
}
