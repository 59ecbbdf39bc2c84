// Package cache holds the computed monthly summaries so repeated views of the
// same month do not rescan the record store.
package cache

import (
	"context"
	"log/slog"
	"time"
)

// Cache defines a generic cache interface.
// A backend failure is reported as a miss; callers always fall back to computing the value.
type Cache[T any] interface {
	// Get retrieves a value from the cache
	Get(ctx context.Context, key string) (T, bool)

	// Set stores a value in the cache
	Set(ctx context.Context, key string, data T)

	// Delete removes keys from the cache
	Delete(ctx context.Context, keys ...string)
}

// Cleaner is implemented by caches that expire entries in place
type Cleaner interface {
	CleanExpired() int
}

// Janitor periodically removes expired entries from registered caches
type Janitor struct {
	caches      []Cleaner
	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

// NewJanitor creates a janitor for the given caches
func NewJanitor(caches ...Cleaner) *Janitor {
	return &Janitor{
		caches:      caches,
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
}

// Start begins periodic cleanup
func (j *Janitor) Start(interval time.Duration) {
	go j.run(interval)
}

func (j *Janitor) run(interval time.Duration) {
	defer close(j.cleanupDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cleaned := 0
			for _, c := range j.caches {
				cleaned += c.CleanExpired()
			}
			if cleaned > 0 {
				slog.Debug("Expired cache entries removed", "count", cleaned)
			}
		case <-j.stopCleanup:
			return
		}
	}
}

// Stop ends the cleanup loop and waits for it to exit. It must be called at most once, after Start.
func (j *Janitor) Stop() {
	close(j.stopCleanup)
	<-j.cleanupDone
}

// Nop never stores anything
type Nop[T any] struct{}

func (Nop[T]) Get(context.Context, string) (T, bool) {
	var zero T
	return zero, false
}

func (Nop[T]) Set(context.Context, string, T) {}

func (Nop[T]) Delete(context.Context, ...string) {}
