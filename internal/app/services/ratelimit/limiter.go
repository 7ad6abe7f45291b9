// Package ratelimit implements the free-preview quota: a fixed window of
// calls per (feed, caller) with debounced snapshot persistence.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/livefeed-labs/feed-gateway/internal/app/domain/ratelimit"
	"github.com/livefeed-labs/feed-gateway/internal/app/storage"
	"github.com/livefeed-labs/feed-gateway/pkg/logger"
)

// Decision is the outcome of one quota check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter enforces a fixed-window quota keyed by feed and caller. It owns
// the authoritative in-memory state; the store only holds snapshots.
type Limiter struct {
	store      storage.RateLimitStore
	maxCalls   int
	window     time.Duration
	flushDelay time.Duration
	log        *logger.Logger

	mu      sync.Mutex
	entries map[string]ratelimit.Entry
	dirty   bool
	timer   *time.Timer
	closed  bool

	now func() time.Time
}

// New constructs a limiter. The persisted snapshot is loaded eagerly with
// expired windows dropped; a missing or unreadable snapshot starts empty.
func New(store storage.RateLimitStore, maxCalls int, window, flushDelay time.Duration, log *logger.Logger) *Limiter {
	if log == nil {
		log = logger.NewDefault("ratelimit")
	}
	l := &Limiter{
		store:      store,
		maxCalls:   maxCalls,
		window:     window,
		flushDelay: flushDelay,
		log:        log,
		entries:    make(map[string]ratelimit.Entry),
		now:        time.Now,
	}

	if store != nil {
		loaded, err := store.LoadEntries(context.Background())
		if err != nil {
			log.WithError(err).Warn("rate limit snapshot unreadable, starting empty")
		} else {
			now := l.now()
			for key, e := range loaded {
				if !e.Expired(now) {
					l.entries[key] = e
				}
			}
		}
	}
	return l
}

// Check consumes one quota slot for the caller on the feed, or denies when
// the window is exhausted. A denied call never increments the count, and the
// denial carries the same ResetAt as the window's first call.
func (l *Limiter) Check(feedID, caller string) Decision {
	key := ratelimit.Key(feedID, caller)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok || e.Expired(now) {
		e = ratelimit.Entry{Count: 1, ResetAt: now.Add(l.window)}
		l.entries[key] = e
		l.markDirtyLocked()
		return Decision{Allowed: true, Remaining: l.maxCalls - 1, ResetAt: e.ResetAt}
	}

	if e.Count >= l.maxCalls {
		return Decision{Allowed: false, Remaining: 0, ResetAt: e.ResetAt}
	}

	e.Count++
	l.entries[key] = e
	l.markDirtyLocked()
	return Decision{Allowed: true, Remaining: l.maxCalls - e.Count, ResetAt: e.ResetAt}
}

// Prune drops expired windows from memory and schedules a flush if anything
// was removed.
func (l *Limiter) Prune() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, e := range l.entries {
		if e.Expired(now) {
			delete(l.entries, key)
			removed++
		}
	}
	if removed > 0 {
		l.markDirtyLocked()
	}
	return removed
}

// markDirtyLocked schedules a single coalesced flush. Callers hold l.mu.
func (l *Limiter) markDirtyLocked() {
	l.dirty = true
	if l.closed || l.timer != nil {
		return
	}
	l.timer = time.AfterFunc(l.flushDelay, l.flush)
}

// flush persists the unexpired entries as one atomic snapshot.
func (l *Limiter) flush() {
	l.mu.Lock()
	l.timer = nil
	if !l.dirty {
		l.mu.Unlock()
		return
	}
	l.dirty = false

	now := l.now()
	snapshot := make(map[string]ratelimit.Entry, len(l.entries))
	for key, e := range l.entries {
		if !e.Expired(now) {
			snapshot[key] = e
		}
	}
	l.mu.Unlock()

	if l.store == nil {
		return
	}
	if err := l.store.SaveEntries(context.Background(), snapshot); err != nil {
		l.log.WithError(err).Error("rate limit snapshot save failed")
	}
}

// Name implements system.Service.
func (l *Limiter) Name() string { return "ratelimit" }

// Start implements system.Service. The limiter is usable from construction;
// start is a no-op.
func (l *Limiter) Start(ctx context.Context) error { return nil }

// Stop cancels any pending debounce timer and drains one final flush so no
// consumed quota is lost across a restart.
func (l *Limiter) Stop(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.mu.Unlock()

	l.flush()
	return nil
}
