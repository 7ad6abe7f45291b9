// Package storage defines the persistence contracts for the gateway. All
// implementations serialize mutations per store and hand out copies, never
// references to internal state.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/livefeed-labs/feed-gateway/internal/app/domain/feed"
	"github.com/livefeed-labs/feed-gateway/internal/app/domain/ratelimit"
)

// ErrFeedNotFound is returned for unknown feed IDs.
var ErrFeedNotFound = errors.New("feed not found")

// FeedStore persists feed records and their running statistics.
type FeedStore interface {
	CreateFeed(ctx context.Context, f feed.Feed) (feed.Feed, error)
	GetFeed(ctx context.Context, id string) (feed.Feed, error)
	ListFeeds(ctx context.Context) ([]feed.Feed, error)
	UpdateFeed(ctx context.Context, f feed.Feed) (feed.Feed, error)
	DeleteFeed(ctx context.Context, id string) error

	// RecordCall applies one completed call to the feed's statistics as a
	// single serialized read-modify-write: concurrent calls for the same
	// feed must not lose increments.
	RecordCall(ctx context.Context, id string, latencyMs int64, earnedAtomic uint64) (feed.Feed, error)
}

// RateLimitStore persists the free-preview quota snapshot. The limiter owns
// the authoritative in-memory state; the store only loads and saves whole
// snapshots atomically.
type RateLimitStore interface {
	LoadEntries(ctx context.Context) (map[string]ratelimit.Entry, error)
	SaveEntries(ctx context.Context, entries map[string]ratelimit.Entry) error
}

// ApplyCall folds one completed call into a feed record. The rolling average
// latency stays the integer-rounded running mean of all recorded latencies.
// Callers must hold the store's write lock for the feed.
func ApplyCall(f *feed.Feed, latencyMs int64, earnedAtomic uint64, now time.Time) {
	if latencyMs < 0 {
		latencyMs = 0
	}
	prevTotal := f.AvgLatencyMs * int64(f.CallCount)
	f.CallCount++
	f.TotalEarnedAtomic += earnedAtomic
	f.AvgLatencyMs = (prevTotal + latencyMs + int64(f.CallCount)/2) / int64(f.CallCount)
	ts := now.UTC()
	f.LastCalledAt = &ts
}
