// Package memory provides a thread-safe in-memory implementation of the
// storage interfaces. It backs tests and dev-mode runs without touching disk.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/livefeed-labs/feed-gateway/internal/app/domain/feed"
	"github.com/livefeed-labs/feed-gateway/internal/app/domain/ratelimit"
	"github.com/livefeed-labs/feed-gateway/internal/app/storage"
)

// Store is an in-memory FeedStore and RateLimitStore.
type Store struct {
	mu      sync.RWMutex
	feeds   map[string]feed.Feed
	entries map[string]ratelimit.Entry
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		feeds:   make(map[string]feed.Feed),
		entries: make(map[string]ratelimit.Entry),
	}
}

var _ storage.FeedStore = (*Store)(nil)
var _ storage.RateLimitStore = (*Store)(nil)

// FeedStore implementation ----------------------------------------------------

func (s *Store) CreateFeed(_ context.Context, f feed.Feed) (feed.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.feeds[f.ID] = f.Clone()
	return f.Clone(), nil
}

func (s *Store) GetFeed(_ context.Context, id string) (feed.Feed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.feeds[id]
	if !ok {
		return feed.Feed{}, storage.ErrFeedNotFound
	}
	return f.Clone(), nil
}

func (s *Store) ListFeeds(_ context.Context) ([]feed.Feed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]feed.Feed, 0, len(s.feeds))
	for _, f := range s.feeds {
		result = append(result, f.Clone())
	}
	return result, nil
}

func (s *Store) UpdateFeed(_ context.Context, f feed.Feed) (feed.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.feeds[f.ID]; !ok {
		return feed.Feed{}, storage.ErrFeedNotFound
	}
	s.feeds[f.ID] = f.Clone()
	return f.Clone(), nil
}

func (s *Store) DeleteFeed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.feeds[id]; !ok {
		return storage.ErrFeedNotFound
	}
	delete(s.feeds, id)
	return nil
}

func (s *Store) RecordCall(_ context.Context, id string, latencyMs int64, earnedAtomic uint64) (feed.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.feeds[id]
	if !ok {
		return feed.Feed{}, storage.ErrFeedNotFound
	}
	storage.ApplyCall(&f, latencyMs, earnedAtomic, time.Now())
	s.feeds[id] = f
	return f.Clone(), nil
}

// RateLimitStore implementation -----------------------------------------------

func (s *Store) LoadEntries(_ context.Context) (map[string]ratelimit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]ratelimit.Entry, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out, nil
}

func (s *Store) SaveEntries(_ context.Context, entries map[string]ratelimit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]ratelimit.Entry, len(entries))
	for k, v := range entries {
		s.entries[k] = v
	}
	return nil
}
