package snapshot

import (
	"context"
	"sync"
	"time"

	"github.com/livefeed-labs/feed-gateway/internal/app/domain/feed"
	"github.com/livefeed-labs/feed-gateway/internal/app/storage"
	"github.com/livefeed-labs/feed-gateway/pkg/logger"
)

// FeedStore is the file-backed feed registry: an id-keyed in-memory map
// persisted to feeds.json on every mutation. Mutations are serialized by the
// store lock, so increments never race; reads return clones.
type FeedStore struct {
	mu    sync.RWMutex
	path  string
	feeds map[string]feed.Feed
	log   *logger.Logger
}

var _ storage.FeedStore = (*FeedStore)(nil)

// NewFeedStore loads the snapshot at path, starting empty when the file is
// missing or unreadable. An unparsable snapshot is logged and ignored rather
// than failing startup.
func NewFeedStore(path string, log *logger.Logger) (*FeedStore, error) {
	if log == nil {
		log = logger.NewDefault("feed-store")
	}
	s := &FeedStore{
		path:  path,
		feeds: make(map[string]feed.Feed),
		log:   log,
	}

	var loaded map[string]feed.Feed
	found, err := loadSnapshot(path, &loaded)
	if err != nil {
		log.WithError(err).Warn("could not parse feed snapshot; starting empty")
	} else if found {
		s.feeds = loaded
		log.Infof("loaded %d feed(s) from disk", len(loaded))
	}
	return s, nil
}

// Len returns the number of stored feeds.
func (s *FeedStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.feeds)
}

func (s *FeedStore) saveLocked() error {
	data, err := marshalSnapshot(s.feeds)
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, data)
}

func (s *FeedStore) CreateFeed(_ context.Context, f feed.Feed) (feed.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.feeds[f.ID] = f.Clone()
	if err := s.saveLocked(); err != nil {
		delete(s.feeds, f.ID)
		return feed.Feed{}, err
	}
	return f.Clone(), nil
}

func (s *FeedStore) GetFeed(_ context.Context, id string) (feed.Feed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.feeds[id]
	if !ok {
		return feed.Feed{}, storage.ErrFeedNotFound
	}
	return f.Clone(), nil
}

func (s *FeedStore) ListFeeds(_ context.Context) ([]feed.Feed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]feed.Feed, 0, len(s.feeds))
	for _, f := range s.feeds {
		result = append(result, f.Clone())
	}
	return result, nil
}

func (s *FeedStore) UpdateFeed(_ context.Context, f feed.Feed) (feed.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.feeds[f.ID]
	if !ok {
		return feed.Feed{}, storage.ErrFeedNotFound
	}
	s.feeds[f.ID] = f.Clone()
	if err := s.saveLocked(); err != nil {
		s.feeds[f.ID] = prev
		return feed.Feed{}, err
	}
	return f.Clone(), nil
}

func (s *FeedStore) DeleteFeed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.feeds[id]
	if !ok {
		return storage.ErrFeedNotFound
	}
	delete(s.feeds, id)
	if err := s.saveLocked(); err != nil {
		s.feeds[id] = prev
		return err
	}
	return nil
}

func (s *FeedStore) RecordCall(_ context.Context, id string, latencyMs int64, earnedAtomic uint64) (feed.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.feeds[id]
	if !ok {
		return feed.Feed{}, storage.ErrFeedNotFound
	}
	storage.ApplyCall(&f, latencyMs, earnedAtomic, time.Now())
	s.feeds[id] = f
	if err := s.saveLocked(); err != nil {
		// The in-memory state stays authoritative; the next successful
		// save re-commits it.
		s.log.WithError(err).Warn("feed snapshot save failed")
	}
	return f.Clone(), nil
}
