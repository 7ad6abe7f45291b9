package snapshot

import (
	"context"
	"sync"

	"github.com/livefeed-labs/feed-gateway/internal/app/domain/ratelimit"
	"github.com/livefeed-labs/feed-gateway/internal/app/storage"
	"github.com/livefeed-labs/feed-gateway/pkg/logger"
)

// RateLimitStore persists the limiter's quota map to ratelimit.json. The
// limiter owns the authoritative state and decides when to flush; this store
// only reads and writes whole snapshots atomically.
type RateLimitStore struct {
	mu   sync.Mutex
	path string
	log  *logger.Logger
}

var _ storage.RateLimitStore = (*RateLimitStore)(nil)

// NewRateLimitStore creates a snapshot store writing to path.
func NewRateLimitStore(path string, log *logger.Logger) *RateLimitStore {
	if log == nil {
		log = logger.NewDefault("ratelimit-store")
	}
	return &RateLimitStore{path: path, log: log}
}

func (s *RateLimitStore) LoadEntries(_ context.Context) (map[string]ratelimit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make(map[string]ratelimit.Entry)
	found, err := loadSnapshot(s.path, &entries)
	if err != nil {
		s.log.WithError(err).Warn("could not parse rate limit snapshot; starting fresh")
		return make(map[string]ratelimit.Entry), nil
	}
	if !found {
		return make(map[string]ratelimit.Entry), nil
	}
	return entries, nil
}

func (s *RateLimitStore) SaveEntries(_ context.Context, entries map[string]ratelimit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := marshalSnapshot(entries)
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, data)
}
