// Package pricing resolves what a single call to a feed costs. The resolver
// is the one place that decides whether a feed is callable at all, so the
// payment gate and the free preview path cannot drift apart.
package pricing

import (
	"context"
	"errors"
	"strconv"

	"github.com/livefeed-labs/feed-gateway/internal/apperr"
	"github.com/livefeed-labs/feed-gateway/internal/app/domain/feed"
	"github.com/livefeed-labs/feed-gateway/internal/app/storage"
)

// Quote is the resolved price for one call.
type Quote struct {
	Feed         feed.Feed
	Price        string // canonical "$x.xx"
	PriceAtomic  string // integer atomic units, decimal string
	AtomicAmount uint64
	Network      string
}

// Service resolves feed pricing.
type Service struct {
	store   storage.FeedStore
	network string
}

// New constructs a pricing service bound to a settlement network.
func New(store storage.FeedStore, network string) *Service {
	return &Service{store: store, network: network}
}

// Resolve looks up the feed and returns its quote. Unknown feeds are 404,
// paused feeds 503, and a method other than the feed's registered one is 404:
// the priced resource is the (feed, method) pair. Quotes are resolved fresh
// on every request.
func (s *Service) Resolve(ctx context.Context, feedID string, method feed.Method) (Quote, error) {
	f, err := s.store.GetFeed(ctx, feedID)
	if err != nil {
		if errors.Is(err, storage.ErrFeedNotFound) {
			return Quote{}, apperr.NotFound("feed")
		}
		return Quote{}, apperr.Internal(err)
	}
	if f.Status != feed.StatusActive {
		return Quote{}, apperr.Unavailable("feed is paused")
	}
	if method != "" && method != f.Method {
		return Quote{}, apperr.NotFound("feed")
	}

	atomic, err := feed.PriceAtomic(f.Price)
	if err != nil {
		return Quote{}, apperr.Internal(err)
	}
	return Quote{
		Feed:         f,
		Price:        f.Price,
		PriceAtomic:  strconv.FormatUint(atomic, 10),
		AtomicAmount: atomic,
		Network:      s.network,
	}, nil
}
