// Package stats records completed paid calls into feed statistics and serves
// the per-feed and per-provider aggregate views.
package stats

import (
	"context"
	"errors"
	"time"

	"github.com/livefeed-labs/feed-gateway/internal/apperr"
	"github.com/livefeed-labs/feed-gateway/internal/app/domain/feed"
	"github.com/livefeed-labs/feed-gateway/internal/app/storage"
	"github.com/livefeed-labs/feed-gateway/internal/chain"
	"github.com/livefeed-labs/feed-gateway/pkg/logger"
)

// FeedStats is the per-feed statistics view.
type FeedStats struct {
	FeedID       string     `json:"feedId"`
	Name         string     `json:"name"`
	CallCount    uint64     `json:"callCount"`
	TotalEarned  string     `json:"totalEarned"`
	AvgLatencyMs int64      `json:"avgLatencyMs"`
	LastCalledAt *time.Time `json:"lastCalledAt"`
}

// ProviderStats aggregates a provider's feeds plus their live wallet balance.
type ProviderStats struct {
	Address     string         `json:"address"`
	FeedCount   int            `json:"feedCount"`
	TotalCalls  uint64         `json:"totalCalls"`
	TotalEarned string         `json:"totalEarned"`
	Feeds       []FeedStats    `json:"feeds"`
	Balances    chain.Balances `json:"balances"`
}

// Service records and serves call statistics.
type Service struct {
	store storage.FeedStore
	chain *chain.Client
	log   *logger.Logger
}

// New constructs a stats service. The chain client is optional; without it
// provider views carry zero balances.
func New(store storage.FeedStore, chainClient *chain.Client, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("stats")
	}
	return &Service{store: store, chain: chainClient, log: log}
}

// Record folds one completed call into the feed's statistics. A feed deleted
// between the call and the record is logged and swallowed: statistics must
// never fail or block a response already sent.
func (s *Service) Record(ctx context.Context, feedID string, latencyMs int64, earnedAtomic uint64) {
	if _, err := s.store.RecordCall(ctx, feedID, latencyMs, earnedAtomic); err != nil {
		if errors.Is(err, storage.ErrFeedNotFound) {
			s.log.WithField("feedId", feedID).Info("stats dropped for deleted feed")
			return
		}
		s.log.WithField("feedId", feedID).WithError(err).Error("stats record failed")
	}
}

// ForFeed returns the statistics view for one feed.
func (s *Service) ForFeed(ctx context.Context, feedID string) (FeedStats, error) {
	f, err := s.store.GetFeed(ctx, feedID)
	if err != nil {
		if errors.Is(err, storage.ErrFeedNotFound) {
			return FeedStats{}, apperr.NotFound("feed")
		}
		return FeedStats{}, apperr.Internal(err)
	}
	return feedView(f), nil
}

// ForProvider aggregates every feed owned by the address and attaches the
// wallet balances. Balance lookups degrade to zero, never an error.
func (s *Service) ForProvider(ctx context.Context, address string) (ProviderStats, error) {
	if !feed.IsHexAddress(address) {
		return ProviderStats{}, apperr.Validation("address must be a 0x-prefixed 40-hex-digit address")
	}

	feeds, err := s.store.ListFeeds(ctx)
	if err != nil {
		return ProviderStats{}, apperr.Internal(err)
	}

	out := ProviderStats{
		Address:  address,
		Feeds:    make([]FeedStats, 0),
		Balances: chain.ZeroBalances(),
	}
	var earnedAtomic uint64
	for _, f := range feeds {
		if !f.OwnedBy(address) {
			continue
		}
		out.FeedCount++
		out.TotalCalls += f.CallCount
		earnedAtomic += f.TotalEarnedAtomic
		out.Feeds = append(out.Feeds, feedView(f))
	}
	out.TotalEarned = "$" + feed.HumanUnits(earnedAtomic)

	if s.chain != nil {
		out.Balances = s.chain.WalletBalances(ctx, address)
	}
	return out, nil
}

func feedView(f feed.Feed) FeedStats {
	return FeedStats{
		FeedID:       f.ID,
		Name:         f.Name,
		CallCount:    f.CallCount,
		TotalEarned:  "$" + feed.HumanUnits(f.TotalEarnedAtomic),
		AvgLatencyMs: f.AvgLatencyMs,
		LastCalledAt: f.LastCalledAt,
	}
}
