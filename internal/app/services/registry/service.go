// Package registry manages the lifecycle of marketplace feeds: registration,
// catalog listing, pause/resume and deletion, with provider ownership checks.
package registry

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/livefeed-labs/feed-gateway/internal/apperr"
	"github.com/livefeed-labs/feed-gateway/internal/app/domain/feed"
	"github.com/livefeed-labs/feed-gateway/internal/app/storage"
	"github.com/livefeed-labs/feed-gateway/pkg/logger"
)

// RegisterInput carries the provider-supplied fields for a new feed.
type RegisterInput struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	Category        string `json:"category"`
	UpstreamURL     string `json:"upstreamUrl"`
	Method          string `json:"method"`
	Price           string `json:"price"`
	ProviderAddress string `json:"providerAddress"`
}

// Sort orders for catalog listings.
const (
	SortCalls  = "calls"
	SortPrice  = "price"
	SortNewest = "newest"
)

// Service manages feed registrations.
type Service struct {
	store storage.FeedStore
	log   *logger.Logger
	now   func() time.Time
}

// New constructs a registry service.
func New(store storage.FeedStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("registry")
	}
	return &Service{
		store: store,
		log:   log,
		now:   time.Now,
	}
}

// Register validates and stores a new feed. Stats start zeroed and the feed
// is immediately active.
func (s *Service) Register(ctx context.Context, in RegisterInput) (feed.Feed, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return feed.Feed{}, apperr.Validation("name is required")
	}
	upstream := strings.TrimSpace(in.UpstreamURL)
	if upstream == "" {
		return feed.Feed{}, apperr.Validation("upstreamUrl is required")
	}
	parsed, err := url.Parse(upstream)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return feed.Feed{}, apperr.Validation("upstreamUrl must be an absolute http(s) URL")
	}

	category := feed.Category(strings.ToLower(strings.TrimSpace(in.Category)))
	if category == "" {
		category = feed.CategoryCustom
	}
	if !category.Valid() {
		return feed.Feed{}, apperr.Validation("unknown category %q", in.Category)
	}

	method := feed.Method(strings.ToUpper(strings.TrimSpace(in.Method)))
	if method == "" {
		method = feed.MethodGet
	}
	if !method.Valid() {
		return feed.Feed{}, apperr.Validation("method must be GET or POST")
	}

	price, err := feed.NormalizePrice(in.Price)
	if err != nil {
		return feed.Feed{}, apperr.Validation("%s", err.Error())
	}

	provider := strings.TrimSpace(in.ProviderAddress)
	if !feed.IsHexAddress(provider) {
		return feed.Feed{}, apperr.Validation("providerAddress must be a 0x-prefixed 40-hex-digit address")
	}

	f := feed.Feed{
		ID:              uuid.NewString(),
		Name:            name,
		Description:     strings.TrimSpace(in.Description),
		Category:        category,
		UpstreamURL:     upstream,
		Method:          method,
		Price:           price,
		ProviderAddress: provider,
		Status:          feed.StatusActive,
		CreatedAt:       s.now().UTC(),
	}

	f, err = s.store.CreateFeed(ctx, f)
	if err != nil {
		return feed.Feed{}, apperr.Internal(err)
	}

	s.log.WithField("feedId", f.ID).
		WithField("provider", f.ProviderAddress).
		WithField("price", f.Price).
		Info("feed registered")
	return f, nil
}

// GetPublic returns the consumer-visible view of an active feed.
func (s *Service) GetPublic(ctx context.Context, id string) (feed.PublicView, error) {
	f, err := s.get(ctx, id)
	if err != nil {
		return feed.PublicView{}, err
	}
	if f.Status != feed.StatusActive {
		return feed.PublicView{}, apperr.NotFound("feed")
	}
	return f.Public(), nil
}

// Get returns the full feed record, upstream target included. Callers must
// not serialize it to consumers.
func (s *Service) Get(ctx context.Context, id string) (feed.Feed, error) {
	return s.get(ctx, id)
}

// Catalog lists active feeds, optionally filtered by category and sorted.
func (s *Service) Catalog(ctx context.Context, category, sortBy string) ([]feed.PublicView, error) {
	feeds, err := s.store.ListFeeds(ctx)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	var filter feed.Category
	if trimmed := strings.ToLower(strings.TrimSpace(category)); trimmed != "" {
		filter = feed.Category(trimmed)
		if !filter.Valid() {
			return nil, apperr.Validation("unknown category %q", category)
		}
	}

	views := make([]feed.PublicView, 0, len(feeds))
	for _, f := range feeds {
		if f.Status != feed.StatusActive {
			continue
		}
		if filter != "" && f.Category != filter {
			continue
		}
		views = append(views, f.Public())
	}
	sortViews(views, sortBy)
	return views, nil
}

// CategoryCounts returns the number of active feeds per category, every known
// category present even when zero.
func (s *Service) CategoryCounts(ctx context.Context) (map[feed.Category]int, error) {
	feeds, err := s.store.ListFeeds(ctx)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	counts := make(map[feed.Category]int, len(feed.Categories))
	for _, c := range feed.Categories {
		counts[c] = 0
	}
	for _, f := range feeds {
		if f.Status == feed.StatusActive {
			counts[f.Category]++
		}
	}
	return counts, nil
}

// ListOwned returns every feed registered by the given provider address,
// full records included, newest first.
func (s *Service) ListOwned(ctx context.Context, providerAddress string) ([]feed.Feed, error) {
	if !feed.IsHexAddress(strings.TrimSpace(providerAddress)) {
		return nil, apperr.Validation("address must be a 0x-prefixed 40-hex-digit address")
	}
	feeds, err := s.store.ListFeeds(ctx)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	owned := make([]feed.Feed, 0)
	for _, f := range feeds {
		if f.OwnedBy(providerAddress) {
			owned = append(owned, f)
		}
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].CreatedAt.After(owned[j].CreatedAt) })
	return owned, nil
}

// TogglePause flips a feed between active and paused. Only the registered
// provider may toggle.
func (s *Service) TogglePause(ctx context.Context, id, claimedAddress string) (feed.Feed, error) {
	f, err := s.get(ctx, id)
	if err != nil {
		return feed.Feed{}, err
	}
	if !f.OwnedBy(claimedAddress) {
		return feed.Feed{}, apperr.Unauthorized("address does not own this feed")
	}

	if f.Status == feed.StatusActive {
		f.Status = feed.StatusPaused
	} else {
		f.Status = feed.StatusActive
	}

	f, err = s.store.UpdateFeed(ctx, f)
	if err != nil {
		return feed.Feed{}, apperr.Internal(err)
	}
	s.log.WithField("feedId", f.ID).
		WithField("status", string(f.Status)).
		Info("feed status toggled")
	return f, nil
}

// Delete removes a feed. Only the registered provider may delete.
func (s *Service) Delete(ctx context.Context, id, claimedAddress string) error {
	f, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if !f.OwnedBy(claimedAddress) {
		return apperr.Unauthorized("address does not own this feed")
	}
	if err := s.store.DeleteFeed(ctx, id); err != nil {
		if errors.Is(err, storage.ErrFeedNotFound) {
			return apperr.NotFound("feed")
		}
		return apperr.Internal(err)
	}
	s.log.WithField("feedId", id).Info("feed deleted")
	return nil
}

func (s *Service) get(ctx context.Context, id string) (feed.Feed, error) {
	f, err := s.store.GetFeed(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, storage.ErrFeedNotFound) {
			return feed.Feed{}, apperr.NotFound("feed")
		}
		return feed.Feed{}, apperr.Internal(err)
	}
	return f, nil
}

func sortViews(views []feed.PublicView, sortBy string) {
	switch strings.ToLower(strings.TrimSpace(sortBy)) {
	case SortPrice:
		sort.Slice(views, func(i, j int) bool {
			a, errA := feed.PriceDecimal(views[i].Price)
			b, errB := feed.PriceDecimal(views[j].Price)
			if errA != nil || errB != nil {
				return views[i].Price < views[j].Price
			}
			return a.LessThan(b)
		})
	case SortNewest:
		sort.Slice(views, func(i, j int) bool { return views[i].CreatedAt.After(views[j].CreatedAt) })
	default: // calls
		sort.Slice(views, func(i, j int) bool { return views[i].CallCount > views[j].CallCount })
	}
}
