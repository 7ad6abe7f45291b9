// Package preview serves the free test-call path: a metered, unpaid call to
// a feed's upstream so consumers can evaluate it before paying. Preview
// calls never touch the payment gate and never count as earnings.
package preview

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/livefeed-labs/feed-gateway/internal/apperr"
	"github.com/livefeed-labs/feed-gateway/internal/app/metrics"
	"github.com/livefeed-labs/feed-gateway/internal/app/services/pricing"
	"github.com/livefeed-labs/feed-gateway/internal/app/services/proxy"
	"github.com/livefeed-labs/feed-gateway/internal/app/services/ratelimit"
	"github.com/livefeed-labs/feed-gateway/pkg/logger"
)

// Result is the preview call response body.
type Result struct {
	FeedID    string          `json:"feedId"`
	LatencyMs int64           `json:"latencyMs"`
	Response  json.RawMessage `json:"response"`
	Price     string          `json:"price"`
	Remaining int             `json:"remaining"`
	ResetAt   time.Time       `json:"resetAt"`
	Note      string          `json:"note"`
}

// Service orchestrates free preview calls.
type Service struct {
	limiter *ratelimit.Limiter
	pricing *pricing.Service
	proxy   *proxy.Service
	log     *logger.Logger
}

// New constructs a preview service.
func New(limiter *ratelimit.Limiter, pricingSvc *pricing.Service, proxySvc *proxy.Service, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("preview")
	}
	return &Service{
		limiter: limiter,
		pricing: pricingSvc,
		proxy:   proxySvc,
		log:     log,
	}
}

// Call runs one free preview against the feed's upstream. The quota is
// consumed only on an admitted call; a denial reports when the window
// resets and leaves the count untouched.
func (s *Service) Call(ctx context.Context, feedID, caller string, query url.Values, body []byte) (Result, error) {
	quote, err := s.pricing.Resolve(ctx, feedID, "")
	if err != nil {
		return Result{}, err
	}

	decision := s.limiter.Check(feedID, caller)
	if !decision.Allowed {
		metrics.RecordPreviewDecision("deny")
		s.log.WithField("feedId", feedID).
			WithField("caller", caller).
			Info("free preview quota exhausted")
		return Result{}, apperr.RateLimited("free call limit reached, pay with x402 to continue", decision.ResetAt)
	}
	metrics.RecordPreviewDecision("allow")

	res, err := s.proxy.Call(ctx, quote.Feed, query, body)
	if err != nil {
		return Result{}, err
	}
	if !res.OK() {
		return Result{}, apperr.Upstream("upstream returned an error", res.StatusCode)
	}

	response := json.RawMessage(res.Body)
	if !json.Valid(res.Body) {
		quoted, marshalErr := json.Marshal(string(res.Body))
		if marshalErr != nil {
			return Result{}, apperr.Internal(marshalErr)
		}
		response = quoted
	}

	return Result{
		FeedID:    feedID,
		LatencyMs: res.LatencyMs,
		Response:  response,
		Price:     quote.Price,
		Remaining: decision.Remaining,
		ResetAt:   decision.ResetAt,
		Note:      "free preview call, not billed",
	}, nil
}
