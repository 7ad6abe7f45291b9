// Package proxy performs the upstream call a feed fronts, measuring wall
// clock latency around the full round-trip. The upstream target never leaks
// into responses or error messages.
package proxy

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/livefeed-labs/feed-gateway/internal/apperr"
	"github.com/livefeed-labs/feed-gateway/internal/app/domain/feed"
	"github.com/livefeed-labs/feed-gateway/internal/httputil"
	"github.com/livefeed-labs/feed-gateway/pkg/logger"
)

// maxUpstreamBody bounds how much of an upstream response is read back.
const maxUpstreamBody = 8 << 20

// Result is one completed upstream round-trip.
type Result struct {
	StatusCode  int
	ContentType string
	Body        []byte
	LatencyMs   int64
}

// OK reports whether the upstream answered with a 2xx.
func (r Result) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// Service calls upstream APIs on behalf of feeds.
type Service struct {
	client *http.Client
	log    *logger.Logger
}

// New constructs a proxy service with a bounded upstream timeout.
func New(timeout time.Duration, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("proxy")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Service{
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

// Call invokes the feed's upstream endpoint. GET appends the inbound query to
// the upstream URL; POST forwards the JSON body. Latency covers the full
// round-trip including reading the body to EOF.
func (s *Service) Call(ctx context.Context, f feed.Feed, query url.Values, body []byte) (Result, error) {
	target, err := url.Parse(f.UpstreamURL)
	if err != nil {
		return Result{}, apperr.Internal(err)
	}

	var req *http.Request
	switch f.Method {
	case feed.MethodPost:
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	default:
		merged := target.Query()
		for key, values := range query {
			for _, v := range values {
				merged.Add(key, v)
			}
		}
		target.RawQuery = merged.Encode()
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	}
	if err != nil {
		return Result{}, apperr.Internal(err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		latency := time.Since(start).Milliseconds()
		s.log.WithField("feedId", f.ID).
			WithField("latencyMs", latency).
			WithError(err).
			Warn("upstream request failed")
		return Result{LatencyMs: latency}, apperr.Upstream("upstream request failed", 0).WithCause(err)
	}
	defer resp.Body.Close()

	payload, truncated, err := httputil.ReadAllWithLimit(resp.Body, maxUpstreamBody)
	latency := time.Since(start).Milliseconds()
	if truncated {
		s.log.WithField("feedId", f.ID).Warn("upstream response truncated")
	}
	if err != nil {
		s.log.WithField("feedId", f.ID).WithError(err).Warn("upstream body read failed")
		return Result{StatusCode: resp.StatusCode, LatencyMs: latency},
			apperr.Upstream("upstream response unreadable", resp.StatusCode).WithCause(err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	return Result{
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Body:        payload,
		LatencyMs:   latency,
	}, nil
}
