package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/livefeed-labs/feed-gateway/internal/apperr"
	"github.com/livefeed-labs/feed-gateway/pkg/logger"
)

// RateLimiter applies a per-client token bucket to the management API.
// This is a burst guard on the control plane; the metered free-preview
// quota on feed calls is handled separately by the preview service.
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	log      *logger.Logger

	cleanupEvery time.Duration
	stop         chan struct{}
	done         chan struct{}
}

// cleanupInterval is how often idle limiter buckets are swept so the
// per-client map cannot grow for the lifetime of the process.
const cleanupInterval = 10 * time.Minute

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(requestsPerSecond int, burst int, log *logger.Logger) *RateLimiter {
	if log == nil {
		log = logger.NewDefault("ratelimit")
	}
	return &RateLimiter{
		limiters:     make(map[string]*rate.Limiter),
		rate:         rate.Limit(requestsPerSecond),
		burst:        burst,
		log:          log,
		cleanupEvery: cleanupInterval,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// ClientKey returns the caller identity used for limiting: the remote IP,
// preferring X-Forwarded-For when present.
func ClientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		for i := 0; i < len(fwd); i++ {
			if fwd[i] == ',' {
				return fwd[:i]
			}
		}
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = limiter
	}
	return limiter
}

// Handler returns the rate limiting middleware handler.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ClientKey(r)
		if !rl.getLimiter(key).Allow() {
			rl.log.WithField("client", key).
				WithField("path", r.URL.Path).
				Warn("api rate limit exceeded")

			appErr := apperr.RateLimited("too many requests", time.Now().Add(time.Second))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(appErr.HTTPStatus)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": appErr.Message})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Cleanup drops idle limiter buckets once the map grows past a bound.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if len(rl.limiters) > 10000 {
		rl.limiters = make(map[string]*rate.Limiter)
	}
}

// Name identifies the limiter to the lifecycle manager.
func (rl *RateLimiter) Name() string { return "api-ratelimit" }

// Start launches the periodic cleanup loop.
func (rl *RateLimiter) Start(ctx context.Context) error {
	go func() {
		defer close(rl.done)
		ticker := time.NewTicker(rl.cleanupEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-rl.stop:
				return
			}
		}
	}()
	return nil
}

// Stop ends the cleanup loop and waits for it to exit.
func (rl *RateLimiter) Stop(ctx context.Context) error {
	close(rl.stop)
	select {
	case <-rl.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
