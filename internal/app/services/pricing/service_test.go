package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/livefeed-labs/feed-gateway/internal/apperr"
	"github.com/livefeed-labs/feed-gateway/internal/app/domain/feed"
	"github.com/livefeed-labs/feed-gateway/internal/app/storage/memory"
)

func seed(t *testing.T, store *memory.Store, status feed.Status) feed.Feed {
	t.Helper()
	f, err := store.CreateFeed(context.Background(), feed.Feed{
		ID:              "f1",
		Name:            "BTC Spot",
		Category:        feed.CategoryFinance,
		UpstreamURL:     "https://api.example.com/btc",
		Method:          feed.MethodGet,
		Price:           "$0.01",
		ProviderAddress: "0xabc0000000000000000000000000000000000001",
		Status:          status,
		CreatedAt:       time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed feed: %v", err)
	}
	return f
}

func TestResolveActiveFeed(t *testing.T) {
	store := memory.New()
	seed(t, store, feed.StatusActive)

	svc := New(store, "base-sepolia")
	quote, err := svc.Resolve(context.Background(), "f1", feed.MethodGet)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if quote.Price != "$0.01" {
		t.Fatalf("price = %q, want $0.01", quote.Price)
	}
	if quote.PriceAtomic != "10000" {
		t.Fatalf("atomic price = %q, want 10000", quote.PriceAtomic)
	}
	if quote.AtomicAmount != 10000 {
		t.Fatalf("atomic amount = %d, want 10000", quote.AtomicAmount)
	}
	if quote.Network != "base-sepolia" {
		t.Fatalf("network = %q", quote.Network)
	}
}

func TestResolveUnknownFeed(t *testing.T) {
	svc := New(memory.New(), "base-sepolia")
	if _, err := svc.Resolve(context.Background(), "missing", feed.MethodGet); apperr.Status(err) != 404 {
		t.Fatalf("unknown feed should be 404, got %v", err)
	}
}

func TestResolvePausedFeed(t *testing.T) {
	store := memory.New()
	seed(t, store, feed.StatusPaused)

	svc := New(store, "base-sepolia")
	if _, err := svc.Resolve(context.Background(), "f1", feed.MethodGet); apperr.Status(err) != 503 {
		t.Fatalf("paused feed should be 503, got %v", err)
	}
}

func TestResolveMethodMismatch(t *testing.T) {
	store := memory.New()
	seed(t, store, feed.StatusActive)

	svc := New(store, "base-sepolia")
	if _, err := svc.Resolve(context.Background(), "f1", feed.MethodPost); apperr.Status(err) != 404 {
		t.Fatalf("method mismatch should be 404, got %v", err)
	}
	// An empty method matches any registered method (preview path).
	if _, err := svc.Resolve(context.Background(), "f1", ""); err != nil {
		t.Fatalf("empty method resolve: %v", err)
	}
}
