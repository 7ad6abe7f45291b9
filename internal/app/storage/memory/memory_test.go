package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/livefeed-labs/feed-gateway/internal/app/domain/feed"
	"github.com/livefeed-labs/feed-gateway/internal/app/domain/ratelimit"
	"github.com/livefeed-labs/feed-gateway/internal/app/storage"
)

func seedFeed(t *testing.T, store *Store) feed.Feed {
	t.Helper()
	f, err := store.CreateFeed(context.Background(), feed.Feed{
		ID:              "f1",
		Name:            "BTC Price",
		Category:        feed.CategoryFinance,
		UpstreamURL:     "https://api.example.com/btc",
		Method:          feed.MethodGet,
		Price:           "$0.01",
		ProviderAddress: "0xabc0000000000000000000000000000000000001",
		Status:          feed.StatusActive,
		CreatedAt:       time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create feed: %v", err)
	}
	return f
}

func TestRecordCallRunningAverage(t *testing.T) {
	store := New()
	f := seedFeed(t, store)

	if _, err := store.RecordCall(context.Background(), f.ID, 100, 10000); err != nil {
		t.Fatalf("record first call: %v", err)
	}
	updated, err := store.RecordCall(context.Background(), f.ID, 300, 10000)
	if err != nil {
		t.Fatalf("record second call: %v", err)
	}

	if updated.CallCount != 2 {
		t.Fatalf("call count = %d, want 2", updated.CallCount)
	}
	if updated.TotalEarnedAtomic != 20000 {
		t.Fatalf("earned = %d, want 20000", updated.TotalEarnedAtomic)
	}
	if updated.AvgLatencyMs != 200 {
		t.Fatalf("avg latency = %d, want 200", updated.AvgLatencyMs)
	}
	if updated.LastCalledAt == nil {
		t.Fatalf("last called at not set")
	}
}

func TestRecordCallConcurrent(t *testing.T) {
	store := New()
	f := seedFeed(t, store)

	const goroutines = 50
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.RecordCall(context.Background(), f.ID, 100, 10000); err != nil {
				t.Errorf("record call: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := store.GetFeed(context.Background(), f.ID)
	if err != nil {
		t.Fatalf("get feed: %v", err)
	}
	if got.CallCount != goroutines {
		t.Fatalf("call count = %d, want %d", got.CallCount, goroutines)
	}
	if got.TotalEarnedAtomic != goroutines*10000 {
		t.Fatalf("earned = %d, want %d", got.TotalEarnedAtomic, goroutines*10000)
	}
	if got.AvgLatencyMs != 100 {
		t.Fatalf("avg latency = %d, want 100", got.AvgLatencyMs)
	}
}

func TestRecordCallUnknownFeed(t *testing.T) {
	store := New()
	if _, err := store.RecordCall(context.Background(), "missing", 10, 1); err != storage.ErrFeedNotFound {
		t.Fatalf("expected ErrFeedNotFound, got %v", err)
	}
}

func TestReadsReturnClones(t *testing.T) {
	store := New()
	f := seedFeed(t, store)

	got, err := store.GetFeed(context.Background(), f.ID)
	if err != nil {
		t.Fatalf("get feed: %v", err)
	}
	got.Name = "mutated"

	again, err := store.GetFeed(context.Background(), f.ID)
	if err != nil {
		t.Fatalf("get feed again: %v", err)
	}
	if again.Name != "BTC Price" {
		t.Fatalf("store state leaked through a read: %q", again.Name)
	}
}

func TestRateLimitEntriesRoundTrip(t *testing.T) {
	store := New()
	in := map[string]ratelimit.Entry{
		"f1:1.2.3.4": {Count: 2, ResetAt: time.Now().Add(time.Hour).UTC()},
	}
	if err := store.SaveEntries(context.Background(), in); err != nil {
		t.Fatalf("save entries: %v", err)
	}
	out, err := store.LoadEntries(context.Background())
	if err != nil {
		t.Fatalf("load entries: %v", err)
	}
	if len(out) != 1 || out["f1:1.2.3.4"].Count != 2 {
		t.Fatalf("unexpected entries: %#v", out)
	}
}
