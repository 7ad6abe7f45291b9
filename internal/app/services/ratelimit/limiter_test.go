package ratelimit

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/livefeed-labs/feed-gateway/internal/app/domain/ratelimit"
	"github.com/livefeed-labs/feed-gateway/internal/app/storage/memory"
	"github.com/livefeed-labs/feed-gateway/pkg/logger"
)

func quietLogger() *logger.Logger {
	log := logger.NewDefault("test")
	log.SetOutput(io.Discard)
	return log
}

func TestWindowSemantics(t *testing.T) {
	l := New(memory.New(), 3, time.Hour, time.Millisecond, quietLogger())

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	current := base
	l.now = func() time.Time { return current }

	var firstReset time.Time
	for i, wantRemaining := range []int{2, 1, 0} {
		d := l.Check("feed-1", "1.2.3.4")
		if !d.Allowed {
			t.Fatalf("call %d should be allowed", i+1)
		}
		if d.Remaining != wantRemaining {
			t.Fatalf("call %d remaining = %d, want %d", i+1, d.Remaining, wantRemaining)
		}
		if i == 0 {
			firstReset = d.ResetAt
			if want := base.Add(time.Hour); !firstReset.Equal(want) {
				t.Fatalf("resetAt = %v, want %v", firstReset, want)
			}
		} else if !d.ResetAt.Equal(firstReset) {
			t.Fatalf("call %d resetAt drifted: %v vs %v", i+1, d.ResetAt, firstReset)
		}
	}

	denied := l.Check("feed-1", "1.2.3.4")
	if denied.Allowed {
		t.Fatalf("fourth call should be denied")
	}
	if !denied.ResetAt.Equal(firstReset) {
		t.Fatalf("denial resetAt = %v, want %v", denied.ResetAt, firstReset)
	}

	// Denials never consume quota: after the window passes the count restarts.
	current = firstReset.Add(time.Second)
	fresh := l.Check("feed-1", "1.2.3.4")
	if !fresh.Allowed || fresh.Remaining != 2 {
		t.Fatalf("window did not reset: %#v", fresh)
	}
	if want := current.Add(time.Hour); !fresh.ResetAt.Equal(want) {
		t.Fatalf("new window resetAt = %v, want %v", fresh.ResetAt, want)
	}
}

func TestQuotaIsPerFeedAndCaller(t *testing.T) {
	l := New(memory.New(), 1, time.Hour, time.Millisecond, quietLogger())

	if d := l.Check("feed-1", "1.2.3.4"); !d.Allowed {
		t.Fatalf("first caller first feed should pass")
	}
	if d := l.Check("feed-1", "1.2.3.4"); d.Allowed {
		t.Fatalf("same key should now be exhausted")
	}
	if d := l.Check("feed-2", "1.2.3.4"); !d.Allowed {
		t.Fatalf("other feed should have its own window")
	}
	if d := l.Check("feed-1", "5.6.7.8"); !d.Allowed {
		t.Fatalf("other caller should have its own window")
	}
}

func TestStopDrainsPendingFlush(t *testing.T) {
	store := memory.New()
	// Long debounce so the timer cannot fire before Stop.
	l := New(store, 3, time.Hour, time.Minute, quietLogger())

	l.Check("feed-1", "1.2.3.4")
	if err := l.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	entries, err := store.LoadEntries(context.Background())
	if err != nil {
		t.Fatalf("load entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected drained snapshot with 1 entry, got %d", len(entries))
	}
}

func TestDebouncedFlushCoalesces(t *testing.T) {
	store := memory.New()
	l := New(store, 5, time.Hour, 10*time.Millisecond, quietLogger())

	for i := 0; i < 3; i++ {
		l.Check("feed-1", "1.2.3.4")
	}
	time.Sleep(100 * time.Millisecond)

	entries, err := store.LoadEntries(context.Background())
	if err != nil {
		t.Fatalf("load entries: %v", err)
	}
	if entries["feed-1:1.2.3.4"].Count != 3 {
		t.Fatalf("flushed entry = %#v, want count 3", entries["feed-1:1.2.3.4"])
	}
}

func TestConstructorDropsExpiredEntries(t *testing.T) {
	store := memory.New()
	err := store.SaveEntries(context.Background(), map[string]ratelimit.Entry{
		"feed-1:1.2.3.4": {Count: 3, ResetAt: time.Now().Add(-time.Minute)},
		"feed-2:1.2.3.4": {Count: 1, ResetAt: time.Now().Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}

	l := New(store, 3, time.Hour, time.Millisecond, quietLogger())

	// The expired window is gone, so the caller gets a fresh allowance.
	if d := l.Check("feed-1", "1.2.3.4"); !d.Allowed || d.Remaining != 2 {
		t.Fatalf("expired entry survived load: %#v", d)
	}
	// The live window was kept.
	if d := l.Check("feed-2", "1.2.3.4"); !d.Allowed || d.Remaining != 1 {
		t.Fatalf("live entry lost on load: %#v", d)
	}
}

func TestPrune(t *testing.T) {
	l := New(memory.New(), 3, time.Hour, time.Millisecond, quietLogger())

	current := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return current }

	l.Check("feed-1", "1.2.3.4")
	l.Check("feed-2", "1.2.3.4")

	current = current.Add(2 * time.Hour)
	if removed := l.Prune(); removed != 2 {
		t.Fatalf("pruned %d entries, want 2", removed)
	}
	if removed := l.Prune(); removed != 0 {
		t.Fatalf("second prune removed %d, want 0", removed)
	}
}
