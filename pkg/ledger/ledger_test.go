package ledger

import (
	"context"
	"errors"
	"io"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	logger := log.New(io.Discard)
	store, err := Open(filepath.Join(t.TempDir(), "ledger.db"), logger)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAddDefaultsUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		want     string
	}{
		{"provided username kept", "alice", "alice"},
		{"empty username defaults", "", DefaultUsername},
		{"whitespace username defaults", "   ", DefaultUsername},
	}

	store := openTestStore(t)
	ctx := context.Background()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item, err := store.Add(ctx, tt.username, "hello", 5.00)
			if err != nil {
				t.Fatalf("Add() error = %v", err)
			}
			if item.Username != tt.want {
				t.Errorf("Add() username = %q, want %q", item.Username, tt.want)
			}
		})
	}
}

func TestAddRejectsInvalidAmount(t *testing.T) {
	tests := []struct {
		name   string
		amount float64
	}{
		{"negative", -1.00},
		{"nan", math.NaN()},
		{"positive infinity", math.Inf(1)},
	}

	store := openTestStore(t)
	ctx := context.Background()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := store.Add(ctx, "bob", "oops", tt.amount); !errors.Is(err, ErrInvalidAmount) {
				t.Errorf("Add() error = %v, want ErrInvalidAmount", err)
			}
		})
	}
}

func TestAddAcceptsZeroAmount(t *testing.T) {
	store := openTestStore(t)

	item, err := store.Add(context.Background(), "carol", "free hug", 0)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if item.Amount != 0 {
		t.Errorf("Add() amount = %v, want 0", item.Amount)
	}
}

func TestNextPendingOrdersAcrossSecondBoundary(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	// An item landing exactly on a second boundary has a zero
	// fractional part; it must still sort before an item created a
	// fraction later within the same second.
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	insert := func(username string, at time.Time) {
		t.Helper()
		_, err := store.db.ExecContext(ctx, `
			INSERT INTO queue_items (username, message, amount, timestamp, processed, created_at)
			VALUES (?, '', 1.0, ?, 0, ?)`,
			username, at.Format(timestampLayout), at.UTC().Format(createdAtLayout))
		if err != nil {
			t.Fatalf("insert %s: %v", username, err)
		}
	}
	insert("first", base)
	insert("second", base.Add(500*time.Millisecond))

	item, err := store.NextPending(ctx)
	if err != nil {
		t.Fatalf("NextPending() error = %v", err)
	}
	if item == nil || item.Username != "first" {
		t.Fatalf("NextPending() = %+v, want the exact-second item first", item)
	}
}

func TestNextPendingFIFOOrder(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"first", "second", "third"} {
		if _, err := store.Add(ctx, name, "msg", 1.00); err != nil {
			t.Fatalf("Add(%s) error = %v", name, err)
		}
	}

	for _, want := range []string{"first", "second", "third"} {
		item, err := store.NextPending(ctx)
		if err != nil {
			t.Fatalf("NextPending() error = %v", err)
		}
		if item == nil {
			t.Fatal("NextPending() = nil, want item")
		}
		if item.Username != want {
			t.Errorf("NextPending() username = %q, want %q", item.Username, want)
		}
		if err := store.MarkProcessed(ctx, item.ID); err != nil {
			t.Fatalf("MarkProcessed(%d) error = %v", item.ID, err)
		}
	}

	item, err := store.NextPending(ctx)
	if err != nil {
		t.Fatalf("NextPending() error = %v", err)
	}
	if item != nil {
		t.Errorf("NextPending() on drained queue = %+v, want nil", item)
	}
}

func TestMarkProcessedUpdatesTotals(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	item, err := store.Add(ctx, "dave", "msg", 12.50)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if _, err := store.Add(ctx, "erin", "still waiting", 4.25); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := store.MarkProcessed(ctx, item.ID); err != nil {
		t.Fatalf("MarkProcessed() error = %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalDonations != 1 {
		t.Errorf("TotalDonations = %d, want 1", stats.TotalDonations)
	}
	if stats.TotalAmount != 12.50 {
		t.Errorf("TotalAmount = %v, want 12.50", stats.TotalAmount)
	}
	if stats.ProcessedCount != 1 || stats.PendingCount != 1 {
		t.Errorf("counts = %d processed / %d pending, want 1/1",
			stats.ProcessedCount, stats.PendingCount)
	}
	if stats.PendingAmount != 4.25 {
		t.Errorf("PendingAmount = %v, want 4.25", stats.PendingAmount)
	}
}

func TestMarkProcessedErrors(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	item, err := store.Add(ctx, "erin", "msg", 3.00)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := store.MarkProcessed(ctx, item.ID); err != nil {
		t.Fatalf("MarkProcessed() error = %v", err)
	}

	if err := store.MarkProcessed(ctx, item.ID); !errors.Is(err, ErrAlreadyProcessed) {
		t.Errorf("second MarkProcessed() error = %v, want ErrAlreadyProcessed", err)
	}
	if err := store.MarkProcessed(ctx, 9999); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("MarkProcessed(missing) error = %v, want ErrItemNotFound", err)
	}

	// Neither failure may touch the totals.
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalDonations != 1 || stats.TotalAmount != 3.00 {
		t.Errorf("totals after failed marks = %d/%v, want 1/3.00",
			stats.TotalDonations, stats.TotalAmount)
	}
}

func TestSkipTagsAndCounts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.Add(ctx, "frank", "rude message", 7.00); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	item, err := store.Skip(ctx)
	if err != nil {
		t.Fatalf("Skip() error = %v", err)
	}
	if !item.Skipped() {
		t.Errorf("Skip() timestamp = %q, want skipped tag", item.Timestamp)
	}
	if !item.Processed {
		t.Error("Skip() item not marked processed")
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalDonations != 1 || stats.TotalAmount != 7.00 {
		t.Errorf("totals after skip = %d/%v, want 1/7.00",
			stats.TotalDonations, stats.TotalAmount)
	}

	if _, err := store.Skip(ctx); !errors.Is(err, ErrQueueEmpty) {
		t.Errorf("Skip() on empty queue error = %v, want ErrQueueEmpty", err)
	}
}

func TestPendingItemsAndRecentProcessed(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		if _, err := store.Add(ctx, name, "msg", 1.00); err != nil {
			t.Fatalf("Add(%s) error = %v", name, err)
		}
	}
	first, err := store.NextPending(ctx)
	if err != nil {
		t.Fatalf("NextPending() error = %v", err)
	}
	if err := store.MarkProcessed(ctx, first.ID); err != nil {
		t.Fatalf("MarkProcessed() error = %v", err)
	}

	pending, err := store.PendingItems(ctx, 0)
	if err != nil {
		t.Fatalf("PendingItems() error = %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("PendingItems() len = %d, want 2", len(pending))
	}
	if pending[0].Username != "b" || pending[1].Username != "c" {
		t.Errorf("PendingItems() order = %q, %q, want b, c",
			pending[0].Username, pending[1].Username)
	}

	recent, err := store.RecentProcessed(ctx, 5)
	if err != nil {
		t.Fatalf("RecentProcessed() error = %v", err)
	}
	if len(recent) != 1 || recent[0].Username != "a" {
		t.Errorf("RecentProcessed() = %+v, want single item a", recent)
	}
}

func TestDurabilityAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.db")
	logger := log.New(io.Discard)
	ctx := context.Background()

	store, err := Open(path, logger)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := store.Add(ctx, "grace", "persist me", 9.00); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	store, err = Open(path, logger)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer store.Close()

	item, err := store.NextPending(ctx)
	if err != nil {
		t.Fatalf("NextPending() error = %v", err)
	}
	if item == nil || item.Username != "grace" {
		t.Errorf("NextPending() after reopen = %+v, want grace", item)
	}
}
