package queue_test

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/donodeck/pkg/audio"
	"github.com/dgnsrekt/donodeck/pkg/ledger"
	"github.com/dgnsrekt/donodeck/pkg/queue"
	"github.com/dgnsrekt/donodeck/pkg/speech"
	"github.com/dgnsrekt/donodeck/pkg/speech/mock"
)

type fakeNotifier struct {
	mu    sync.Mutex
	items []*ledger.Item
	err   error
}

func (n *fakeNotifier) Notify(_ context.Context, item *ledger.Item) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.items = append(n.items, item)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.items)
}

type fakeDisplay struct {
	mu        sync.Mutex
	processed int
	total     int
	updates   int
	err       error
}

func (d *fakeDisplay) Update(processed, total int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.processed = processed
	d.total = total
	d.updates++
	return nil
}

func (d *fakeDisplay) last() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.processed, d.total
}

type harness struct {
	orch     *queue.Orchestrator
	store    *ledger.Store
	provider *mock.Provider
	player   *audio.MockPlayer
	notifier *fakeNotifier
	display  *fakeDisplay
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := log.New(io.Discard)

	store, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"), logger)
	if err != nil {
		t.Fatalf("ledger.Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	provider, err := mock.New("mock", t.TempDir())
	if err != nil {
		t.Fatalf("mock.New() error = %v", err)
	}

	player := audio.NewMockPlayer()
	resolver := speech.NewResolver(
		[]speech.Provider{provider}, player, speech.DefaultVoicePolicy(), logger)

	notifier := &fakeNotifier{}
	display := &fakeDisplay{}
	orch := queue.New(store, resolver, notifier, display, logger)

	return &harness{
		orch:     orch,
		store:    store,
		provider: provider,
		player:   player,
		notifier: notifier,
		display:  display,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestProcessNextHappyPath(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.orch.Add(ctx, "alice", "great stream", 10.00); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	item, err := h.orch.ProcessNext(ctx)
	if err != nil {
		t.Fatalf("ProcessNext() error = %v", err)
	}
	if item.Username != "alice" || !item.Processed {
		t.Errorf("ProcessNext() item = %+v, want processed alice", item)
	}
	if len(h.player.Played()) != 1 {
		t.Errorf("played %d files, want 1", len(h.player.Played()))
	}

	waitFor(t, func() bool { return h.notifier.count() == 1 })

	processed, total := h.display.last()
	if processed != 1 || total != 1 {
		t.Errorf("display = %d/%d, want 1/1", processed, total)
	}

	stats, err := h.store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalDonations != 1 || stats.TotalAmount != 10.00 {
		t.Errorf("totals = %d/%v, want 1/10.00", stats.TotalDonations, stats.TotalAmount)
	}
}

func TestProcessNextEmptyQueue(t *testing.T) {
	h := newHarness(t)

	if _, err := h.orch.ProcessNext(context.Background()); !errors.Is(err, ledger.ErrQueueEmpty) {
		t.Errorf("ProcessNext() error = %v, want ErrQueueEmpty", err)
	}
}

func TestProcessNextFailureLeavesItemPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.orch.Add(ctx, "bob", "msg", 5.00); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	h.provider.SetFailure(errors.New("backend down"))

	if _, err := h.orch.ProcessNext(ctx); err == nil {
		t.Fatal("ProcessNext() succeeded with failing provider")
	}

	// Item must still be pending, totals untouched.
	pending, err := h.store.NextPending(ctx)
	if err != nil {
		t.Fatalf("NextPending() error = %v", err)
	}
	if pending == nil || pending.Username != "bob" {
		t.Errorf("NextPending() = %+v, want bob still pending", pending)
	}
	stats, err := h.store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalDonations != 0 {
		t.Errorf("TotalDonations = %d, want 0 after failed announcement", stats.TotalDonations)
	}

	// Recovery: backend comes back, retry succeeds on the same item.
	h.provider.ClearFailure()
	item, err := h.orch.ProcessNext(ctx)
	if err != nil {
		t.Fatalf("retry ProcessNext() error = %v", err)
	}
	if item.Username != "bob" {
		t.Errorf("retried item = %q, want bob", item.Username)
	}
}

func TestProcessNextConcurrentCallers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.orch.Add(ctx, "carol", "only one", 5.00); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	const callers = 4
	results := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.ProcessNext(ctx)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, empties int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ledger.ErrQueueEmpty):
			empties++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if successes != 1 {
		t.Errorf("successes = %d, want exactly 1", successes)
	}
	if empties != callers-1 {
		t.Errorf("empty results = %d, want %d", empties, callers-1)
	}
	if len(h.player.Played()) != 1 {
		t.Errorf("played %d files, want 1", len(h.player.Played()))
	}
}

func TestSkipNext(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.orch.Add(ctx, "dave", "rude", 3.00); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	item, err := h.orch.SkipNext(ctx)
	if err != nil {
		t.Fatalf("SkipNext() error = %v", err)
	}
	if !item.Skipped() {
		t.Errorf("item timestamp = %q, want skipped tag", item.Timestamp)
	}
	if len(h.player.Played()) != 0 {
		t.Errorf("skip played %d files, want 0", len(h.player.Played()))
	}

	if _, err := h.orch.SkipNext(ctx); !errors.Is(err, ledger.ErrQueueEmpty) {
		t.Errorf("SkipNext() on empty error = %v, want ErrQueueEmpty", err)
	}
}

func TestStopSpeechInterruptsPlayback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.orch.Add(ctx, "erin", "long speech", 2.00); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	h.player.Block()

	done := make(chan error, 1)
	go func() {
		_, err := h.orch.ProcessNext(ctx)
		done <- err
	}()

	waitFor(t, func() bool { return len(h.player.Played()) == 1 })
	h.orch.StopSpeech()

	select {
	case err := <-done:
		// Interrupted playback still counts as delivered.
		if err != nil {
			t.Errorf("ProcessNext() after stop error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ProcessNext() did not return after StopSpeech()")
	}
	if h.player.StopCount() != 1 {
		t.Errorf("StopCount = %d, want 1", h.player.StopCount())
	}
}

func TestResetThroughOrchestrator(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.orch.Add(ctx, "frank", "msg", 50.00); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if _, err := h.orch.ProcessNext(ctx); err != nil {
		t.Fatalf("ProcessNext() error = %v", err)
	}

	summary, err := h.orch.Reset(ctx)
	if err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if summary.ItemsArchived != 1 {
		t.Errorf("ItemsArchived = %d, want 1", summary.ItemsArchived)
	}

	processed, total := h.display.last()
	if processed != 0 || total != 0 {
		t.Errorf("display after reset = %d/%d, want 0/0", processed, total)
	}
}

func TestDisplayFailureDoesNotFailOperation(t *testing.T) {
	h := newHarness(t)
	h.display.err = errors.New("obs offline")
	ctx := context.Background()

	if _, err := h.orch.Add(ctx, "grace", "msg", 1.00); err != nil {
		t.Fatalf("Add() with broken display error = %v", err)
	}
	if _, err := h.orch.ProcessNext(ctx); err != nil {
		t.Fatalf("ProcessNext() with broken display error = %v", err)
	}
}
