// Package queue serializes donation processing: one announcement is
// pulled, spoken, and recorded at a time, no matter how many callers
// ask concurrently.
package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/donodeck/pkg/ledger"
	"github.com/dgnsrekt/donodeck/pkg/speech"
)

// Notifier reports a processed donation to an external channel.
type Notifier interface {
	Notify(ctx context.Context, item *ledger.Item) error
}

// DisplayUpdater pushes the queue counter to an external display.
type DisplayUpdater interface {
	Update(processed, total int) error
}

// Orchestrator owns the pull-speak-record cycle. A single mutex covers
// the whole cycle so an item is never spoken twice and the ledger is
// only advanced after its announcement finished.
type Orchestrator struct {
	mu sync.Mutex

	store    *ledger.Store
	resolver *speech.Resolver
	notifier Notifier
	display  DisplayUpdater
	logger   *log.Logger
}

// New builds an orchestrator. notifier and display may be nil.
func New(store *ledger.Store, resolver *speech.Resolver, notifier Notifier, display DisplayUpdater, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.Default()
	}
	return &Orchestrator{
		store:    store,
		resolver: resolver,
		notifier: notifier,
		display:  display,
		logger:   logger,
	}
}

// Add queues a donation and refreshes the display counter.
func (o *Orchestrator) Add(ctx context.Context, username, message string, amount float64) (*ledger.Item, error) {
	item, err := o.store.Add(ctx, username, message, amount)
	if err != nil {
		return nil, err
	}
	o.updateDisplay(ctx)
	return item, nil
}

// ProcessNext speaks the oldest pending donation and marks it
// processed. The item stays pending if synthesis or playback fails, so
// a later call retries it. Returns ledger.ErrQueueEmpty when nothing
// is pending.
func (o *Orchestrator) ProcessNext(ctx context.Context) (*ledger.Item, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	item, err := o.store.NextPending(ctx)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ledger.ErrQueueEmpty
	}

	announcement := speech.Announcement{
		Username: item.Username,
		Message:  item.Message,
		Amount:   item.Amount,
	}
	if err := o.resolver.Announce(ctx, announcement); err != nil {
		o.logger.Error("announcement failed, item stays pending",
			"id", item.ID,
			"error", err,
		)
		return nil, fmt.Errorf("announce item %d: %w", item.ID, err)
	}

	if err := o.store.MarkProcessed(ctx, item.ID); err != nil {
		return nil, err
	}
	item.Processed = true

	o.notifyAsync(item)
	o.updateDisplay(ctx)
	return item, nil
}

// SkipNext marks the oldest pending donation processed without
// speaking it.
func (o *Orchestrator) SkipNext(ctx context.Context) (*ledger.Item, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	item, err := o.store.Skip(ctx)
	if err != nil {
		return nil, err
	}
	o.updateDisplay(ctx)
	return item, nil
}

// StopSpeech interrupts the announcement currently playing, if any.
// The interrupted item is still marked processed by its ProcessNext
// call once playback unwinds.
func (o *Orchestrator) StopSpeech() {
	o.resolver.Stop()
}

// Reset archives the current cycle and zeroes the display counter.
func (o *Orchestrator) Reset(ctx context.Context) (*ledger.ResetSummary, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	summary, err := o.store.Reset(ctx)
	if err != nil {
		return nil, err
	}
	o.updateDisplay(ctx)
	return summary, nil
}

// Repair rebuilds the aggregate totals from full history.
func (o *Orchestrator) Repair(ctx context.Context) (*ledger.Stats, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	stats, err := o.store.ManualRepair(ctx)
	if err != nil {
		return nil, err
	}
	o.updateDisplay(ctx)
	return stats, nil
}

// notifyAsync fires the notifier without blocking the queue. Delivery
// failures are logged and dropped; the ledger already recorded the
// item.
func (o *Orchestrator) notifyAsync(item *ledger.Item) {
	if o.notifier == nil {
		return
	}
	go func() {
		if err := o.notifier.Notify(context.Background(), item); err != nil {
			o.logger.Warn("notification failed",
				"id", item.ID,
				"error", err,
			)
		}
	}()
}

// updateDisplay pushes the current counter. Display failures never
// fail the operation that triggered them.
func (o *Orchestrator) updateDisplay(ctx context.Context) {
	if o.display == nil {
		return
	}
	stats, err := o.store.Stats(ctx)
	if err != nil {
		o.logger.Warn("display update skipped, stats failed", "error", err)
		return
	}
	total := stats.ProcessedCount + stats.PendingCount
	if err := o.display.Update(stats.ProcessedCount, total); err != nil {
		o.logger.Warn("display update failed", "error", err)
	}
}
