package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ResetSummary describes what a counter reset archived.
type ResetSummary struct {
	ResetAt           time.Time `json:"reset_at"`
	ItemsArchived     int       `json:"items_archived"`
	AmountArchived    float64   `json:"amount_archived"`
	ProcessedArchived int       `json:"processed_archived"`
	PendingArchived   int       `json:"pending_archived"`
}

// ResetCycle is one reconstructed reset event from the archival markers.
type ResetCycle struct {
	ResetAt        time.Time `json:"reset_at"`
	ItemCount      int       `json:"item_count"`
	AmountArchived float64   `json:"amount_archived"`
	Items          []*Item   `json:"items"`
}

// Reset archives the current cycle without deleting anything. All
// non-archived rows get a reset marker appended to their timestamp,
// still-pending rows are force-flipped to processed so they never play,
// and the aggregate totals return to zero. Runs in one transaction.
func (s *Store) Reset(ctx context.Context) (*ResetSummary, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin reset: %w", err)
	}
	defer tx.Rollback()

	summary := &ResetSummary{ResetAt: time.Now().UTC().Truncate(time.Second)}
	marker := resetMarkerPrefix + summary.ResetAt.Format(time.RFC3339) + resetMarkerSuffix

	err = tx.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(amount), 0),
			COUNT(CASE WHEN processed = 1 THEN 1 END),
			COUNT(CASE WHEN processed = 0 THEN 1 END)
		FROM queue_items
		WHERE timestamp NOT LIKE '%' || ? || '%'`,
		resetMarkerPrefix,
	).Scan(&summary.ItemsArchived, &summary.AmountArchived,
		&summary.ProcessedArchived, &summary.PendingArchived)
	if err != nil {
		return nil, fmt.Errorf("snapshot current cycle: %w", err)
	}

	// Tag only rows that are not already archived, so each row carries
	// exactly one reset marker for the cycle it belonged to.
	if _, err := tx.ExecContext(ctx, `
		UPDATE queue_items
		SET timestamp = timestamp || ?, processed = 1
		WHERE timestamp NOT LIKE '%' || ? || '%'`,
		marker, resetMarkerPrefix); err != nil {
		return nil, fmt.Errorf("archive current cycle: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE queue_stats SET total_donations = 0, total_amount = 0 WHERE id = 1`); err != nil {
		return nil, fmt.Errorf("zero totals: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reset: %w", err)
	}

	s.logger.Info("counter reset",
		"items_archived", summary.ItemsArchived,
		"amount_archived", summary.AmountArchived,
		"pending_archived", summary.PendingArchived,
	)
	return summary, nil
}

// ResetHistory reconstructs past reset cycles from the archival
// markers, most recent reset first. Items inside a cycle keep queue
// order.
func (s *Store) ResetHistory(ctx context.Context) ([]*ResetCycle, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	items, err := s.queryItems(ctx, `
		SELECT id, username, message, amount, timestamp, processed, created_at
		FROM queue_items
		WHERE timestamp LIKE '%' || ? || '%'
		ORDER BY created_at ASC, id ASC`,
		resetMarkerPrefix)
	if err != nil {
		return nil, err
	}

	cycles := make(map[time.Time]*ResetCycle)
	for _, item := range items {
		at, ok := parseResetMarker(item.Timestamp)
		if !ok {
			s.logger.Warn("unparseable reset marker", "id", item.ID, "timestamp", item.Timestamp)
			continue
		}
		cycle := cycles[at]
		if cycle == nil {
			cycle = &ResetCycle{ResetAt: at}
			cycles[at] = cycle
		}
		cycle.Items = append(cycle.Items, item)
		cycle.ItemCount++
		cycle.AmountArchived += item.Amount
	}

	out := make([]*ResetCycle, 0, len(cycles))
	for _, cycle := range cycles {
		out = append(out, cycle)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ResetAt.After(out[j].ResetAt)
	})
	return out, nil
}

// parseResetMarker extracts the reset instant from a tagged timestamp.
func parseResetMarker(timestamp string) (time.Time, bool) {
	start := strings.Index(timestamp, resetMarkerPrefix)
	if start < 0 {
		return time.Time{}, false
	}
	rest := timestamp[start+len(resetMarkerPrefix):]
	end := strings.Index(rest, resetMarkerSuffix)
	if end < 0 {
		return time.Time{}, false
	}
	at, err := time.Parse(time.RFC3339, rest[:end])
	if err != nil {
		return time.Time{}, false
	}
	return at, true
}
