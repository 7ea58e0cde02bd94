package ledger

import (
	"context"
	"fmt"
	"math"
)

// amountEpsilon bounds float drift tolerated when comparing recorded
// and recomputed amounts.
const amountEpsilon = 1e-9

// Reconcile compares the aggregate totals against the per-item rows of
// the current cycle and repairs upward only. When the recomputed
// actuals exceed the recorded totals, some processed rows never made it
// into the aggregates and the totals are overwritten from the rows.
// When the recorded totals exceed the actuals, the excess may belong to
// legitimately archived history, so the totals are left alone and the
// drift is only logged.
func (s *Store) Reconcile(ctx context.Context) error {
	if s.db == nil {
		return ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reconcile: %w", err)
	}
	defer tx.Rollback()

	var actualCount int
	var actualAmount float64
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(amount), 0)
		FROM queue_items
		WHERE processed = 1 AND timestamp NOT LIKE '%' || ? || '%'`,
		resetMarkerPrefix,
	).Scan(&actualCount, &actualAmount)
	if err != nil {
		return fmt.Errorf("recompute totals: %w", err)
	}

	var recordedCount int
	var recordedAmount float64
	err = tx.QueryRowContext(ctx,
		`SELECT total_donations, total_amount FROM queue_stats WHERE id = 1`,
	).Scan(&recordedCount, &recordedAmount)
	if err != nil {
		return fmt.Errorf("select recorded totals: %w", err)
	}

	repair := false
	switch {
	case actualCount > recordedCount:
		repair = true
	case actualCount < recordedCount:
		s.logger.Warn("aggregate totals ahead of item rows, leaving as is",
			"recorded_count", recordedCount,
			"actual_count", actualCount,
		)
	case actualAmount > recordedAmount+amountEpsilon:
		repair = true
	case actualAmount < recordedAmount-amountEpsilon:
		s.logger.Warn("aggregate amount ahead of item rows, leaving as is",
			"recorded_amount", recordedAmount,
			"actual_amount", actualAmount,
		)
	}

	if !repair {
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE queue_stats SET total_donations = ?, total_amount = ?
		WHERE id = 1`,
		actualCount, actualAmount); err != nil {
		return fmt.Errorf("repair totals: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reconcile: %w", err)
	}

	s.logger.Warn("aggregate totals repaired from item rows",
		"recorded_count", recordedCount,
		"actual_count", actualCount,
		"recorded_amount", recordedAmount,
		"actual_amount", actualAmount,
	)
	return nil
}

// ManualRepair rebuilds the aggregate totals from every processed row,
// archived history included. Unlike Reconcile it overwrites in both
// directions, so it is only exposed through the explicit repair
// operation.
func (s *Store) ManualRepair(ctx context.Context) (*Stats, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin manual repair: %w", err)
	}
	defer tx.Rollback()

	var count int
	var amount float64
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(amount), 0)
		FROM queue_items
		WHERE processed = 1`,
	).Scan(&count, &amount)
	if err != nil {
		return nil, fmt.Errorf("recompute totals: %w", err)
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, fmt.Errorf("%w: recomputed amount %v", ErrInvalidAmount, amount)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE queue_stats SET total_donations = ?, total_amount = ?
		WHERE id = 1`,
		count, amount); err != nil {
		return nil, fmt.Errorf("overwrite totals: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit manual repair: %w", err)
	}

	s.logger.Info("aggregate totals rebuilt from full history",
		"total_donations", count,
		"total_amount", amount,
	)
	return &Stats{TotalDonations: count, TotalAmount: amount}, nil
}
