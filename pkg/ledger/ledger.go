// Package ledger implements the durable donation queue backed by SQLite.
//
// Every donation becomes one row in queue_items and is never deleted:
// processing flips a flag, skipping tags the row, and counter resets
// archive rows in place by appending a marker to their timestamp. A
// singleton queue_stats row carries running aggregate totals alongside
// the per-item rows so that stats reads stay O(1).
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	_ "modernc.org/sqlite"
)

const (
	// DefaultUsername replaces blank donor names.
	DefaultUsername = "Anonymous"

	// skippedTag is appended to an item's timestamp when the item is
	// skipped instead of spoken. The row still counts toward totals.
	skippedTag = " [SKIPPED]"

	// resetMarkerPrefix opens the archival marker appended to a row's
	// timestamp during a counter reset. The full marker is
	// " [RESET:<RFC3339>]".
	resetMarkerPrefix = " [RESET:"
	resetMarkerSuffix = "]"

	timestampLayout = "2006-01-02 15:04:05"

	// createdAtLayout is the queue ordering key. The fractional second
	// is zero-padded so the text sorts chronologically; RFC3339Nano
	// drops trailing zeros and breaks lexicographic order on exact
	// second boundaries. Stored in UTC so the offset is a fixed "Z".
	createdAtLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Item is a single donation in the ledger.
type Item struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Amount    float64   `json:"amount"`
	Timestamp string    `json:"timestamp"`
	Processed bool      `json:"processed"`
	CreatedAt time.Time `json:"created_at"`
}

// Skipped reports whether the item was skipped rather than spoken.
func (it *Item) Skipped() bool {
	return strings.Contains(it.Timestamp, skippedTag)
}

// Archived reports whether the item belongs to a completed reset cycle.
func (it *Item) Archived() bool {
	return strings.Contains(it.Timestamp, resetMarkerPrefix)
}

// Stats is a snapshot of queue state and aggregate totals for the
// current cycle (archived rows excluded).
type Stats struct {
	TotalDonations int     `json:"total_donations"`
	TotalAmount    float64 `json:"total_amount"`
	PendingCount   int     `json:"pending_count"`
	PendingAmount  float64 `json:"pending_amount"`
	ProcessedCount int     `json:"processed_count"`
}

// Store provides durable queue and aggregate operations on a single
// SQLite database file.
type Store struct {
	db     *sql.DB
	path   string
	logger *log.Logger
}

// Open opens or creates the ledger database at path, applies connection
// pragmas, and ensures the schema exists.
func Open(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}

	s := &Store{db: db, path: path, logger: logger}
	if err := s.configure(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("ledger opened", "path", path)
	return s, nil
}

// configure applies the SQLite pragmas used for a single-writer queue
// workload: WAL journaling, normal sync, and a busy timeout so short
// write contention retries instead of failing.
func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("apply %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) createSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS queue_items (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	username   TEXT    NOT NULL,
	message    TEXT    NOT NULL,
	amount     REAL    NOT NULL,
	timestamp  TEXT    NOT NULL,
	processed  INTEGER NOT NULL DEFAULT 0,
	created_at TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_queue_items_pending
	ON queue_items (processed, created_at);

CREATE TABLE IF NOT EXISTS queue_stats (
	id              INTEGER PRIMARY KEY CHECK (id = 1),
	total_donations INTEGER NOT NULL DEFAULT 0,
	total_amount    REAL    NOT NULL DEFAULT 0
);

INSERT OR IGNORE INTO queue_stats (id, total_donations, total_amount)
VALUES (1, 0, 0);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create ledger schema: %w", err)
	}
	return nil
}

// Close checkpoints the WAL and closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return ErrClosed
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Warn("wal checkpoint failed", "error", err)
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Add appends a donation to the queue and returns the stored item.
// A blank username becomes DefaultUsername. The amount must be a
// finite, non-negative number.
func (s *Store) Add(ctx context.Context, username, message string, amount float64) (*Item, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}

	username = strings.TrimSpace(username)
	if username == "" {
		username = DefaultUsername
	}

	now := time.Now()
	item := &Item{
		Username:  username,
		Message:   message,
		Amount:    amount,
		Timestamp: now.Format(timestampLayout),
		CreatedAt: now,
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO queue_items (username, message, amount, timestamp, processed, created_at)
		VALUES (?, ?, ?, ?, 0, ?)`,
		item.Username, item.Message, item.Amount, item.Timestamp,
		now.UTC().Format(createdAtLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("insert donation: %w", err)
	}
	item.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("read inserted id: %w", err)
	}

	s.logger.Info("donation queued",
		"id", item.ID,
		"username", item.Username,
		"amount", item.Amount,
	)
	return item, nil
}

// NextPending returns the oldest unprocessed item, or (nil, nil) when
// the queue is empty. The item is not modified.
func (s *Store) NextPending(ctx context.Context) (*Item, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, message, amount, timestamp, processed, created_at
		FROM queue_items
		WHERE processed = 0
		ORDER BY created_at ASC, id ASC
		LIMIT 1`)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select next pending: %w", err)
	}
	return item, nil
}

// MarkProcessed flips an item to processed and folds its amount into the
// aggregate totals. Both writes happen in one transaction so the flag
// and the totals cannot diverge on a clean commit.
func (s *Store) MarkProcessed(ctx context.Context, id int64) error {
	if s.db == nil {
		return ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark processed: %w", err)
	}
	defer tx.Rollback()

	var amount float64
	var processed bool
	err = tx.QueryRowContext(ctx,
		`SELECT amount, processed FROM queue_items WHERE id = ?`, id,
	).Scan(&amount, &processed)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: id %d", ErrItemNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("select item %d: %w", id, err)
	}
	if processed {
		return fmt.Errorf("%w: id %d", ErrAlreadyProcessed, id)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE queue_items SET processed = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark item %d processed: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE queue_stats
		SET total_donations = total_donations + 1,
		    total_amount = total_amount + ?
		WHERE id = 1`, amount); err != nil {
		return fmt.Errorf("update totals for item %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mark processed: %w", err)
	}
	s.logger.Info("donation processed", "id", id, "amount", amount)
	return nil
}

// Skip marks the oldest pending item processed without it being spoken,
// tagging its timestamp so the skip remains visible in history. The
// item still counts toward the aggregate totals. Returns the skipped
// item, or ErrQueueEmpty when nothing is pending.
func (s *Store) Skip(ctx context.Context) (*Item, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin skip: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, username, message, amount, timestamp, processed, created_at
		FROM queue_items
		WHERE processed = 0
		ORDER BY created_at ASC, id ASC
		LIMIT 1`)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("select next pending: %w", err)
	}

	item.Timestamp += skippedTag
	item.Processed = true
	if _, err := tx.ExecContext(ctx,
		`UPDATE queue_items SET processed = 1, timestamp = ? WHERE id = ?`,
		item.Timestamp, item.ID); err != nil {
		return nil, fmt.Errorf("skip item %d: %w", item.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE queue_stats
		SET total_donations = total_donations + 1,
		    total_amount = total_amount + ?
		WHERE id = 1`, item.Amount); err != nil {
		return nil, fmt.Errorf("update totals for item %d: %w", item.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit skip: %w", err)
	}
	s.logger.Info("donation skipped", "id", item.ID, "username", item.Username)
	return item, nil
}

// Stats reconciles the aggregate totals against the per-item rows and
// returns a snapshot for the current cycle.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	if err := s.Reconcile(ctx); err != nil {
		return nil, err
	}

	stats := &Stats{}
	err := s.db.QueryRowContext(ctx,
		`SELECT total_donations, total_amount FROM queue_stats WHERE id = 1`,
	).Scan(&stats.TotalDonations, &stats.TotalAmount)
	if err != nil {
		return nil, fmt.Errorf("select totals: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN processed = 0 THEN 1 END),
			COALESCE(SUM(CASE WHEN processed = 0 THEN amount END), 0),
			COUNT(CASE WHEN processed = 1 THEN 1 END)
		FROM queue_items
		WHERE timestamp NOT LIKE '%' || ? || '%'`,
		resetMarkerPrefix,
	).Scan(&stats.PendingCount, &stats.PendingAmount, &stats.ProcessedCount)
	if err != nil {
		return nil, fmt.Errorf("count queue items: %w", err)
	}
	return stats, nil
}

// PendingItems returns up to limit pending items in queue order. A
// limit of zero or less returns all pending items.
func (s *Store) PendingItems(ctx context.Context, limit int) ([]*Item, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	q := `
		SELECT id, username, message, amount, timestamp, processed, created_at
		FROM queue_items
		WHERE processed = 0
		ORDER BY created_at ASC, id ASC`
	args := []any{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryItems(ctx, q, args...)
}

// RecentProcessed returns up to limit processed items from the current
// cycle, most recent first.
func (s *Store) RecentProcessed(ctx context.Context, limit int) ([]*Item, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 10
	}
	return s.queryItems(ctx, `
		SELECT id, username, message, amount, timestamp, processed, created_at
		FROM queue_items
		WHERE processed = 1 AND timestamp NOT LIKE '%' || ? || '%'
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		resetMarkerPrefix, limit)
}

func (s *Store) queryItems(ctx context.Context, query string, args ...any) ([]*Item, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*Item, error) {
	var item Item
	var createdAt string
	err := row.Scan(&item.ID, &item.Username, &item.Message, &item.Amount,
		&item.Timestamp, &item.Processed, &createdAt)
	if err != nil {
		return nil, err
	}
	if t, perr := time.Parse(time.RFC3339Nano, createdAt); perr == nil {
		item.CreatedAt = t
	}
	return &item, nil
}
