package tracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/docground/idgen"
)

// Schema is the transactions table.
const Schema = `
CREATE TABLE IF NOT EXISTS transactions (
    id            TEXT PRIMARY KEY,
    filename      TEXT NOT NULL,
    format        TEXT NOT NULL DEFAULT '',
    file_size     INTEGER NOT NULL DEFAULT 0,
    status        TEXT NOT NULL DEFAULT 'pending',
    progress      INTEGER NOT NULL DEFAULT 0,
    error         TEXT NOT NULL DEFAULT '',
    page_count    INTEGER NOT NULL DEFAULT 0,
    element_count INTEGER NOT NULL DEFAULT 0,
    created_at    INTEGER NOT NULL,
    updated_at    INTEGER NOT NULL,
    completed_at  INTEGER
);
CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status, updated_at DESC);
`

// Store persists transactions in SQLite. Transition checks ride on
// conditional UPDATEs, so concurrent stage workers cannot race a
// transaction into an illegal state.
type Store struct {
	DB    *sql.DB
	NewID idgen.Generator
}

// NewStore creates a Store from an already-opened database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db, NewID: idgen.Transaction}
}

// Create registers a new pending transaction and returns it.
func (s *Store) Create(ctx context.Context, filename, format string, size int64) (*Transaction, error) {
	if filename == "" {
		return nil, fmt.Errorf("%w: empty filename", ErrInvalidInput)
	}
	if size < 0 {
		return nil, fmt.Errorf("%w: negative file size", ErrInvalidInput)
	}
	now := time.Now().UnixMilli()
	txn := &Transaction{
		ID:        s.NewID(),
		Filename:  filename,
		Format:    format,
		FileSize:  size,
		Status:    StatusPending,
		Progress:  progressFor[StatusPending],
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO transactions (id, filename, format, file_size, status, progress, error,
		page_count, element_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, '', 0, 0, ?, ?)`,
		txn.ID, txn.Filename, txn.Format, txn.FileSize, txn.Status, txn.Progress,
		txn.CreatedAt, txn.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("tracker: create: %w", err)
	}
	return txn, nil
}

// Advance moves a transaction to the next stage. The move is rejected
// unless the stored status is exactly the predecessor of next.
func (s *Store) Advance(ctx context.Context, id string, next Status) error {
	if !ValidStatus(next) || next == StatusFailed {
		return fmt.Errorf("%w: cannot advance to %q", ErrInvalidInput, next)
	}
	prev := predecessor(next)
	if prev == "" {
		return fmt.Errorf("%w: %q has no predecessor", ErrInvalidTransition, next)
	}

	now := time.Now().UnixMilli()
	var res sql.Result
	var err error
	if next == StatusCompleted {
		res, err = s.DB.ExecContext(ctx,
			`UPDATE transactions SET status=?, progress=?, updated_at=?, completed_at=?
			WHERE id=? AND status=?`,
			next, progressFor[next], now, now, id, prev)
	} else {
		res, err = s.DB.ExecContext(ctx,
			`UPDATE transactions SET status=?, progress=?, updated_at=?
			WHERE id=? AND status=?`,
			next, progressFor[next], now, id, prev)
	}
	if err != nil {
		return fmt.Errorf("tracker: advance: %w", err)
	}
	return s.checkUpdated(ctx, res, id)
}

// Complete moves a transaction from storing to completed.
func (s *Store) Complete(ctx context.Context, id string) error {
	return s.Advance(ctx, id, StatusCompleted)
}

// Fail moves a transaction from any non-terminal state into failed,
// recording the error message. Progress keeps its last value.
func (s *Store) Fail(ctx context.Context, id, message string) error {
	now := time.Now().UnixMilli()
	res, err := s.DB.ExecContext(ctx,
		`UPDATE transactions SET status=?, error=?, updated_at=?
		WHERE id=? AND status NOT IN (?, ?)`,
		StatusFailed, message, now, id, StatusCompleted, StatusFailed)
	if err != nil {
		return fmt.Errorf("tracker: fail: %w", err)
	}
	return s.checkUpdated(ctx, res, id)
}

// SetCounts records page and element totals once known.
func (s *Store) SetCounts(ctx context.Context, id string, pages, elements int) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE transactions SET page_count=?, element_count=?, updated_at=? WHERE id=?`,
		pages, elements, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("tracker: set counts: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get retrieves a transaction by ID.
func (s *Store) Get(ctx context.Context, id string) (*Transaction, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, filename, format, file_size, status, progress, error,
		page_count, element_count, created_at, updated_at, completed_at
		FROM transactions WHERE id = ?`, id)
	txn, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return txn, err
}

// List returns all transactions, newest first.
func (s *Store) List(ctx context.Context) ([]*Transaction, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, filename, format, file_size, status, progress, error,
		page_count, element_count, created_at, updated_at, completed_at
		FROM transactions ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []*Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

// Delete removes a transaction record.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("tracker: delete: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// checkUpdated distinguishes "no such transaction" from "wrong state"
// after a conditional UPDATE matched zero rows.
func (s *Store) checkUpdated(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = s.DB.QueryRowContext(ctx,
		`SELECT 1 FROM transactions WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrInvalidTransition
}

func predecessor(s Status) Status {
	for i, st := range stageOrder {
		if st == s && i > 0 {
			return stageOrder[i-1]
		}
	}
	return ""
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (*Transaction, error) {
	var txn Transaction
	var completedAt sql.NullInt64
	err := row.Scan(&txn.ID, &txn.Filename, &txn.Format, &txn.FileSize, &txn.Status, &txn.Progress,
		&txn.Error, &txn.PageCount, &txn.ElementCount,
		&txn.CreatedAt, &txn.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		txn.CompletedAt = &completedAt.Int64
	}
	return &txn, nil
}
