// Package store is the SQLite persistence layer: completions, downstream
// documents, the completion status compare-and-set and the lot/serial index.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

var logger = logrus.StandardLogger().WithField("package", "store")

var (
	ErrCompletionLocked    = errors.New("completion has been scanned and can no longer be edited")
	ErrCompletionExists    = errors.New("completion already exists")
	ErrSourceOrderNotFound = errors.New("source order not found")
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements the traceability store interfaces over one database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// DB exposes the underlying handle for packages that share it (audit, auth).
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) timestamp() string {
	return s.now().UTC().Format("2006-01-02 15:04:05")
}

// withTx runs fn inside a transaction, committing only when fn succeeds.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Warnf("rollback failed: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// nextID returns PREFIX-YYYY-NNNN, one past the highest id of that year.
func (s *Store) nextID(ctx context.Context, q queryer, prefix, table string, digits int) (string, error) {
	year := s.now().UTC().Format("2006")
	pattern := prefix + "-" + year + "-%"
	var maxID sql.NullString
	err := q.QueryRowContext(ctx, "SELECT id FROM "+table+" WHERE id LIKE ? ORDER BY id DESC LIMIT 1", pattern).Scan(&maxID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("next %s id: %w", prefix, err)
	}

	next := 1
	if maxID.Valid {
		parts := strings.Split(maxID.String, "-")
		if n, err := strconv.Atoi(parts[len(parts)-1]); err == nil {
			next = n + 1
		}
	}
	return fmt.Sprintf("%s-%s-%0*d", prefix, year, digits, next), nil
}

func ns(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func sp(n sql.NullString) *string {
	if !n.Valid || n.String == "" {
		return nil
	}
	return &n.String
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
