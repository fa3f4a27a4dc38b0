package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"qrtrace/internal/models"
	"qrtrace/internal/traceability"
)

const completionColumns = `id, source_order_id, item_id, item_name, quantity, location_id, location_name,
	transaction_date, transaction_number, scanned, linked_downstream_id, created_at, updated_at`

// CompletionFilter narrows ListCompletions.
type CompletionFilter struct {
	SourceOrderID string
	ItemID        string
	Scanned       *bool
	Limit         int
	Offset        int
}

// CreateCompletion inserts a completion with its inventory detail. An empty
// id is assigned as WOC-YYYY-NNNN.
func (s *Store) CreateCompletion(ctx context.Context, c *models.CompletionRecord) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if c.ID == "" {
			id, err := s.nextID(ctx, tx, "WOC", "completions", 4)
			if err != nil {
				return err
			}
			c.ID = id
		}
		now := s.timestamp()
		_, err := tx.ExecContext(ctx, `INSERT INTO completions (id, source_order_id, item_id, item_name, quantity,
			location_id, location_name, transaction_date, transaction_number, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.SourceOrderID, c.Item.ID, c.Item.Name, c.Quantity,
			c.Location.ID, c.Location.Name, c.TransactionDate, c.TransactionNumber, now, now)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE") {
				return fmt.Errorf("%w: %s", ErrCompletionExists, c.ID)
			}
			return fmt.Errorf("insert completion: %w", err)
		}
		if err := insertDetail(ctx, tx, c.ID, c.InventoryDetail); err != nil {
			return err
		}
		c.Scanned = false
		c.LinkedDownstreamID = nil
		c.CreatedAt, c.UpdatedAt = now, now
		return nil
	})
}

// UpdateCompletion replaces an unscanned completion's fields and inventory
// detail. Scanned completions are immutable.
func (s *Store) UpdateCompletion(ctx context.Context, c *models.CompletionRecord) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.timestamp()
		res, err := tx.ExecContext(ctx, `UPDATE completions SET source_order_id=?, item_id=?, item_name=?, quantity=?,
			location_id=?, location_name=?, transaction_date=?, transaction_number=?, updated_at=?
			WHERE id=? AND scanned=0`,
			c.SourceOrderID, c.Item.ID, c.Item.Name, c.Quantity,
			c.Location.ID, c.Location.Name, c.TransactionDate, c.TransactionNumber, now, c.ID)
		if err != nil {
			return fmt.Errorf("update completion: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			if _, err := getStatus(ctx, tx, c.ID); err != nil {
				return err
			}
			return fmt.Errorf("%w: %s", ErrCompletionLocked, c.ID)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM completion_inventory_detail WHERE completion_id=?", c.ID); err != nil {
			return fmt.Errorf("clear inventory detail: %w", err)
		}
		if err := insertDetail(ctx, tx, c.ID, c.InventoryDetail); err != nil {
			return err
		}
		c.UpdatedAt = now
		return nil
	})
}

func insertDetail(ctx context.Context, q queryer, completionID string, detail []models.InventoryAssignment) error {
	for i, a := range detail {
		if strings.TrimSpace(a.LotOrSerialNumber) == "" {
			return fmt.Errorf("inventory detail %d: lot or serial number is required", i)
		}
		_, err := q.ExecContext(ctx, `INSERT INTO completion_inventory_detail
			(completion_id, seq, number, number_id, bin, bin_id, quantity, kind) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			completionID, i, a.LotOrSerialNumber, ns(a.LotOrSerialID), ns(a.Bin), ns(a.BinID), a.Quantity, string(a.Kind))
		if err != nil {
			return fmt.Errorf("insert inventory detail: %w", err)
		}
	}
	return nil
}

// GetCompletion loads one completion with its inventory detail in entry order.
func (s *Store) GetCompletion(ctx context.Context, id string) (*models.CompletionRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+completionColumns+" FROM completions WHERE id=?", id)
	c, err := scanCompletion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", traceability.ErrCompletionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get completion %s: %w", id, err)
	}
	if c.InventoryDetail, err = s.loadDetail(ctx, id); err != nil {
		return nil, err
	}
	return c, nil
}

// ListCompletions returns completions, newest first, with inventory detail.
func (s *Store) ListCompletions(ctx context.Context, f CompletionFilter) ([]models.CompletionRecord, error) {
	query := "SELECT " + completionColumns + " FROM completions WHERE 1=1"
	var args []any
	if f.SourceOrderID != "" {
		query += " AND source_order_id=?"
		args = append(args, f.SourceOrderID)
	}
	if f.ItemID != "" {
		query += " AND item_id=?"
		args = append(args, f.ItemID)
	}
	if f.Scanned != nil {
		query += " AND scanned=?"
		args = append(args, boolInt(*f.Scanned))
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}
	var items []models.CompletionRecord
	for rows.Next() {
		c, err := scanCompletion(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan completion: %w", err)
		}
		items = append(items, *c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range items {
		if items[i].InventoryDetail, err = s.loadDetail(ctx, items[i].ID); err != nil {
			return nil, err
		}
	}
	if items == nil {
		items = []models.CompletionRecord{}
	}
	return items, nil
}

func (s *Store) loadDetail(ctx context.Context, completionID string) ([]models.InventoryAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT number, number_id, bin, bin_id, quantity, kind
		FROM completion_inventory_detail WHERE completion_id=? ORDER BY seq`, completionID)
	if err != nil {
		return nil, fmt.Errorf("load inventory detail: %w", err)
	}
	defer rows.Close()

	detail := []models.InventoryAssignment{}
	for rows.Next() {
		var a models.InventoryAssignment
		var numberID, bin, binID sql.NullString
		var kind string
		if err := rows.Scan(&a.LotOrSerialNumber, &numberID, &bin, &binID, &a.Quantity, &kind); err != nil {
			return nil, fmt.Errorf("scan inventory detail: %w", err)
		}
		a.LotOrSerialID, a.Bin, a.BinID = sp(numberID), sp(bin), sp(binID)
		a.Kind = models.AssignmentKind(kind)
		detail = append(detail, a)
	}
	return detail, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCompletion(r rowScanner) (*models.CompletionRecord, error) {
	var c models.CompletionRecord
	var qty decimal.Decimal
	var scanned int
	var linked sql.NullString
	var created, updated sql.NullString
	err := r.Scan(&c.ID, &c.SourceOrderID, &c.Item.ID, &c.Item.Name, &qty, &c.Location.ID, &c.Location.Name,
		&c.TransactionDate, &c.TransactionNumber, &scanned, &linked, &created, &updated)
	if err != nil {
		return nil, err
	}
	c.Quantity = qty
	c.Scanned = scanned == 1
	c.LinkedDownstreamID = sp(linked)
	c.CreatedAt, c.UpdatedAt = created.String, updated.String
	return &c, nil
}
