package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"qrtrace/internal/models"
)

// CreateSourceOrder inserts an order and its lines. An empty id is assigned
// as SO-YYYY-NNNN.
func (s *Store) CreateSourceOrder(ctx context.Context, o *models.SourceOrder) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if o.ID == "" {
			id, err := s.nextID(ctx, tx, "SO", "source_orders", 4)
			if err != nil {
				return err
			}
			o.ID = id
		}
		if o.Status == "" {
			o.Status = "open"
		}
		o.CreatedAt = s.timestamp()
		if _, err := tx.ExecContext(ctx, "INSERT INTO source_orders (id, customer, status, created_at) VALUES (?, ?, ?, ?)",
			o.ID, o.Customer, o.Status, o.CreatedAt); err != nil {
			return fmt.Errorf("insert source order: %w", err)
		}
		for i := range o.Lines {
			l := &o.Lines[i]
			res, err := tx.ExecContext(ctx, `INSERT INTO source_order_lines
				(order_id, item_id, item_name, location_id, location_name, quantity) VALUES (?, ?, ?, ?, ?, ?)`,
				o.ID, l.Item.ID, l.Item.Name, l.Location.ID, l.Location.Name, l.Quantity)
			if err != nil {
				return fmt.Errorf("insert source order line: %w", err)
			}
			id, _ := res.LastInsertId()
			l.ID = int(id)
			l.OrderID = o.ID
		}
		return nil
	})
}

// GetSourceOrder loads an order with its lines in entry order.
func (s *Store) GetSourceOrder(ctx context.Context, id string) (*models.SourceOrder, error) {
	return getSourceOrder(ctx, s.db, id)
}

func getSourceOrder(ctx context.Context, q queryer, id string) (*models.SourceOrder, error) {
	var o models.SourceOrder
	var created sql.NullString
	err := q.QueryRowContext(ctx, "SELECT id, customer, status, created_at FROM source_orders WHERE id=?", id).
		Scan(&o.ID, &o.Customer, &o.Status, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSourceOrderNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get source order %s: %w", id, err)
	}
	o.CreatedAt = created.String

	rows, err := q.QueryContext(ctx, `SELECT id, order_id, item_id, item_name, location_id, location_name, quantity
		FROM source_order_lines WHERE order_id=? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("load source order lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l models.SourceOrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.Item.ID, &l.Item.Name, &l.Location.ID, &l.Location.Name, &l.Quantity); err != nil {
			return nil, err
		}
		o.Lines = append(o.Lines, l)
	}
	return &o, rows.Err()
}
