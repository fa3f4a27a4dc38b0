package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"qrtrace/internal/models"
	"qrtrace/internal/traceability"
)

// ResolveInventoryNumber finds the internal id of a lot or serial number for
// an item. A row at the requested location wins over one elsewhere.
func (s *Store) ResolveInventoryNumber(ctx context.Context, number, itemID, locationID string) (string, error) {
	number = strings.TrimSpace(number)
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM inventory_numbers
		WHERE number=? AND item_id=?
		ORDER BY CASE WHEN location_id=? THEN 0 WHEN location_id='' THEN 1 ELSE 2 END, id
		LIMIT 1`, number, itemID, locationID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &traceability.LotNotFoundError{Number: number, ItemID: itemID}
	}
	if err != nil {
		return "", fmt.Errorf("resolve inventory number %q: %w", number, err)
	}
	return id, nil
}

// UpsertInventoryNumber adds or renames an entry in the lot/serial index.
func (s *Store) UpsertInventoryNumber(ctx context.Context, n models.InventoryNumber) error {
	if n.ID == "" || n.Number == "" || n.ItemID == "" {
		return errors.New("inventory number requires id, number and item_id")
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO inventory_numbers (id, number, item_id, location_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET number=excluded.number, item_id=excluded.item_id, location_id=excluded.location_id`,
		n.ID, n.Number, n.ItemID, n.LocationID)
	if err != nil {
		return fmt.Errorf("upsert inventory number %s: %w", n.ID, err)
	}
	return nil
}

// ListInventoryNumbers returns the index entries for an item.
func (s *Store) ListInventoryNumbers(ctx context.Context, itemID string) ([]models.InventoryNumber, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, number, item_id, location_id FROM inventory_numbers WHERE item_id=? ORDER BY number, id", itemID)
	if err != nil {
		return nil, fmt.Errorf("list inventory numbers: %w", err)
	}
	defer rows.Close()
	out := []models.InventoryNumber{}
	for rows.Next() {
		var n models.InventoryNumber
		if err := rows.Scan(&n.ID, &n.Number, &n.ItemID, &n.LocationID); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
