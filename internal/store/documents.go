package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"qrtrace/internal/models"
	"qrtrace/internal/traceability"
)

// Document statuses.
const (
	DocumentStatusPending    = "pending"
	DocumentStatusReconciled = "reconciled"
)

var documentPrefixes = map[string]string{
	"fulfillment": "IF",
	"shipment":    "SHP",
	"receipt":     "RCV",
}

func documentPrefix(docType string) string {
	if p, ok := documentPrefixes[strings.ToLower(docType)]; ok {
		return p
	}
	return "DOC"
}

// LoadDocument loads a downstream document with its lines and line
// assignments. An empty docType matches any type.
func (s *Store) LoadDocument(ctx context.Context, docType, id string) (*models.DownstreamDocument, error) {
	return loadDocument(ctx, s.db, docType, id)
}

func loadDocument(ctx context.Context, q queryer, docType, id string) (*models.DownstreamDocument, error) {
	var d models.DownstreamDocument
	var refs, created, updated sql.NullString
	err := q.QueryRowContext(ctx, `SELECT id, type, source_order_id, status, scan_refs, created_at, updated_at
		FROM downstream_documents WHERE id=? AND (?='' OR type=?)`, id, docType, docType).
		Scan(&d.ID, &d.Type, &d.SourceOrderID, &d.Status, &refs, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", traceability.ErrDocumentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", id, err)
	}
	d.ScanRefs = traceability.ParseRefs(refs.String)
	d.CreatedAt, d.UpdatedAt = created.String, updated.String

	rows, err := q.QueryContext(ctx, `SELECT line_index, item_id, item_name, location_id, location_name, quantity, fulfilled
		FROM document_lines WHERE document_id=? ORDER BY line_index`, id)
	if err != nil {
		return nil, fmt.Errorf("load document lines: %w", err)
	}
	for rows.Next() {
		var l models.DocumentLine
		var fulfilled int
		if err := rows.Scan(&l.Index, &l.Item.ID, &l.Item.Name, &l.Location.ID, &l.Location.Name, &l.Quantity, &fulfilled); err != nil {
			rows.Close()
			return nil, err
		}
		l.Fulfilled = fulfilled == 1
		l.InventoryAssignments = []models.LineAssignment{}
		d.Lines = append(d.Lines, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	arows, err := q.QueryContext(ctx, `SELECT line_index, internal_id, number, quantity, bin_id, bin
		FROM line_assignments WHERE document_id=? ORDER BY line_index, seq`, id)
	if err != nil {
		return nil, fmt.Errorf("load line assignments: %w", err)
	}
	defer arows.Close()
	for arows.Next() {
		var idx int
		var a models.LineAssignment
		if err := arows.Scan(&idx, &a.InternalID, &a.Number, &a.Quantity, &a.BinID, &a.Bin); err != nil {
			return nil, err
		}
		for i := range d.Lines {
			if d.Lines[i].Index == idx {
				d.Lines[i].InventoryAssignments = append(d.Lines[i].InventoryAssignments, a)
				break
			}
		}
	}
	return &d, arows.Err()
}

// TransformFromOrder builds an unsaved document of toType from a source
// order, one line per order line, nothing fulfilled.
func (s *Store) TransformFromOrder(ctx context.Context, orderID, toType string) (*models.DownstreamDocument, error) {
	o, err := getSourceOrder(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	doc := &models.DownstreamDocument{
		Type:          toType,
		SourceOrderID: o.ID,
		Status:        DocumentStatusPending,
	}
	for i, l := range o.Lines {
		doc.Lines = append(doc.Lines, models.DocumentLine{
			Index:                i,
			Item:                 l.Item,
			Location:             l.Location,
			Quantity:             l.Quantity,
			InventoryAssignments: []models.LineAssignment{},
		})
	}
	return doc, nil
}

// CreateFromOrder transforms a source order and saves the result.
func (s *Store) CreateFromOrder(ctx context.Context, orderID, toType string) (*models.DownstreamDocument, error) {
	doc, err := s.TransformFromOrder(ctx, orderID, toType)
	if err != nil {
		return nil, err
	}
	if _, err := s.SaveDocument(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// SaveDocument inserts or replaces a document with all its lines.
func (s *Store) SaveDocument(ctx context.Context, doc *models.DownstreamDocument) (string, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return s.saveDocument(ctx, tx, doc)
	})
	if err != nil {
		return "", err
	}
	return doc.ID, nil
}

// UpdateScanRefs persists the in-progress scan refs of a document edit session.
func (s *Store) UpdateScanRefs(ctx context.Context, docID string, refs []string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE downstream_documents SET scan_refs=?, updated_at=? WHERE id=?",
		traceability.MarshalRefs(refs), s.timestamp(), docID)
	if err != nil {
		return fmt.Errorf("update scan refs: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", traceability.ErrDocumentNotFound, docID)
	}
	return nil
}

// Commit saves a reconciled document and marks every consumed completion as
// scanned against it in one transaction. A completion that was consumed
// concurrently rolls the whole commit back.
func (s *Store) Commit(ctx context.Context, doc *models.DownstreamDocument, consumed []string) (string, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		doc.Status = DocumentStatusReconciled
		if err := s.saveDocument(ctx, tx, doc); err != nil {
			return err
		}
		now := s.timestamp()
		for _, id := range consumed {
			if err := markScanned(ctx, tx, id, doc.ID, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	logger.WithField("document", doc.ID).Debugf("committed %d completions", len(consumed))
	return doc.ID, nil
}

func (s *Store) saveDocument(ctx context.Context, tx *sql.Tx, doc *models.DownstreamDocument) error {
	isNew := doc.ID == ""
	if isNew {
		id, err := s.nextID(ctx, tx, documentPrefix(doc.Type), "downstream_documents", 4)
		if err != nil {
			return err
		}
		doc.ID = id
	}
	if doc.Status == "" {
		doc.Status = DocumentStatusPending
	}
	now := s.timestamp()
	if doc.CreatedAt == "" {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	refs, err := json.Marshal(nonNil(doc.ScanRefs))
	if err != nil {
		return fmt.Errorf("marshal scan refs: %w", err)
	}
	// A generated id must never overwrite another document.
	upsert := `INSERT INTO downstream_documents (id, type, source_order_id, status, scan_refs, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	if !isNew {
		upsert += ` ON CONFLICT(id) DO UPDATE SET type=excluded.type, source_order_id=excluded.source_order_id,
			status=excluded.status, scan_refs=excluded.scan_refs, updated_at=excluded.updated_at`
	}
	_, err = tx.ExecContext(ctx, upsert,
		doc.ID, doc.Type, doc.SourceOrderID, doc.Status, string(refs), doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save document %s: %w", doc.ID, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM line_assignments WHERE document_id=?", doc.ID); err != nil {
		return fmt.Errorf("clear line assignments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM document_lines WHERE document_id=?", doc.ID); err != nil {
		return fmt.Errorf("clear document lines: %w", err)
	}
	for _, l := range doc.Lines {
		_, err := tx.ExecContext(ctx, `INSERT INTO document_lines
			(document_id, line_index, item_id, item_name, location_id, location_name, quantity, fulfilled)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			doc.ID, l.Index, l.Item.ID, l.Item.Name, l.Location.ID, l.Location.Name, l.Quantity, boolInt(l.Fulfilled))
		if err != nil {
			return fmt.Errorf("save line %d: %w", l.Index, err)
		}
		for seq, a := range l.InventoryAssignments {
			_, err := tx.ExecContext(ctx, `INSERT INTO line_assignments
				(document_id, line_index, seq, internal_id, number, quantity, bin_id, bin) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				doc.ID, l.Index, seq, a.InternalID, a.Number, a.Quantity, a.BinID, a.Bin)
			if err != nil {
				return fmt.Errorf("save assignment %d/%d: %w", l.Index, seq, err)
			}
		}
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
