package models

import (
	"github.com/shopspring/decimal"
)

// APIResponse is the standard JSON envelope for all API responses.
type APIResponse struct {
	Data interface{} `json:"data"`
	Meta *Meta       `json:"meta,omitempty"`
}

// Meta contains pagination metadata.
type Meta struct {
	Total int `json:"total,omitempty"`
	Page  int `json:"page,omitempty"`
	Limit int `json:"limit,omitempty"`
}

// Ref is an id plus the display name shown to operators.
type Ref struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// AssignmentKind tags an inventory assignment as a lot or a serial.
type AssignmentKind string

const (
	KindUnknown AssignmentKind = ""
	KindLot     AssignmentKind = "lot"
	KindSerial  AssignmentKind = "serial"
)

// InventoryAssignment is one lot/serial/bin allocation recorded on a completion.
type InventoryAssignment struct {
	LotOrSerialNumber string          `json:"lot_or_serial_number"`
	LotOrSerialID     *string         `json:"lot_or_serial_id"`
	Bin               *string         `json:"bin"`
	BinID             *string         `json:"bin_id"`
	Quantity          decimal.Decimal `json:"quantity"`
	Kind              AssignmentKind  `json:"kind,omitempty"`
}

// IsSerial reports whether the assignment is a single-unit serial entry.
// An untagged entry with quantity exactly 1 is treated as a serial; a lot of
// one unit is indistinguishable from a serial unless Kind says otherwise.
func (a InventoryAssignment) IsSerial() bool {
	switch a.Kind {
	case KindSerial:
		return true
	case KindLot:
		return false
	}
	return a.Quantity.Equal(decimal.NewFromInt(1))
}

// Resolved reports whether the lot/serial internal id is known.
func (a InventoryAssignment) Resolved() bool {
	return a.LotOrSerialID != nil && *a.LotOrSerialID != ""
}

// CompletionRecord is one unit of finished work yielding inventory.
type CompletionRecord struct {
	ID                 string                `json:"id"`
	SourceOrderID      string                `json:"source_order_id"`
	Item               Ref                   `json:"item"`
	Quantity           decimal.Decimal       `json:"quantity"`
	Location           Ref                   `json:"location"`
	TransactionDate    string                `json:"transaction_date"`
	TransactionNumber  string                `json:"transaction_number"`
	InventoryDetail    []InventoryAssignment `json:"inventory_detail"`
	Scanned            bool                  `json:"scanned"`
	LinkedDownstreamID *string               `json:"linked_downstream_id"`
	CreatedAt          string                `json:"created_at"`
	UpdatedAt          string                `json:"updated_at"`
}

// LineAssignment is an inventory assignment written onto a downstream line.
type LineAssignment struct {
	InternalID string          `json:"internal_id"`
	Number     string          `json:"number"`
	Quantity   decimal.Decimal `json:"quantity"`
	BinID      string          `json:"bin_id,omitempty"`
	Bin        string          `json:"bin,omitempty"`
}

// DocumentLine is one index-addressable line of a downstream document.
type DocumentLine struct {
	Index                int              `json:"index"`
	Item                 Ref              `json:"item"`
	Location             Ref              `json:"location"`
	Quantity             decimal.Decimal  `json:"quantity"`
	Fulfilled            bool             `json:"fulfilled"`
	InventoryAssignments []LineAssignment `json:"inventory_assignments"`
}

// DownstreamDocument is the fulfillment-like document that consumes completions.
type DownstreamDocument struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	SourceOrderID string         `json:"source_order_id"`
	Status        string         `json:"status"`
	ScanRefs      []string       `json:"scan_refs"`
	Lines         []DocumentLine `json:"lines"`
	CreatedAt     string         `json:"created_at"`
	UpdatedAt     string         `json:"updated_at"`
}

// Clone returns a deep copy so a batch can mutate it without touching the original.
func (d *DownstreamDocument) Clone() *DownstreamDocument {
	if d == nil {
		return nil
	}
	c := *d
	c.ScanRefs = append([]string(nil), d.ScanRefs...)
	c.Lines = make([]DocumentLine, len(d.Lines))
	for i, l := range d.Lines {
		l.InventoryAssignments = append([]LineAssignment(nil), l.InventoryAssignments...)
		c.Lines[i] = l
	}
	return &c
}

// SourceOrder is the order a downstream document is transformed from.
type SourceOrder struct {
	ID        string            `json:"id"`
	Customer  string            `json:"customer"`
	Status    string            `json:"status"`
	CreatedAt string            `json:"created_at"`
	Lines     []SourceOrderLine `json:"lines,omitempty"`
}

// SourceOrderLine is one ordered item on a source order.
type SourceOrderLine struct {
	ID       int             `json:"id"`
	OrderID  string          `json:"order_id"`
	Item     Ref             `json:"item"`
	Location Ref             `json:"location"`
	Quantity decimal.Decimal `json:"quantity"`
}

// InventoryNumber is one row of the lot/serial number index.
type InventoryNumber struct {
	ID         string `json:"id"`
	Number     string `json:"number"`
	ItemID     string `json:"item_id"`
	LocationID string `json:"location_id"`
}

// AuditEntry is a row of the audit trail.
type AuditEntry struct {
	ID        int    `json:"id"`
	Username  string `json:"username"`
	Action    string `json:"action"`
	Module    string `json:"module"`
	RecordID  string `json:"record_id"`
	Summary   string `json:"summary"`
	CreatedAt string `json:"created_at"`
}

// StationKey is a scanner-station API key; the secret is only stored hashed.
type StationKey struct {
	ID        int     `json:"id"`
	Name      string  `json:"name"`
	KeyPrefix string  `json:"key_prefix"`
	CreatedAt string  `json:"created_at"`
	LastUsed  *string `json:"last_used"`
	Enabled   bool    `json:"enabled"`
}
