package traceability

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"qrtrace/internal/models"
)

// PayloadType is the discriminator every scan payload must carry.
const PayloadType = "WO_COMPLETION"

// SchemaVersion is the payload schema emitted by Marshal.
const SchemaVersion = 2

// Wire shapes a payload can be decoded from.
const (
	SchemaV2        = "v2"
	SchemaV1Compact = "v1-compact"
	SchemaV1Flat    = "v1-flat"
)

// PayloadEntry is one lot or serial carried in a payload.
type PayloadEntry struct {
	Number   string
	NumberID string
	Quantity decimal.Decimal
	Bin      string
	BinID    string
}

// Payload is the decoded form of the QR text produced for a completion.
type Payload struct {
	Type              string
	Schema            int
	CompletionID      string
	SourceOrderID     string
	Item              models.Ref
	Quantity          decimal.Decimal
	Location          models.Ref
	Date              string
	TransactionNumber string
	Lots              []PayloadEntry
	Serials           []PayloadEntry
	Bins              []string

	// DecodedFrom records the wire shape Decode accepted.
	DecodedFrom string
}

// Assignments flattens the payload's lots and serials back into inventory
// assignments, lots first, each tagged with its kind.
func (p Payload) Assignments() []models.InventoryAssignment {
	out := make([]models.InventoryAssignment, 0, len(p.Lots)+len(p.Serials))
	for _, l := range p.Lots {
		out = append(out, entryToAssignment(l, models.KindLot, l.Quantity))
	}
	for _, s := range p.Serials {
		out = append(out, entryToAssignment(s, models.KindSerial, decimal.NewFromInt(1)))
	}
	return out
}

func entryToAssignment(e PayloadEntry, kind models.AssignmentKind, qty decimal.Decimal) models.InventoryAssignment {
	return models.InventoryAssignment{
		LotOrSerialNumber: e.Number,
		LotOrSerialID:     optional(e.NumberID),
		Bin:               optional(e.Bin),
		BinID:             optional(e.BinID),
		Quantity:          qty,
		Kind:              kind,
	}
}

// Encode builds the scan payload for a completion. Inventory detail is split
// into lots and serials with models.InventoryAssignment.IsSerial.
func Encode(c models.CompletionRecord) Payload {
	p := Payload{
		Type:              PayloadType,
		Schema:            SchemaVersion,
		CompletionID:      c.ID,
		SourceOrderID:     c.SourceOrderID,
		Item:              c.Item,
		Quantity:          c.Quantity,
		Location:          c.Location,
		Date:              c.TransactionDate,
		TransactionNumber: c.TransactionNumber,
	}
	seenBins := map[string]bool{}
	for _, a := range c.InventoryDetail {
		e := PayloadEntry{
			Number:   a.LotOrSerialNumber,
			NumberID: deref(a.LotOrSerialID),
			Bin:      deref(a.Bin),
			BinID:    deref(a.BinID),
		}
		if a.IsSerial() {
			p.Serials = append(p.Serials, e)
		} else {
			e.Quantity = a.Quantity
			p.Lots = append(p.Lots, e)
		}
		if e.Bin != "" && !seenBins[e.Bin] {
			seenBins[e.Bin] = true
			p.Bins = append(p.Bins, e.Bin)
		}
	}
	return p
}

type wireRef struct {
	ID   flexString `json:"id"`
	Name string     `json:"name,omitempty"`
}

type wireEntry struct {
	Num   flexString  `json:"num"`
	NumID flexString  `json:"numId,omitempty"`
	Qty   json.Number `json:"qty,omitempty"`
	Bin   string      `json:"bin,omitempty"`
	BinID flexString  `json:"binId,omitempty"`
}

type wireV2 struct {
	Type          string          `json:"type"`
	Schema        int             `json:"schema"`
	CompletionID  flexString      `json:"completionId"`
	SourceOrderID flexString      `json:"sourceOrderId,omitempty"`
	Item          wireRef         `json:"item"`
	Quantity      json.RawMessage `json:"quantity"`
	Location      wireRef         `json:"location"`
	Date          string          `json:"date,omitempty"`
	TranNum       string          `json:"tranNum,omitempty"`
	Lots          []wireEntry     `json:"lots,omitempty"`
	Serials       []wireEntry     `json:"serials,omitempty"`
	Bins          []string        `json:"bins,omitempty"`
}

type wireV1Compact struct {
	Type     string          `json:"type"`
	ID       flexString      `json:"id"`
	WO       flexString      `json:"wo"`
	Item     flexString      `json:"item"`
	ItemName string          `json:"itemName"`
	Qty      json.RawMessage `json:"qty"`
	Loc      flexString      `json:"loc"`
	LocName  string          `json:"locName"`
	Date     string          `json:"date"`
	TranNum  string          `json:"tranNum"`
	Lots     []wireEntry     `json:"lots"`
	Serials  []wireEntry     `json:"serials"`
	Bins     []string        `json:"bins"`
}

type wireV1FlatEntry struct {
	LotNumber     flexString  `json:"lotNumber"`
	LotInternalID flexString  `json:"lotInternalId"`
	Qty           json.Number `json:"qty"`
	Bin           string      `json:"bin"`
	BinID         flexString  `json:"binId"`
}

type wireV1Flat struct {
	Type            string            `json:"type"`
	CompletionID    flexString        `json:"completionId"`
	SourceOrderID   flexString        `json:"sourceOrderId"`
	ItemID          flexString        `json:"itemId"`
	ItemName        string            `json:"itemName"`
	Quantity        json.RawMessage   `json:"quantity"`
	LocationID      flexString        `json:"locationId"`
	LocationName    string            `json:"locationName"`
	Date            string            `json:"date"`
	TranNum         string            `json:"tranNum"`
	InventoryDetail []wireV1FlatEntry `json:"inventoryDetail"`
}

// Marshal renders the payload as compact v2 JSON, the text placed in the QR code.
func Marshal(p Payload) (string, error) {
	w := wireV2{
		Type:          PayloadType,
		Schema:        SchemaVersion,
		CompletionID:  flexString(p.CompletionID),
		SourceOrderID: flexString(p.SourceOrderID),
		Item:          wireRef{ID: flexString(p.Item.ID), Name: p.Item.Name},
		Quantity:      json.RawMessage(p.Quantity.String()),
		Location:      wireRef{ID: flexString(p.Location.ID), Name: p.Location.Name},
		Date:          p.Date,
		TranNum:       p.TransactionNumber,
		Bins:          p.Bins,
	}
	for _, l := range p.Lots {
		e := toWireEntry(l)
		e.Qty = json.Number(l.Quantity.String())
		w.Lots = append(w.Lots, e)
	}
	for _, s := range p.Serials {
		w.Serials = append(w.Serials, toWireEntry(s))
	}
	b, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("marshal payload %s: %w", p.CompletionID, err)
	}
	return string(b), nil
}

// MarshalBase64 returns the payload text base64 encoded, safe to embed in HTML.
func MarshalBase64(p Payload) (string, error) {
	s, err := Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString([]byte(s)), nil
}

func toWireEntry(e PayloadEntry) wireEntry {
	return wireEntry{
		Num:   flexString(e.Number),
		NumID: flexString(e.NumberID),
		Bin:   e.Bin,
		BinID: flexString(e.BinID),
	}
}

// Decode parses scanned text into a payload. Validation runs in a fixed
// order (type, schema, completion id, item, quantity) and stops at the first failure.
func Decode(raw string) (Payload, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Payload{}, ErrEmptyInput
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return Payload{}, &DecodeError{Kind: MalformedPayload, Detail: err.Error()}
	}
	if fields == nil {
		return Payload{}, &DecodeError{Kind: MalformedPayload, Detail: "payload is not an object"}
	}

	var typ string
	if err := json.Unmarshal(fields["type"], &typ); err != nil || typ != PayloadType {
		return Payload{}, ErrWrongType
	}

	var p Payload
	var qtyRaw json.RawMessage
	var err error
	switch {
	case fields["schema"] != nil:
		var v int
		if json.Unmarshal(fields["schema"], &v) != nil || v != SchemaVersion {
			return Payload{}, &DecodeError{Kind: UnsupportedSchema, Detail: string(fields["schema"])}
		}
		p, qtyRaw, err = decodeV2(raw)
	case fields["id"] != nil || isScalar(fields["item"]):
		p, qtyRaw, err = decodeV1Compact(raw)
	default:
		p, qtyRaw, err = decodeV1Flat(raw)
	}
	if err != nil {
		return Payload{}, &DecodeError{Kind: MalformedPayload, Detail: err.Error()}
	}

	if strings.TrimSpace(p.CompletionID) == "" {
		return Payload{}, ErrMissingIdentifier
	}
	if strings.TrimSpace(p.Item.ID) == "" {
		return Payload{}, ErrMissingItem
	}
	qty, ok := parseQuantity(qtyRaw)
	if !ok {
		return Payload{}, &DecodeError{Kind: InvalidQuantity, Detail: string(qtyRaw)}
	}
	p.Quantity = qty
	p.Type = PayloadType
	return p, nil
}

func decodeV2(raw string) (Payload, json.RawMessage, error) {
	var w wireV2
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return Payload{}, nil, err
	}
	p := Payload{
		Schema:            SchemaVersion,
		CompletionID:      string(w.CompletionID),
		SourceOrderID:     string(w.SourceOrderID),
		Item:              models.Ref{ID: string(w.Item.ID), Name: w.Item.Name},
		Location:          models.Ref{ID: string(w.Location.ID), Name: w.Location.Name},
		Date:              w.Date,
		TransactionNumber: w.TranNum,
		Bins:              w.Bins,
		DecodedFrom:       SchemaV2,
	}
	var err error
	if p.Lots, err = fromWireLots(w.Lots); err != nil {
		return Payload{}, nil, err
	}
	p.Serials = fromWireSerials(w.Serials)
	return p, w.Quantity, nil
}

func decodeV1Compact(raw string) (Payload, json.RawMessage, error) {
	var w wireV1Compact
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return Payload{}, nil, err
	}
	p := Payload{
		Schema:            1,
		CompletionID:      string(w.ID),
		SourceOrderID:     string(w.WO),
		Item:              models.Ref{ID: string(w.Item), Name: w.ItemName},
		Location:          models.Ref{ID: string(w.Loc), Name: w.LocName},
		Date:              w.Date,
		TransactionNumber: w.TranNum,
		Bins:              w.Bins,
		DecodedFrom:       SchemaV1Compact,
	}
	var err error
	if p.Lots, err = fromWireLots(w.Lots); err != nil {
		return Payload{}, nil, err
	}
	p.Serials = fromWireSerials(w.Serials)
	return p, w.Qty, nil
}

func decodeV1Flat(raw string) (Payload, json.RawMessage, error) {
	var w wireV1Flat
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return Payload{}, nil, err
	}
	p := Payload{
		Schema:            1,
		CompletionID:      string(w.CompletionID),
		SourceOrderID:     string(w.SourceOrderID),
		Item:              models.Ref{ID: string(w.ItemID), Name: w.ItemName},
		Location:          models.Ref{ID: string(w.LocationID), Name: w.LocationName},
		Date:              w.Date,
		TransactionNumber: w.TranNum,
		DecodedFrom:       SchemaV1Flat,
	}
	for _, d := range w.InventoryDetail {
		qty, err := entryQuantity(d.Qty)
		if err != nil {
			return Payload{}, nil, err
		}
		e := PayloadEntry{
			Number:   string(d.LotNumber),
			NumberID: string(d.LotInternalID),
			Quantity: qty,
			Bin:      d.Bin,
			BinID:    string(d.BinID),
		}
		// This shape has no lot/serial split; fall back to the quantity rule.
		if qty.Equal(decimal.NewFromInt(1)) {
			e.NumberID = serialID(e)
			e.Quantity = decimal.Zero
			p.Serials = append(p.Serials, e)
		} else {
			p.Lots = append(p.Lots, e)
		}
	}
	return p, w.Quantity, nil
}

func fromWireLots(in []wireEntry) ([]PayloadEntry, error) {
	var out []PayloadEntry
	for _, w := range in {
		qty, err := entryQuantity(w.Qty)
		if err != nil {
			return nil, err
		}
		out = append(out, PayloadEntry{
			Number:   string(w.Num),
			NumberID: string(w.NumID),
			Quantity: qty,
			Bin:      w.Bin,
			BinID:    string(w.BinID),
		})
	}
	return out, nil
}

func fromWireSerials(in []wireEntry) []PayloadEntry {
	var out []PayloadEntry
	for _, w := range in {
		e := PayloadEntry{
			Number: string(w.Num),
			Bin:    w.Bin,
			BinID:  string(w.BinID),
		}
		e.NumberID = serialID(PayloadEntry{Number: e.Number, NumberID: string(w.NumID)})
		out = append(out, e)
	}
	return out
}

// serialID drops a serial's internal id when it is not numeric or merely
// repeats the serial text; such ids were captured from display values and
// must be looked up again.
func serialID(e PayloadEntry) string {
	if e.NumberID == "" || e.NumberID == e.Number {
		return ""
	}
	if _, err := strconv.ParseFloat(e.NumberID, 64); err != nil {
		return ""
	}
	return e.NumberID
}

func entryQuantity(n json.Number) (decimal.Decimal, error) {
	if n == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(string(n))
	if err != nil {
		return decimal.Zero, fmt.Errorf("entry quantity %q: %w", n, err)
	}
	return d, nil
}

// parseQuantity accepts only a JSON number strictly greater than zero.
func parseQuantity(raw json.RawMessage) (decimal.Decimal, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] == '"' || bytes.Equal(raw, []byte("null")) {
		return decimal.Zero, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(string(n))
	if err != nil || !d.IsPositive() {
		return decimal.Zero, false
	}
	return d, true
}

func isScalar(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] != '{' && !bytes.Equal(raw, []byte("null"))
}

// flexString accepts a JSON string or number; ids from the host platform
// arrive as either.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*f = flexString(n.String())
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
