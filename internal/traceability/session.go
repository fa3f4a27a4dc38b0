package traceability

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sirupsen/logrus"

	"qrtrace/internal/models"
)

// SessionState is where a scan session is in its lifecycle.
type SessionState string

const (
	StateEmpty        SessionState = "empty"
	StateAccumulating SessionState = "accumulating"
	StateSubmitted    SessionState = "submitted"
)

// OutcomeKind classifies the result of one scan.
type OutcomeKind string

const (
	OutcomeScanned          OutcomeKind = "scanned"
	OutcomeInvalid          OutcomeKind = "invalid"
	OutcomeDuplicate        OutcomeKind = "duplicate"
	OutcomeAlreadyFulfilled OutcomeKind = "already_fulfilled"
	OutcomeItemNotFound     OutcomeKind = "item_not_found"
	OutcomeFailed           OutcomeKind = "failed"
)

// ScanOutcome is reported to the operator after every scan. Only
// OutcomeScanned changes session state.
type ScanOutcome struct {
	Kind               OutcomeKind `json:"kind"`
	CompletionID       string      `json:"completionId,omitempty"`
	LinkedDownstreamID string      `json:"linkedDownstreamId,omitempty"`
	ItemName           string      `json:"itemName,omitempty"`
	LineIndex          int         `json:"lineIndex"`
	Reason             string      `json:"reason,omitempty"`
	Message            string      `json:"message"`
	Payload            *Payload    `json:"-"`
}

// Target names the document a session is building.
type Target struct {
	DownstreamID  string `json:"downstreamId,omitempty"`
	SourceOrderID string `json:"sourceOrderId,omitempty"`
	DocumentType  string `json:"documentType"`
}

// Session accumulates scans for one document edit session. It is owned by a
// single caller and is not safe for concurrent use.
type Session struct {
	ID     string
	target Target
	doc    *models.DownstreamDocument
	status StatusChecker

	state    SessionState
	scanned  map[string]bool
	order    []string
	payloads []Payload
}

// NewSession starts an empty session matching scans against doc.
func NewSession(id string, target Target, doc *models.DownstreamDocument, status StatusChecker) *Session {
	return &Session{
		ID:      id,
		target:  target,
		doc:     doc,
		status:  status,
		state:   StateEmpty,
		scanned: map[string]bool{},
	}
}

// Rehydrate restores completion ids persisted on the document by an earlier
// edit session. Their payloads are not restored.
func (s *Session) Rehydrate(refs []string) {
	for _, id := range refs {
		id = strings.TrimSpace(id)
		if id == "" || s.scanned[id] {
			continue
		}
		s.scanned[id] = true
		s.order = append(s.order, id)
	}
	if len(s.order) > 0 && s.state == StateEmpty {
		s.state = StateAccumulating
	}
}

// SetDocument replaces the document snapshot scans are matched against.
func (s *Session) SetDocument(doc *models.DownstreamDocument) { s.doc = doc }

// State returns the current state.
func (s *Session) State() SessionState { return s.state }

// Target returns the document the session is building.
func (s *Session) Target() Target { return s.target }

// CompletionIDs returns scanned completion ids in scan order.
func (s *Session) CompletionIDs() []string { return append([]string(nil), s.order...) }

// Payloads returns the payloads accepted in this session, in scan order.
func (s *Session) Payloads() []Payload { return append([]Payload(nil), s.payloads...) }

// OnScan processes one scanned text.
func (s *Session) OnScan(ctx context.Context, raw string) ScanOutcome {
	if s.state == StateSubmitted {
		return withMessage(ScanOutcome{Kind: OutcomeFailed, LineIndex: -1, Reason: ErrSessionClosed.Error()})
	}

	p, err := Decode(raw)
	if err != nil {
		return withMessage(ScanOutcome{Kind: OutcomeInvalid, LineIndex: -1, Reason: err.Error()})
	}
	out := ScanOutcome{CompletionID: p.CompletionID, ItemName: itemLabel(p.Item), LineIndex: -1}

	if s.scanned[p.CompletionID] {
		out.Kind = OutcomeDuplicate
		return withMessage(out)
	}

	st, err := s.status.GetStatus(ctx, p.CompletionID)
	if err != nil {
		logger.WithFields(logrus.Fields{"session": s.ID, "completion": p.CompletionID}).Warnf("status lookup failed: %v", err)
		out.Kind = OutcomeFailed
		out.Reason = err.Error()
		return withMessage(out)
	}
	if st.Scanned {
		out.Kind = OutcomeAlreadyFulfilled
		out.LinkedDownstreamID = st.LinkedDownstreamID
		return withMessage(out)
	}

	idx, err := FindLineForPayload(s.doc, p)
	if err != nil {
		out.Kind = OutcomeItemNotFound
		out.Reason = err.Error()
		return withMessage(out)
	}

	s.scanned[p.CompletionID] = true
	s.order = append(s.order, p.CompletionID)
	s.payloads = append(s.payloads, p)
	s.state = StateAccumulating

	out.Kind = OutcomeScanned
	out.LineIndex = idx
	out.Payload = &p
	return withMessage(out)
}

// Submit hands the accumulated batch over for server-side reconciliation.
func (s *Session) Submit() (SubmitRequest, error) {
	if s.state == StateSubmitted {
		return SubmitRequest{}, ErrSessionClosed
	}
	if len(s.order) == 0 {
		return SubmitRequest{}, ErrNothingToSubmit
	}
	s.state = StateSubmitted
	return SubmitRequest{
		DownstreamID:       s.target.DownstreamID,
		SourceOrderID:      s.target.SourceOrderID,
		CompletionIDs:      s.CompletionIDs(),
		TargetDocumentType: s.target.DocumentType,
	}, nil
}

// Reset clears the session so it can be reused.
func (s *Session) Reset() {
	s.scanned = map[string]bool{}
	s.order = nil
	s.payloads = nil
	s.state = StateEmpty
}

// Refs returns the scanned ids serialized for the document's refs field.
func (s *Session) Refs() string { return MarshalRefs(s.order) }

// Message returns the operator text for a scan outcome.
func Message(o ScanOutcome) string { return withMessage(o).Message }

// MarshalRefs serializes completion ids for the document's refs field.
func MarshalRefs(ids []string) string {
	if len(ids) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(ids)
	return string(b)
}

// ParseRefs reads a refs field written as a JSON array, a single JSON value
// or a comma-separated list. Blank entries are dropped.
func ParseRefs(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var list []flexString
	if err := json.Unmarshal([]byte(raw), &list); err == nil {
		return cleanRefs(list)
	}
	var one flexString
	if err := json.Unmarshal([]byte(raw), &one); err == nil {
		return cleanRefs([]flexString{one})
	}
	var parts []flexString
	for _, p := range strings.Split(raw, ",") {
		parts = append(parts, flexString(p))
	}
	return cleanRefs(parts)
}

func cleanRefs(in []flexString) []string {
	var out []string
	for _, r := range in {
		if s := strings.TrimSpace(string(r)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func itemLabel(r models.Ref) string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

func withMessage(o ScanOutcome) ScanOutcome {
	switch o.Kind {
	case OutcomeScanned:
		o.Message = `Item "` + o.ItemName + `" matched. Inventory details will be applied when the batch is processed.`
	case OutcomeInvalid:
		o.Message = "Invalid QR code: " + o.Reason
	case OutcomeDuplicate:
		o.Message = "This completion has already been scanned for this fulfillment"
	case OutcomeAlreadyFulfilled:
		o.Message = "This completion has already been fulfilled (Fulfillment #" + o.LinkedDownstreamID + ")"
	case OutcomeItemNotFound:
		o.Message = `Item "` + o.ItemName + `" is not on this fulfillment`
	default:
		o.Message = "Error processing scan: " + o.Reason
	}
	return o
}
