package fulfillment

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"qrtrace/internal/audit"
	"qrtrace/internal/models"
	"qrtrace/internal/response"
	"qrtrace/internal/traceability"
	"qrtrace/internal/websocket"
)

type sessionEntry struct {
	mu      sync.Mutex
	sess    *traceability.Session
	doc     *models.DownstreamDocument
	station string
	touched time.Time
}

// SessionRegistry holds server-side scan sessions for browser clients.
// Sessions idle longer than the TTL are dropped.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry
	ttl      time.Duration
	now      func() time.Time
}

// NewSessionRegistry creates a registry. A zero ttl keeps sessions forever.
func NewSessionRegistry(ttl time.Duration) *SessionRegistry {
	return &SessionRegistry{sessions: map[string]*sessionEntry{}, ttl: ttl, now: time.Now}
}

func (reg *SessionRegistry) add(e *sessionEntry) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.sweep()
	e.touched = reg.now()
	reg.sessions[e.sess.ID] = e
}

// get returns the entry locked. The caller must unlock it.
func (reg *SessionRegistry) get(id string) (*sessionEntry, bool) {
	reg.mu.Lock()
	reg.sweep()
	e, ok := reg.sessions[id]
	if ok {
		e.touched = reg.now()
	}
	reg.mu.Unlock()
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	return e, true
}

// Len returns the number of live sessions.
func (reg *SessionRegistry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.sweep()
	return len(reg.sessions)
}

func (reg *SessionRegistry) sweep() {
	if reg.ttl <= 0 {
		return
	}
	cutoff := reg.now().Add(-reg.ttl)
	for id, e := range reg.sessions {
		if e.touched.Before(cutoff) {
			delete(reg.sessions, id)
			logger.WithField("session", id).Debug("scan session expired")
		}
	}
}

// CreateSessionRequest opens a scan session against an existing document or
// against a new document transformed from a source order.
type CreateSessionRequest struct {
	DownstreamID  string `json:"downstreamId"`
	SourceOrderID string `json:"sourceOrderId"`
	DocumentType  string `json:"documentType"`
}

// ScanRequest carries one scanned text.
type ScanRequest struct {
	Text string `json:"text"`
}

// SessionView is the JSON form of a scan session.
type SessionView struct {
	ID            string                     `json:"id"`
	Station       string                     `json:"station"`
	State         traceability.SessionState  `json:"state"`
	Target        traceability.Target        `json:"target"`
	CompletionIDs []string                   `json:"completionIds"`
	Document      *models.DownstreamDocument `json:"document,omitempty"`
}

// ScanResponse is the outcome of one scan plus the session after it.
type ScanResponse struct {
	Outcome traceability.ScanOutcome `json:"outcome"`
	Session SessionView              `json:"session"`
}

// SubmitResponse is the outcome of submitting a session.
type SubmitResponse struct {
	Result  traceability.SubmitResult `json:"result"`
	Session SessionView               `json:"session"`
}

func (e *sessionEntry) view(withDoc bool) SessionView {
	v := SessionView{
		ID:            e.sess.ID,
		Station:       e.station,
		State:         e.sess.State(),
		Target:        e.sess.Target(),
		CompletionIDs: e.sess.CompletionIDs(),
	}
	if v.CompletionIDs == nil {
		v.CompletionIDs = []string{}
	}
	if withDoc {
		v.Document = e.doc
	}
	return v
}

// CreateScanSession handles POST /api/v1/scan-sessions.
func (h *Handler) CreateScanSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := response.DecodeBody(r, &req); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}
	target := traceability.Target{
		DownstreamID:  req.DownstreamID,
		SourceOrderID: req.SourceOrderID,
		DocumentType:  h.documentType(req.DocumentType),
	}

	var doc *models.DownstreamDocument
	var err error
	switch {
	case target.DownstreamID != "":
		doc, err = h.Store.LoadDocument(r.Context(), target.DocumentType, target.DownstreamID)
	case target.SourceOrderID != "":
		doc, err = h.Store.TransformFromOrder(r.Context(), target.SourceOrderID, target.DocumentType)
	default:
		response.ErrCode(w, "downstreamId or sourceOrderId is required", "INVALID_REQUEST", 400)
		return
	}
	if err != nil {
		response.FromError(w, err)
		return
	}

	e := &sessionEntry{
		sess:    traceability.NewSession(uuid.NewString(), target, doc, h.Store),
		doc:     doc,
		station: audit.GetUsername(r),
	}
	e.sess.Rehydrate(doc.ScanRefs)
	h.Sessions.add(e)

	logger.WithFields(logrus.Fields{
		"session":  e.sess.ID,
		"document": target.DownstreamID,
		"order":    target.SourceOrderID,
		"resumed":  len(doc.ScanRefs),
	}).Info("scan session opened")
	response.JSONStatus(w, e.view(true), http.StatusCreated)
}

// GetScanSession handles GET /api/v1/scan-sessions/:id.
func (h *Handler) GetScanSession(w http.ResponseWriter, r *http.Request, id string) {
	e, ok := h.Sessions.get(id)
	if !ok {
		response.ErrCode(w, "scan session not found", "SESSION_NOT_FOUND", 404)
		return
	}
	defer e.mu.Unlock()
	response.JSON(w, e.view(true))
}

// Scan handles POST /api/v1/scan-sessions/:id/scans. Every outcome is a 200;
// the outcome kind tells the operator what happened.
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request, id string) {
	var req ScanRequest
	if err := response.DecodeBody(r, &req); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}
	e, ok := h.Sessions.get(id)
	if !ok {
		response.ErrCode(w, "scan session not found", "SESSION_NOT_FOUND", 404)
		return
	}
	defer e.mu.Unlock()

	out := e.sess.OnScan(r.Context(), req.Text)
	if out.Kind == traceability.OutcomeScanned {
		if target := e.sess.Target(); target.DownstreamID != "" {
			if err := h.Store.UpdateScanRefs(r.Context(), target.DownstreamID, e.sess.CompletionIDs()); err != nil {
				logger.WithField("session", id).Warnf("persist scan refs: %v", err)
			}
		}
	}
	h.Hub.BroadcastChange(websocket.EventSessionScan, id, map[string]any{
		"kind":       out.Kind,
		"completion": out.CompletionID,
	})
	response.JSON(w, ScanResponse{Outcome: out, Session: e.view(false)})
}

// SubmitScanSession handles POST /api/v1/scan-sessions/:id/submit. A failed
// reconciliation reopens the session with the same scans so the operator can
// fix the problem and resubmit.
func (h *Handler) SubmitScanSession(w http.ResponseWriter, r *http.Request, id string) {
	e, ok := h.Sessions.get(id)
	if !ok {
		response.ErrCode(w, "scan session not found", "SESSION_NOT_FOUND", 404)
		return
	}
	defer e.mu.Unlock()

	req, err := e.sess.Submit()
	if err != nil {
		response.FromError(w, err)
		return
	}
	result, err := h.process(r, req)
	if err != nil {
		e.sess.Reset()
		e.sess.Rehydrate(req.CompletionIDs)
		status, _ := response.Classify(err)
		response.JSONStatus(w, SubmitResponse{Result: result, Session: e.view(false)}, status)
		return
	}

	h.Hub.BroadcastChange(websocket.EventSessionSubmitted, id, map[string]string{"document": result.SavedDocumentID})
	response.JSON(w, SubmitResponse{Result: result, Session: e.view(false)})
}

// ResetScanSession handles DELETE /api/v1/scan-sessions/:id. The session is
// emptied and any refs persisted on its document are cleared.
func (h *Handler) ResetScanSession(w http.ResponseWriter, r *http.Request, id string) {
	e, ok := h.Sessions.get(id)
	if !ok {
		response.ErrCode(w, "scan session not found", "SESSION_NOT_FOUND", 404)
		return
	}
	defer e.mu.Unlock()

	e.sess.Reset()
	if target := e.sess.Target(); target.DownstreamID != "" {
		if err := h.Store.UpdateScanRefs(r.Context(), target.DownstreamID, nil); err != nil {
			response.FromError(w, err)
			return
		}
		doc, err := h.Store.LoadDocument(r.Context(), target.DocumentType, target.DownstreamID)
		if err != nil {
			response.FromError(w, err)
			return
		}
		e.doc = doc
		e.sess.SetDocument(doc)
	}
	h.Hub.BroadcastChange(websocket.EventSessionReset, id, nil)
	response.JSON(w, e.view(false))
}
