package fulfillment

import (
	"encoding/json"
	"net/http"

	"qrtrace/internal/audit"
	"qrtrace/internal/response"
	"qrtrace/internal/traceability"
	"qrtrace/internal/validation"
	"qrtrace/internal/websocket"
)

// CreateDocumentRequest transforms a source order into a new document.
type CreateDocumentRequest struct {
	SourceOrderID string `json:"source_order_id"`
	Type          string `json:"type"`
}

// ScanRefsRequest replaces a document's persisted scan refs. Refs may be a
// JSON array or a comma-separated string.
type ScanRefsRequest struct {
	Refs json.RawMessage `json:"refs"`
}

// GetDocument handles GET /api/v1/documents/:id.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request, id string) {
	doc, err := h.Store.LoadDocument(r.Context(), r.URL.Query().Get("type"), id)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.JSON(w, doc)
}

// CreateDocument handles POST /api/v1/documents.
func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var req CreateDocumentRequest
	if err := response.DecodeBody(r, &req); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}
	req.Type = h.documentType(req.Type)
	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "source_order_id", req.SourceOrderID)
	validation.ValidateEnum(ve, "type", req.Type, validation.ValidDocumentTypes)
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}

	doc, err := h.Store.CreateFromOrder(r.Context(), req.SourceOrderID, req.Type)
	if err != nil {
		response.FromError(w, err)
		return
	}
	audit.LogAudit(h.DB, nil, audit.GetUsername(r), audit.ActionCreate, audit.ModuleDocument, doc.ID,
		"Created "+doc.Type+" "+doc.ID+" from "+req.SourceOrderID)
	h.Hub.BroadcastChange(websocket.EventDocumentCreated, doc.ID, map[string]string{"type": doc.Type})
	response.JSONStatus(w, doc, http.StatusCreated)
}

// UpdateScanRefs handles PUT /api/v1/documents/:id/scan-refs.
func (h *Handler) UpdateScanRefs(w http.ResponseWriter, r *http.Request, id string) {
	var req ScanRefsRequest
	if err := response.DecodeBody(r, &req); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}
	refs := refsFromRaw(req.Refs)
	if err := h.Store.UpdateScanRefs(r.Context(), id, refs); err != nil {
		response.FromError(w, err)
		return
	}
	if refs == nil {
		refs = []string{}
	}
	response.JSON(w, map[string]any{"id": id, "scan_refs": refs})
}

func refsFromRaw(raw json.RawMessage) []string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return traceability.ParseRefs(text)
	}
	return traceability.ParseRefs(string(raw))
}
