package fulfillment

import (
	"fmt"
	"net/http"

	"qrtrace/internal/audit"
	"qrtrace/internal/models"
	"qrtrace/internal/response"
	"qrtrace/internal/validation"
)

// CreateSourceOrder handles POST /api/v1/source-orders.
func (h *Handler) CreateSourceOrder(w http.ResponseWriter, r *http.Request) {
	var o models.SourceOrder
	if err := response.DecodeBody(r, &o); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}
	if ve := validation.ValidateSourceOrder(o); ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}
	if err := h.Store.CreateSourceOrder(r.Context(), &o); err != nil {
		response.FromError(w, err)
		return
	}
	audit.LogAudit(h.DB, nil, audit.GetUsername(r), audit.ActionCreate, audit.ModuleOrder, o.ID,
		fmt.Sprintf("Created source order %s with %d line(s)", o.ID, len(o.Lines)))
	response.JSONStatus(w, o, http.StatusCreated)
}

// GetSourceOrder handles GET /api/v1/source-orders/:id.
func (h *Handler) GetSourceOrder(w http.ResponseWriter, r *http.Request, id string) {
	o, err := h.Store.GetSourceOrder(r.Context(), id)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.JSON(w, o)
}

// UpsertInventoryNumber handles POST /api/v1/inventory-numbers.
func (h *Handler) UpsertInventoryNumber(w http.ResponseWriter, r *http.Request) {
	var n models.InventoryNumber
	if err := response.DecodeBody(r, &n); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}
	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "id", n.ID)
	validation.RequireField(ve, "number", n.Number)
	validation.RequireField(ve, "item_id", n.ItemID)
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}
	if err := h.Store.UpsertInventoryNumber(r.Context(), n); err != nil {
		response.FromError(w, err)
		return
	}
	response.JSON(w, n)
}

// ListInventoryNumbers handles GET /api/v1/inventory-numbers?item_id=.
func (h *Handler) ListInventoryNumbers(w http.ResponseWriter, r *http.Request) {
	itemID := r.URL.Query().Get("item_id")
	if itemID == "" {
		response.Err(w, "item_id is required", 400)
		return
	}
	items, err := h.Store.ListInventoryNumbers(r.Context(), itemID)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.JSON(w, items)
}

// ListAudit handles GET /api/v1/audit?module=&record_id=.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := audit.List(h.DB, r.URL.Query().Get("module"), r.URL.Query().Get("record_id"), queryInt(r, "limit", 100))
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.JSON(w, entries)
}
