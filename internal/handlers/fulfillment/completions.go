package fulfillment

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/xuri/excelize/v2"

	"qrtrace/internal/audit"
	"qrtrace/internal/models"
	"qrtrace/internal/response"
	"qrtrace/internal/store"
	"qrtrace/internal/traceability"
	"qrtrace/internal/validation"
	"qrtrace/internal/websocket"
)

// CompletionWithPayload is a completion plus the QR text generated for it.
type CompletionWithPayload struct {
	models.CompletionRecord
	Payload string `json:"payload"`
}

// PayloadResponse is the QR text of one completion.
type PayloadResponse struct {
	CompletionID string `json:"completion_id"`
	Payload      string `json:"payload"`
	Base64       string `json:"base64"`
	Schema       int    `json:"schema"`
}

func withPayload(c *models.CompletionRecord) (CompletionWithPayload, error) {
	text, err := traceability.Marshal(traceability.Encode(*c))
	if err != nil {
		return CompletionWithPayload{}, err
	}
	return CompletionWithPayload{CompletionRecord: *c, Payload: text}, nil
}

// ListCompletions handles GET /api/v1/completions.
func (h *Handler) ListCompletions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.CompletionFilter{
		SourceOrderID: q.Get("source_order_id"),
		ItemID:        q.Get("item_id"),
		Limit:         queryInt(r, "limit", 100),
		Offset:        queryInt(r, "offset", 0),
	}
	if v := q.Get("scanned"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			response.Err(w, "scanned must be true or false", 400)
			return
		}
		f.Scanned = &b
	}
	items, err := h.Store.ListCompletions(r.Context(), f)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.JSONMeta(w, items, len(items), f.Offset/max(f.Limit, 1)+1, f.Limit)
}

// GetCompletion handles GET /api/v1/completions/:id.
func (h *Handler) GetCompletion(w http.ResponseWriter, r *http.Request, id string) {
	c, err := h.Store.GetCompletion(r.Context(), id)
	if err != nil {
		response.FromError(w, err)
		return
	}
	out, err := withPayload(c)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.JSON(w, out)
}

// CreateCompletion handles POST /api/v1/completions.
func (h *Handler) CreateCompletion(w http.ResponseWriter, r *http.Request) {
	var c models.CompletionRecord
	if err := response.DecodeBody(r, &c); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}
	if ve := validation.ValidateCompletion(c); ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}
	if err := h.Store.CreateCompletion(r.Context(), &c); err != nil {
		response.FromError(w, err)
		return
	}
	out, err := withPayload(&c)
	if err != nil {
		response.FromError(w, err)
		return
	}

	audit.LogAudit(h.DB, nil, audit.GetUsername(r), audit.ActionCreate, audit.ModuleCompletion, c.ID,
		fmt.Sprintf("Created completion %s: %s x %s", c.ID, c.Item.ID, c.Quantity))
	h.Hub.BroadcastChange(websocket.EventCompletionCreated, c.ID, nil)
	response.JSONStatus(w, out, http.StatusCreated)
}

// UpdateCompletion handles PUT /api/v1/completions/:id. The payload is
// regenerated from the stored record.
func (h *Handler) UpdateCompletion(w http.ResponseWriter, r *http.Request, id string) {
	var c models.CompletionRecord
	if err := response.DecodeBody(r, &c); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}
	c.ID = id
	if ve := validation.ValidateCompletion(c); ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}
	if err := h.Store.UpdateCompletion(r.Context(), &c); err != nil {
		response.FromError(w, err)
		return
	}
	stored, err := h.Store.GetCompletion(r.Context(), id)
	if err != nil {
		response.FromError(w, err)
		return
	}
	out, err := withPayload(stored)
	if err != nil {
		response.FromError(w, err)
		return
	}

	audit.LogAudit(h.DB, nil, audit.GetUsername(r), audit.ActionUpdate, audit.ModuleCompletion, id,
		"Updated completion "+id)
	h.Hub.BroadcastChange(websocket.EventCompletionUpdated, id, nil)
	response.JSON(w, out)
}

// GetPayload handles GET /api/v1/completions/:id/payload. With ?format=text
// the raw QR text is returned.
func (h *Handler) GetPayload(w http.ResponseWriter, r *http.Request, id string) {
	c, err := h.Store.GetCompletion(r.Context(), id)
	if err != nil {
		response.FromError(w, err)
		return
	}
	p := traceability.Encode(*c)
	text, err := traceability.Marshal(p)
	if err != nil {
		response.FromError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(text))
		return
	}
	b64, err := traceability.MarshalBase64(p)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.JSON(w, PayloadResponse{CompletionID: id, Payload: text, Base64: b64, Schema: traceability.SchemaVersion})
}

// GetStatus handles GET /api/v1/completions/:id/status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request, id string) {
	st, err := h.Store.GetStatus(r.Context(), id)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.JSON(w, st)
}

// ExportCompletions handles GET /api/v1/completions/export as an XLSX workbook.
func (h *Handler) ExportCompletions(w http.ResponseWriter, r *http.Request) {
	f := store.CompletionFilter{SourceOrderID: r.URL.Query().Get("source_order_id")}
	items, err := h.Store.ListCompletions(r.Context(), f)
	if err != nil {
		response.FromError(w, err)
		return
	}

	headers := []string{"Completion", "Source Order", "Item", "Item Name", "Quantity", "Location",
		"Date", "Lots/Serials", "Scanned", "Linked Document"}
	var data [][]string
	for _, c := range items {
		numbers := ""
		for i, a := range c.InventoryDetail {
			if i > 0 {
				numbers += ", "
			}
			numbers += a.LotOrSerialNumber + " (" + a.Quantity.String() + ")"
		}
		linked := ""
		if c.LinkedDownstreamID != nil {
			linked = *c.LinkedDownstreamID
		}
		data = append(data, []string{c.ID, c.SourceOrderID, c.Item.ID, c.Item.Name, c.Quantity.String(),
			c.Location.ID, c.TransactionDate, numbers, strconv.FormatBool(c.Scanned), linked})
	}

	audit.LogAudit(h.DB, nil, audit.GetUsername(r), audit.ActionExport, audit.ModuleCompletion, "",
		fmt.Sprintf("Exported %d completions", len(data)))
	writeExcel(w, "Traceability", "traceability.xlsx", headers, data)
}

func writeExcel(w http.ResponseWriter, sheetName, filename string, headers []string, data [][]string) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		response.Err(w, "Failed to create Excel sheet", 500)
		return
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#D3D3D3"}, Pattern: 1},
	})
	if err != nil {
		response.Err(w, "Failed to create header style", 500)
		return
	}

	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheetName, cell, header)
		f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}
	for rowIdx, row := range data {
		for colIdx, value := range row {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			f.SetCellValue(sheetName, cell, value)
		}
	}
	last, _ := excelize.ColumnNumberToName(len(headers))
	f.SetColWidth(sheetName, "A", last, 16)
	f.DeleteSheet("Sheet1")

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	if err := f.Write(w); err != nil {
		logger.Errorf("write xlsx: %v", err)
	}
}
