package fulfillment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"qrtrace/internal/audit"
	"qrtrace/internal/lock"
	"qrtrace/internal/models"
	"qrtrace/internal/store"
	"qrtrace/internal/testutil"
	"qrtrace/internal/traceability"
	"qrtrace/internal/websocket"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	db := testutil.SetupTestDB(t)
	s := store.New(db)
	return &Handler{
		DB:    db,
		Hub:   websocket.NewHub(),
		Store: s,
		Reconciler: &traceability.Reconciler{
			Documents:   s,
			Completions: s,
			Status:      s,
			Lots:        s,
			Committer:   s,
			Locker:      lock.NewLocalLocker(),
		},
		Sessions:            NewSessionRegistry(time.Hour),
		DefaultDocumentType: "fulfillment",
	}
}

// seedFulfillment creates order SO-1 with one I1 line, its fulfillment and a
// scannable completion C1 whose lot is indexed.
func seedFulfillment(t *testing.T, h *Handler) (*models.DownstreamDocument, *models.CompletionRecord) {
	t.Helper()
	testutil.SeedOrder(t, h.Store, "SO-1", "I1")
	doc := testutil.SeedDocument(t, h.Store, "SO-1", "fulfillment")
	c := testutil.SeedCompletion(t, h.Store, "C1", "I1", "LOT-A", 5)
	testutil.SeedInventoryNumber(t, h.Store, "N1", "LOT-A", "I1")
	return doc, c
}

func qrText(t *testing.T, c *models.CompletionRecord) string {
	t.Helper()
	text, err := traceability.Marshal(traceability.Encode(*c))
	require.NoError(t, err)
	return text
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	code, _ := body["code"].(string)
	return code
}

func TestCreateCompletionReturnsPayload(t *testing.T) {
	h := newTestHandler(t)

	body := map[string]any{
		"item":             map[string]string{"id": "I1", "name": "Widget"},
		"quantity":         "3",
		"location":         map[string]string{"id": "L1"},
		"transaction_date": "2024-03-01",
		"inventory_detail": []map[string]any{
			{"lot_or_serial_number": "LOT-A", "quantity": "3", "kind": "lot"},
		},
	}
	w := httptest.NewRecorder()
	h.CreateCompletion(w, testutil.AuthedJSONRequest("POST", "/api/v1/completions", body, ""))
	testutil.AssertStatus(t, w, http.StatusCreated)

	var out CompletionWithPayload
	testutil.DecodeEnvelope(t, w, &out)
	assert.Regexp(t, `^WOC-\d{4}-0001$`, out.ID)

	p, err := traceability.Decode(out.Payload)
	require.NoError(t, err)
	assert.Equal(t, out.ID, p.CompletionID)
	assert.Equal(t, "Widget", p.Item.Name)
	require.Len(t, p.Lots, 1)
	assert.Equal(t, "LOT-A", p.Lots[0].Number)

	entries, err := audit.List(h.DB, audit.ModuleCompletion, out.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionCreate, entries[0].Action)
}

func TestCreateCompletionValidation(t *testing.T) {
	h := newTestHandler(t)
	tests := []struct {
		name string
		body any
	}{
		{"missing item", map[string]any{"quantity": "1"}},
		{"zero quantity", map[string]any{"item": map[string]string{"id": "I1"}, "quantity": "0"}},
		{"serial with two units", map[string]any{
			"item": map[string]string{"id": "I1"}, "quantity": "2",
			"inventory_detail": []map[string]any{{"lot_or_serial_number": "SN-1", "quantity": "2", "kind": "serial"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.CreateCompletion(w, testutil.AuthedJSONRequest("POST", "/api/v1/completions", tt.body, ""))
			testutil.AssertStatus(t, w, http.StatusBadRequest)
		})
	}
}

func TestCreateCompletionDuplicate(t *testing.T) {
	h := newTestHandler(t)
	testutil.SeedCompletion(t, h.Store, "C1", "I1", "LOT-A", 1)

	w := httptest.NewRecorder()
	h.CreateCompletion(w, testutil.AuthedJSONRequest("POST", "/api/v1/completions",
		map[string]any{"id": "C1", "item": map[string]string{"id": "I1"}, "quantity": "1"}, ""))
	testutil.AssertStatus(t, w, http.StatusConflict)
	assert.Equal(t, "COMPLETION_EXISTS", errorCode(t, w))
}

func TestUpdateCompletion(t *testing.T) {
	h := newTestHandler(t)
	testutil.SeedCompletion(t, h.Store, "C1", "I1", "LOT-A", 2)

	body := map[string]any{
		"item":     map[string]string{"id": "I1", "name": "Renamed"},
		"quantity": "4",
		"location": map[string]string{"id": "L1"},
	}
	w := httptest.NewRecorder()
	h.UpdateCompletion(w, testutil.AuthedJSONRequest("PUT", "/api/v1/completions/C1", body, ""), "C1")
	testutil.AssertStatus(t, w, http.StatusOK)

	var out CompletionWithPayload
	testutil.DecodeEnvelope(t, w, &out)
	p, err := traceability.Decode(out.Payload)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", p.Item.Name)
	assert.True(t, p.Quantity.Equal(decimal.NewFromInt(4)))

	require.NoError(t, h.Store.MarkScanned(context.Background(), "C1", "IF-1"))
	w = httptest.NewRecorder()
	h.UpdateCompletion(w, testutil.AuthedJSONRequest("PUT", "/api/v1/completions/C1", body, ""), "C1")
	testutil.AssertStatus(t, w, http.StatusConflict)
	assert.Equal(t, "COMPLETION_LOCKED", errorCode(t, w))

	w = httptest.NewRecorder()
	h.UpdateCompletion(w, testutil.AuthedJSONRequest("PUT", "/api/v1/completions/NOPE", body, ""), "NOPE")
	testutil.AssertStatus(t, w, http.StatusNotFound)
}

func TestGetPayloadAndStatus(t *testing.T) {
	h := newTestHandler(t)
	c := testutil.SeedCompletion(t, h.Store, "C1", "I1", "LOT-A", 2)

	w := httptest.NewRecorder()
	h.GetPayload(w, httptest.NewRequest("GET", "/api/v1/completions/C1/payload", nil), "C1")
	testutil.AssertStatus(t, w, http.StatusOK)
	var pr PayloadResponse
	testutil.DecodeEnvelope(t, w, &pr)
	assert.Equal(t, qrText(t, c), pr.Payload)
	assert.NotEmpty(t, pr.Base64)
	assert.Equal(t, traceability.SchemaVersion, pr.Schema)

	w = httptest.NewRecorder()
	h.GetPayload(w, httptest.NewRequest("GET", "/api/v1/completions/C1/payload?format=text", nil), "C1")
	assert.Equal(t, qrText(t, c), w.Body.String())

	w = httptest.NewRecorder()
	h.GetStatus(w, httptest.NewRequest("GET", "/api/v1/completions/C1/status", nil), "C1")
	var st traceability.Status
	testutil.DecodeEnvelope(t, w, &st)
	assert.False(t, st.Scanned)

	w = httptest.NewRecorder()
	h.GetStatus(w, httptest.NewRequest("GET", "/api/v1/completions/X/status", nil), "X")
	testutil.AssertStatus(t, w, http.StatusNotFound)
	assert.Equal(t, "COMPLETION_NOT_FOUND", errorCode(t, w))
}

func TestListCompletionsFilter(t *testing.T) {
	h := newTestHandler(t)
	testutil.SeedCompletion(t, h.Store, "C1", "I1", "", 1)
	testutil.SeedCompletion(t, h.Store, "C2", "I2", "", 1)
	require.NoError(t, h.Store.MarkScanned(context.Background(), "C2", "IF-1"))

	w := httptest.NewRecorder()
	h.ListCompletions(w, httptest.NewRequest("GET", "/api/v1/completions?scanned=false", nil))
	var items []models.CompletionRecord
	testutil.DecodeEnvelope(t, w, &items)
	require.Len(t, items, 1)
	assert.Equal(t, "C1", items[0].ID)

	w = httptest.NewRecorder()
	h.ListCompletions(w, httptest.NewRequest("GET", "/api/v1/completions?scanned=maybe", nil))
	testutil.AssertStatus(t, w, http.StatusBadRequest)
}

func TestProcessFulfillment(t *testing.T) {
	h := newTestHandler(t)
	doc, _ := seedFulfillment(t, h)

	req := traceability.SubmitRequest{DownstreamID: doc.ID, CompletionIDs: []string{"C1"}}
	w := httptest.NewRecorder()
	h.ProcessFulfillment(w, testutil.AuthedJSONRequest("POST", "/api/v1/fulfillments/process", req, ""))
	testutil.AssertStatus(t, w, http.StatusOK)

	var res traceability.SubmitResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, doc.ID, res.SavedDocumentID)
	assert.Equal(t, []string{"C1"}, res.Matched)

	st, err := h.Store.GetStatus(context.Background(), "C1")
	require.NoError(t, err)
	assert.True(t, st.Scanned)
	assert.Equal(t, doc.ID, st.LinkedDownstreamID)

	saved, err := h.Store.LoadDocument(context.Background(), "fulfillment", doc.ID)
	require.NoError(t, err)
	require.Len(t, saved.Lines[0].InventoryAssignments, 1)
	assert.Equal(t, "N1", saved.Lines[0].InventoryAssignments[0].InternalID)

	trail, err := audit.List(h.DB, audit.ModuleCompletion, "C1", 10)
	require.NoError(t, err)
	require.NotEmpty(t, trail)
	assert.Equal(t, audit.ActionScan, trail[0].Action)

	// A second submission of the same completion is rejected outright.
	w = httptest.NewRecorder()
	h.ProcessFulfillment(w, testutil.AuthedJSONRequest("POST", "/api/v1/fulfillments/process", req, ""))
	testutil.AssertStatus(t, w, http.StatusConflict)
	res = traceability.SubmitResult{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.False(t, res.Success)
	assert.Equal(t, "ALREADY_SCANNED", res.Code)
	assert.Contains(t, res.Error, doc.ID)
}

func TestProcessFulfillmentErrors(t *testing.T) {
	h := newTestHandler(t)
	doc, _ := seedFulfillment(t, h)
	testutil.SeedCompletion(t, h.Store, "C2", "I1", "LOT-MISSING", 1)
	testutil.SeedCompletion(t, h.Store, "C3", "I9", "", 1)

	tests := []struct {
		name   string
		req    traceability.SubmitRequest
		status int
		code   string
	}{
		{"no completions", traceability.SubmitRequest{DownstreamID: doc.ID}, 400, "INVALID_REQUEST"},
		{"unknown document", traceability.SubmitRequest{DownstreamID: "IF-0000-0000", CompletionIDs: []string{"C1"}}, 404, "DOCUMENT_NOT_FOUND"},
		{"unknown completion", traceability.SubmitRequest{DownstreamID: doc.ID, CompletionIDs: []string{"NOPE"}}, 404, "COMPLETION_NOT_FOUND"},
		{"lot missing from index", traceability.SubmitRequest{DownstreamID: doc.ID, CompletionIDs: []string{"C2"}}, 422, "LOT_NOT_FOUND"},
		{"nothing matched", traceability.SubmitRequest{DownstreamID: doc.ID, CompletionIDs: []string{"C3"}}, 422, "NO_LINES_MATCHED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ProcessFulfillment(w, testutil.AuthedJSONRequest("POST", "/api/v1/fulfillments/process", tt.req, ""))
			testutil.AssertStatus(t, w, tt.status)
			var res traceability.SubmitResult
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
			assert.False(t, res.Success)
			assert.Equal(t, tt.code, res.Code)
			assert.NotEmpty(t, res.Error)
		})
	}

	st, err := h.Store.GetStatus(context.Background(), "C1")
	require.NoError(t, err)
	assert.False(t, st.Scanned, "failed batches leave completions unscanned")
}

func TestProcessFromSourceOrder(t *testing.T) {
	h := newTestHandler(t)
	testutil.SeedOrder(t, h.Store, "SO-9", "I1", "I2")
	testutil.SeedCompletion(t, h.Store, "C1", "I1", "LOT-A", 5)
	testutil.SeedInventoryNumber(t, h.Store, "N1", "LOT-A", "I1")

	req := traceability.SubmitRequest{SourceOrderID: "SO-9", CompletionIDs: []string{"C1"}, TargetDocumentType: "shipment"}
	w := httptest.NewRecorder()
	h.ProcessFulfillment(w, testutil.AuthedJSONRequest("POST", "/api/v1/fulfillments/process", req, ""))
	testutil.AssertStatus(t, w, http.StatusOK)

	var res traceability.SubmitResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Regexp(t, `^SHP-`, res.SavedDocumentID)

	doc, err := h.Store.LoadDocument(context.Background(), "shipment", res.SavedDocumentID)
	require.NoError(t, err)
	require.Len(t, doc.Lines, 2)
	assert.True(t, doc.Lines[0].Fulfilled)
	assert.False(t, doc.Lines[1].Fulfilled)
}

func TestDocumentEndpoints(t *testing.T) {
	h := newTestHandler(t)
	testutil.SeedOrder(t, h.Store, "SO-1", "I1")

	w := httptest.NewRecorder()
	h.CreateDocument(w, testutil.AuthedJSONRequest("POST", "/api/v1/documents", CreateDocumentRequest{SourceOrderID: "SO-1"}, ""))
	testutil.AssertStatus(t, w, http.StatusCreated)
	var doc models.DownstreamDocument
	testutil.DecodeEnvelope(t, w, &doc)
	assert.Equal(t, "fulfillment", doc.Type)

	w = httptest.NewRecorder()
	h.CreateDocument(w, testutil.AuthedJSONRequest("POST", "/api/v1/documents", CreateDocumentRequest{SourceOrderID: "SO-1", Type: "invoice"}, ""))
	testutil.AssertStatus(t, w, http.StatusBadRequest)

	w = httptest.NewRecorder()
	h.CreateDocument(w, testutil.AuthedJSONRequest("POST", "/api/v1/documents", CreateDocumentRequest{SourceOrderID: "SO-404"}, ""))
	testutil.AssertStatus(t, w, http.StatusNotFound)

	w = httptest.NewRecorder()
	h.UpdateScanRefs(w, testutil.AuthedJSONRequest("PUT", "/api/v1/documents/"+doc.ID+"/scan-refs",
		map[string]any{"refs": "C1, C2,"}, ""), doc.ID)
	testutil.AssertStatus(t, w, http.StatusOK)

	w = httptest.NewRecorder()
	h.GetDocument(w, httptest.NewRequest("GET", "/api/v1/documents/"+doc.ID, nil), doc.ID)
	var got models.DownstreamDocument
	testutil.DecodeEnvelope(t, w, &got)
	assert.Equal(t, []string{"C1", "C2"}, got.ScanRefs)

	w = httptest.NewRecorder()
	h.UpdateScanRefs(w, testutil.AuthedJSONRequest("PUT", "/api/v1/documents/"+doc.ID+"/scan-refs",
		map[string]any{"refs": []any{"C3", 4}}, ""), doc.ID)
	testutil.AssertStatus(t, w, http.StatusOK)
	loaded, err := h.Store.LoadDocument(context.Background(), "", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"C3", "4"}, loaded.ScanRefs)
}

func TestExportCompletions(t *testing.T) {
	h := newTestHandler(t)
	testutil.SeedCompletion(t, h.Store, "C1", "I1", "LOT-A", 2)
	require.NoError(t, h.Store.MarkScanned(context.Background(), "C1", "IF-7"))

	w := httptest.NewRecorder()
	h.ExportCompletions(w, httptest.NewRequest("GET", "/api/v1/completions/export", nil))
	testutil.AssertStatus(t, w, http.StatusOK)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "traceability.xlsx")

	f, err := excelize.OpenReader(w.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Traceability")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Completion", rows[0][0])
	assert.Equal(t, "C1", rows[1][0])
	assert.Equal(t, "LOT-A (2)", rows[1][7])
	assert.Equal(t, "true", rows[1][8])
	assert.Equal(t, "IF-7", rows[1][9])
}

func TestSourceOrderAndInventoryNumbers(t *testing.T) {
	h := newTestHandler(t)

	order := models.SourceOrder{Customer: "ACME", Lines: []models.SourceOrderLine{
		{Item: models.Ref{ID: "I1"}, Location: models.Ref{ID: "L1"}, Quantity: decimal.NewFromInt(2)},
	}}
	w := httptest.NewRecorder()
	h.CreateSourceOrder(w, testutil.AuthedJSONRequest("POST", "/api/v1/source-orders", order, ""))
	testutil.AssertStatus(t, w, http.StatusCreated)
	var created models.SourceOrder
	testutil.DecodeEnvelope(t, w, &created)
	require.NotEmpty(t, created.ID)

	w = httptest.NewRecorder()
	h.GetSourceOrder(w, httptest.NewRequest("GET", "/api/v1/source-orders/"+created.ID, nil), created.ID)
	testutil.AssertStatus(t, w, http.StatusOK)

	w = httptest.NewRecorder()
	h.UpsertInventoryNumber(w, testutil.AuthedJSONRequest("POST", "/api/v1/inventory-numbers",
		models.InventoryNumber{ID: "N1", Number: "LOT-A", ItemID: "I1"}, ""))
	testutil.AssertStatus(t, w, http.StatusOK)

	w = httptest.NewRecorder()
	h.UpsertInventoryNumber(w, testutil.AuthedJSONRequest("POST", "/api/v1/inventory-numbers",
		models.InventoryNumber{Number: "LOT-A"}, ""))
	testutil.AssertStatus(t, w, http.StatusBadRequest)

	w = httptest.NewRecorder()
	h.ListInventoryNumbers(w, httptest.NewRequest("GET", "/api/v1/inventory-numbers?item_id=I1", nil))
	var numbers []models.InventoryNumber
	testutil.DecodeEnvelope(t, w, &numbers)
	require.Len(t, numbers, 1)
	assert.Equal(t, "LOT-A", numbers[0].Number)
}
