package fulfillment

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"qrtrace/internal/audit"
	"qrtrace/internal/response"
	"qrtrace/internal/traceability"
	"qrtrace/internal/websocket"
)

// ProcessFulfillment handles POST /api/v1/fulfillments/process. The body is
// a submission request; the response is the bare submission result.
func (h *Handler) ProcessFulfillment(w http.ResponseWriter, r *http.Request) {
	var req traceability.SubmitRequest
	if err := response.DecodeBody(r, &req); err != nil {
		writeSubmitResult(w, traceability.SubmitResult{Error: "invalid body", Code: "INVALID_REQUEST"}, traceability.ErrInvalidRequest)
		return
	}
	result, err := h.process(r, req)
	writeSubmitResult(w, result, err)
}

// process runs the reconciler and, on success, records the audit trail and
// broadcasts the consumed completions.
func (h *Handler) process(r *http.Request, req traceability.SubmitRequest) (traceability.SubmitResult, error) {
	req.TargetDocumentType = h.documentType(req.TargetDocumentType)
	station := audit.GetUsername(r)

	result, err := h.Reconciler.Process(r.Context(), req)
	if err != nil {
		_, result.Code = response.Classify(err)
		logger.WithFields(logrus.Fields{
			"station":  station,
			"document": req.DownstreamID,
			"order":    req.SourceOrderID,
			"code":     result.Code,
		}).Warnf("reconciliation failed: %v", err)
		return result, err
	}

	audit.LogScanTrail(h.DB, station, result.SavedDocumentID, result.Matched)
	for _, id := range result.Matched {
		h.Hub.BroadcastChange(websocket.EventCompletionScanned, id, map[string]string{"document": result.SavedDocumentID})
	}
	h.Hub.BroadcastChange(websocket.EventDocumentReconciled, result.SavedDocumentID, map[string]any{
		"completions": result.Matched,
		"skipped":     len(result.Skipped),
	})
	return result, nil
}

func writeSubmitResult(w http.ResponseWriter, result traceability.SubmitResult, err error) {
	status := http.StatusOK
	if err != nil {
		status, _ = response.Classify(err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(result)
}
