package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"qrtrace/internal/lock"
	"qrtrace/internal/models"
	"qrtrace/internal/store"
	"qrtrace/internal/traceability"
)

// JSON writes a successful API response with the given data.
func JSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.APIResponse{Data: data})
}

// JSONStatus writes a successful API response with a non-200 status.
func JSONStatus(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.APIResponse{Data: data})
}

// JSONMeta writes a successful API response with pagination metadata.
func JSONMeta(w http.ResponseWriter, data interface{}, total, page, limit int) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.APIResponse{
		Data: data,
		Meta: &models.Meta{Total: total, Page: page, Limit: limit},
	})
}

// Err writes a JSON error response with the given message and HTTP status code.
func Err(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// ErrCode writes a JSON error response carrying a machine-readable code.
func ErrCode(w http.ResponseWriter, msg, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": code})
}

// FromError maps a domain error to its status and code and writes it.
func FromError(w http.ResponseWriter, err error) {
	status, code := Classify(err)
	ErrCode(w, traceability.OperatorMessage(err), code, status)
}

// Classify returns the HTTP status and error code for err.
func Classify(err error) (int, string) {
	var decode *traceability.DecodeError
	switch {
	case errors.As(err, &decode):
		return http.StatusBadRequest, string(decode.Kind)
	case errors.Is(err, traceability.ErrInvalidRequest):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, traceability.ErrCompletionNotFound):
		return http.StatusNotFound, "COMPLETION_NOT_FOUND"
	case errors.Is(err, traceability.ErrDocumentNotFound):
		return http.StatusNotFound, "DOCUMENT_NOT_FOUND"
	case errors.Is(err, store.ErrSourceOrderNotFound):
		return http.StatusNotFound, "SOURCE_ORDER_NOT_FOUND"
	case errors.Is(err, traceability.ErrAlreadyScanned):
		return http.StatusConflict, "ALREADY_SCANNED"
	case errors.Is(err, store.ErrCompletionLocked):
		return http.StatusConflict, "COMPLETION_LOCKED"
	case errors.Is(err, store.ErrCompletionExists):
		return http.StatusConflict, "COMPLETION_EXISTS"
	case errors.Is(err, lock.ErrBusy):
		return http.StatusConflict, "DOCUMENT_BUSY"
	case errors.Is(err, traceability.ErrLineNotFound):
		return http.StatusUnprocessableEntity, "ITEM_NOT_FOUND"
	case errors.Is(err, traceability.ErrLotNotFound):
		return http.StatusUnprocessableEntity, "LOT_NOT_FOUND"
	case errors.Is(err, traceability.ErrQuantityExceeded):
		return http.StatusUnprocessableEntity, "QUANTITY_EXCEEDED"
	case errors.Is(err, traceability.ErrNoLinesMatched):
		return http.StatusUnprocessableEntity, "NO_LINES_MATCHED"
	case errors.Is(err, traceability.ErrNothingToSubmit):
		return http.StatusUnprocessableEntity, "NOTHING_TO_SUBMIT"
	case errors.Is(err, traceability.ErrSessionClosed):
		return http.StatusConflict, "SESSION_CLOSED"
	}
	return http.StatusInternalServerError, "INTERNAL"
}

// DecodeBody decodes a JSON request body into the given value.
func DecodeBody(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}
