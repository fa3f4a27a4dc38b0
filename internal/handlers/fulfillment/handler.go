// Package fulfillment serves the completion, document, scan session and
// reconciliation endpoints.
package fulfillment

import (
	"database/sql"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"qrtrace/internal/store"
	"qrtrace/internal/traceability"
	"qrtrace/internal/websocket"
)

var logger = logrus.StandardLogger().WithField("package", "fulfillment")

// Handler holds dependencies for fulfillment handlers.
type Handler struct {
	DB                  *sql.DB
	Hub                 *websocket.Hub
	Store               *store.Store
	Reconciler          *traceability.Reconciler
	Sessions            *SessionRegistry
	DefaultDocumentType string
}

func (h *Handler) documentType(t string) string {
	if t != "" {
		return t
	}
	if h.DefaultDocumentType != "" {
		return h.DefaultDocumentType
	}
	return "fulfillment"
}

func queryInt(r *http.Request, key string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && v >= 0 {
		return v
	}
	return def
}
