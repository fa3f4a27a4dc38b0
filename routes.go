package main

import (
	"net/http"
	"strings"
	"time"

	"qrtrace/internal/auth"
	"qrtrace/internal/handlers/fulfillment"
	"qrtrace/internal/response"
	"qrtrace/internal/server"
	"qrtrace/internal/websocket"
)

func newRouter(app *server.App) http.Handler {
	h := &fulfillment.Handler{
		DB:                  app.DB,
		Hub:                 app.Hub,
		Store:               app.Store,
		Reconciler:          app.Reconciler(),
		Sessions:            fulfillment.NewSessionRegistry(app.Config.ScanSessionTTL),
		DefaultDocumentType: app.Config.DefaultDocumentType,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		websocket.HandleWebSocket(app.Hub, w, r)
	})

	// API routes - using a simple router
	mux.HandleFunc("/api/v1/", func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/v1/")
		path = strings.TrimSuffix(path, "/")
		parts := strings.Split(path, "/")

		switch {
		case path == "health" && r.Method == "GET":
			response.JSON(w, map[string]any{"status": "ok", "clients": app.Hub.ClientCount()})

		// Completions
		case path == "completions" && r.Method == "GET":
			h.ListCompletions(w, r)
		case path == "completions" && r.Method == "POST":
			h.CreateCompletion(w, r)
		case path == "completions/export" && r.Method == "GET":
			h.ExportCompletions(w, r)
		case parts[0] == "completions" && len(parts) == 2 && r.Method == "GET":
			h.GetCompletion(w, r, parts[1])
		case parts[0] == "completions" && len(parts) == 2 && r.Method == "PUT":
			h.UpdateCompletion(w, r, parts[1])
		case parts[0] == "completions" && len(parts) == 3 && parts[2] == "payload" && r.Method == "GET":
			h.GetPayload(w, r, parts[1])
		case parts[0] == "completions" && len(parts) == 3 && parts[2] == "status" && r.Method == "GET":
			h.GetStatus(w, r, parts[1])

		// Source orders and the lot/serial index
		case path == "source-orders" && r.Method == "POST":
			h.CreateSourceOrder(w, r)
		case parts[0] == "source-orders" && len(parts) == 2 && r.Method == "GET":
			h.GetSourceOrder(w, r, parts[1])
		case path == "inventory-numbers" && r.Method == "GET":
			h.ListInventoryNumbers(w, r)
		case path == "inventory-numbers" && r.Method == "POST":
			h.UpsertInventoryNumber(w, r)

		// Downstream documents
		case path == "documents" && r.Method == "POST":
			h.CreateDocument(w, r)
		case parts[0] == "documents" && len(parts) == 2 && r.Method == "GET":
			h.GetDocument(w, r, parts[1])
		case parts[0] == "documents" && len(parts) == 3 && parts[2] == "scan-refs" && r.Method == "PUT":
			h.UpdateScanRefs(w, r, parts[1])

		// Scan sessions
		case path == "scan-sessions" && r.Method == "POST":
			h.CreateScanSession(w, r)
		case parts[0] == "scan-sessions" && len(parts) == 2 && r.Method == "GET":
			h.GetScanSession(w, r, parts[1])
		case parts[0] == "scan-sessions" && len(parts) == 2 && r.Method == "DELETE":
			h.ResetScanSession(w, r, parts[1])
		case parts[0] == "scan-sessions" && len(parts) == 3 && parts[2] == "scans" && r.Method == "POST":
			h.Scan(w, r, parts[1])
		case parts[0] == "scan-sessions" && len(parts) == 3 && parts[2] == "submit" && r.Method == "POST":
			h.SubmitScanSession(w, r, parts[1])

		// Reconciliation
		case path == "fulfillments/process" && r.Method == "POST":
			h.ProcessFulfillment(w, r)

		// Audit
		case path == "audit" && r.Method == "GET":
			h.ListAudit(w, r)

		default:
			response.ErrCode(w, "not found", "NOT_FOUND", http.StatusNotFound)
		}
	})

	return server.Chain(mux,
		server.LoggingMiddleware,
		server.SecurityHeaders,
		server.RequireStationKey(func(key string) (string, error) {
			return auth.ValidateStationKey(app.DB, key)
		}, app.Config.RequireStationKey),
		server.RateLimitMiddleware(server.NewRateLimiter(600, time.Minute)),
		server.GzipMiddleware,
	)
}
