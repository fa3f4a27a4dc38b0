package audit

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"qrtrace/internal/models"
	"qrtrace/internal/websocket"
)

var logger = logrus.StandardLogger().WithField("package", "audit")

// Action constants.
const (
	ActionCreate    = "CREATE"
	ActionUpdate    = "UPDATE"
	ActionScan      = "SCAN"
	ActionReconcile = "RECONCILE"
	ActionExport    = "EXPORT"
)

// Modules.
const (
	ModuleCompletion = "completion"
	ModuleDocument   = "document"
	ModuleOrder      = "source_order"
	ModuleStation    = "station_key"
)

type stationKey struct{}

// WithStation stores the authenticated station name on the context.
func WithStation(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, stationKey{}, name)
}

// GetUsername returns the station that made the request, or "system".
func GetUsername(r *http.Request) string {
	if name, ok := r.Context().Value(stationKey{}).(string); ok && name != "" {
		return name
	}
	return "system"
}

// LogAudit writes one audit row. Failures are logged, never returned. When
// hub is set the change is also broadcast.
func LogAudit(db *sql.DB, hub *websocket.Hub, username, action, module, recordID, summary string) {
	_, err := db.Exec("INSERT INTO audit_log (username, action, module, record_id, summary) VALUES (?, ?, ?, ?, ?)",
		username, action, module, recordID, summary)
	if err != nil {
		logger.WithFields(logrus.Fields{"module": module, "record": recordID}).Errorf("audit log error: %v", err)
	}
	if hub != nil {
		hub.Broadcast(websocket.Event{
			Type:   module + "_" + strings.ToLower(action),
			ID:     recordID,
			Action: action,
		})
	}
}

// LogScanTrail records the consumption of each completion by a document:
// one SCAN row per completion and one RECONCILE row for the document.
func LogScanTrail(db *sql.DB, username, documentID string, completionIDs []string) {
	for _, id := range completionIDs {
		LogAudit(db, nil, username, ActionScan, ModuleCompletion, id,
			fmt.Sprintf("Completion %s fulfilled by document %s", id, documentID))
	}
	LogAudit(db, nil, username, ActionReconcile, ModuleDocument, documentID,
		fmt.Sprintf("Reconciled %d completion(s): %s", len(completionIDs), strings.Join(completionIDs, ", ")))
}

// List returns audit rows, newest first, optionally filtered by module and record.
func List(db *sql.DB, module, recordID string, limit int) ([]models.AuditEntry, error) {
	query := "SELECT id, COALESCE(username,''), action, module, record_id, COALESCE(summary,''), created_at FROM audit_log WHERE 1=1"
	var args []any
	if module != "" {
		query += " AND module=?"
		args = append(args, module)
	}
	if recordID != "" {
		query += " AND record_id=?"
		args = append(args, recordID)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()
	entries := []models.AuditEntry{}
	for rows.Next() {
		var e models.AuditEntry
		var created sql.NullString
		if err := rows.Scan(&e.ID, &e.Username, &e.Action, &e.Module, &e.RecordID, &e.Summary, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = created.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetClientIP extracts the real client IP from the request (handles proxies).
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
