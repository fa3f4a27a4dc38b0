package server

import (
	"database/sql"

	"qrtrace/internal/config"
	"qrtrace/internal/store"
	"qrtrace/internal/traceability"
	"qrtrace/internal/websocket"
)

// App holds shared dependencies for the application.
type App struct {
	DB     *sql.DB
	Hub    *websocket.Hub
	Store  *store.Store
	Locker traceability.Locker
	Config config.Config
}

// NewApp wires a store over db. locker may be nil for single-writer setups.
func NewApp(db *sql.DB, hub *websocket.Hub, locker traceability.Locker, cfg config.Config) *App {
	return &App{DB: db, Hub: hub, Store: store.New(db), Locker: locker, Config: cfg}
}

// Reconciler returns a reconciler backed by the app's store.
func (a *App) Reconciler() *traceability.Reconciler {
	return &traceability.Reconciler{
		Documents:   a.Store,
		Completions: a.Store,
		Status:      a.Store,
		Lots:        a.Store,
		Committer:   a.Store,
		Locker:      a.Locker,
	}
}
