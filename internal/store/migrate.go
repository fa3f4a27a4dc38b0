package store

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// Open opens the SQLite database at path with WAL, a busy timeout and
// foreign keys enabled, then runs migrations.
func Open(path string) (*sql.DB, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", path+sep+"_journal_mode=WAL&_busy_timeout=10000&_foreign_keys=1")
	if err != nil {
		return nil, err
	}

	// One writer, several readers under WAL.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=30000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate creates every table and index the service uses. It is idempotent.
func Migrate(db *sql.DB) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS completions (
			id TEXT PRIMARY KEY,
			source_order_id TEXT DEFAULT '',
			item_id TEXT NOT NULL, item_name TEXT DEFAULT '',
			quantity TEXT NOT NULL,
			location_id TEXT DEFAULT '', location_name TEXT DEFAULT '',
			transaction_date TEXT DEFAULT '', transaction_number TEXT DEFAULT '',
			scanned INTEGER NOT NULL DEFAULT 0 CHECK(scanned IN (0,1)),
			linked_downstream_id TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS completion_inventory_detail (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			completion_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			number TEXT NOT NULL, number_id TEXT,
			bin TEXT, bin_id TEXT,
			quantity TEXT NOT NULL,
			kind TEXT DEFAULT '' CHECK(kind IN ('','lot','serial')),
			FOREIGN KEY (completion_id) REFERENCES completions(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS source_orders (
			id TEXT PRIMARY KEY,
			customer TEXT DEFAULT '',
			status TEXT DEFAULT 'open',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS source_order_lines (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id TEXT NOT NULL,
			item_id TEXT NOT NULL, item_name TEXT DEFAULT '',
			location_id TEXT DEFAULT '', location_name TEXT DEFAULT '',
			quantity TEXT NOT NULL,
			FOREIGN KEY (order_id) REFERENCES source_orders(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS downstream_documents (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			source_order_id TEXT DEFAULT '',
			status TEXT DEFAULT 'pending',
			scan_refs TEXT DEFAULT '[]',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS document_lines (
			document_id TEXT NOT NULL,
			line_index INTEGER NOT NULL,
			item_id TEXT NOT NULL, item_name TEXT DEFAULT '',
			location_id TEXT DEFAULT '', location_name TEXT DEFAULT '',
			quantity TEXT NOT NULL,
			fulfilled INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (document_id, line_index),
			FOREIGN KEY (document_id) REFERENCES downstream_documents(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS line_assignments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			document_id TEXT NOT NULL,
			line_index INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			internal_id TEXT NOT NULL, number TEXT DEFAULT '',
			quantity TEXT NOT NULL,
			bin_id TEXT DEFAULT '', bin TEXT DEFAULT '',
			FOREIGN KEY (document_id, line_index) REFERENCES document_lines(document_id, line_index) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS inventory_numbers (
			id TEXT PRIMARY KEY,
			number TEXT NOT NULL,
			item_id TEXT NOT NULL,
			location_id TEXT DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT DEFAULT 'system',
			action TEXT NOT NULL,
			module TEXT NOT NULL,
			record_id TEXT NOT NULL,
			summary TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS station_keys (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			key_hash TEXT NOT NULL,
			key_prefix TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			last_used DATETIME,
			enabled INTEGER DEFAULT 1
		)`,
	}
	for _, t := range tables {
		if _, err := db.Exec(t); err != nil {
			return fmt.Errorf("migration: %w\nSQL: %s", err, t)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_completions_source_order ON completions(source_order_id)",
		"CREATE INDEX IF NOT EXISTS idx_completions_scanned ON completions(scanned)",
		"CREATE INDEX IF NOT EXISTS idx_completion_detail_completion ON completion_inventory_detail(completion_id, seq)",
		"CREATE INDEX IF NOT EXISTS idx_source_order_lines_order ON source_order_lines(order_id)",
		"CREATE INDEX IF NOT EXISTS idx_downstream_documents_order ON downstream_documents(source_order_id)",
		"CREATE INDEX IF NOT EXISTS idx_line_assignments_line ON line_assignments(document_id, line_index, seq)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_inventory_numbers_lookup ON inventory_numbers(item_id, number, location_id)",
		"CREATE INDEX IF NOT EXISTS idx_audit_log_module_record ON audit_log(module, record_id)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_station_keys_prefix ON station_keys(key_prefix)",
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("index creation: %w\nSQL: %s", err, idx)
		}
	}
	return nil
}
