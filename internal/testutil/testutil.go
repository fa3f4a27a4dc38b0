package testutil

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"qrtrace/internal/models"
	"qrtrace/internal/store"
)

// StationKey is the plaintext key seeded by SetupTestDB.
const StationKey = "qrs_teststation0123456789abcdef"

// SetupTestDB creates an in-memory SQLite database with foreign keys enabled,
// every table migrated and one enabled station key.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	testDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test DB: %v", err)
	}
	// Each connection to :memory: is its own database.
	testDB.SetMaxOpenConns(1)

	if _, err := testDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}
	if err := store.Migrate(testDB); err != nil {
		t.Fatalf("Failed to migrate test DB: %v", err)
	}
	seedStationKey(t, testDB, "test-station", StationKey)

	t.Cleanup(func() { testDB.Close() })
	return testDB
}

func seedStationKey(t *testing.T, db *sql.DB, name, key string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to hash station key: %v", err)
	}
	_, err = db.Exec("INSERT INTO station_keys (name, key_hash, key_prefix) VALUES (?, ?, ?)",
		name, string(hash), key[:12])
	if err != nil {
		t.Fatalf("Failed to create station key: %v", err)
	}
}

// SeedOrder creates a source order whose lines carry the given items, all at
// location L1 with quantity 5.
func SeedOrder(t *testing.T, s *store.Store, id string, itemIDs ...string) *models.SourceOrder {
	t.Helper()
	o := &models.SourceOrder{ID: id, Customer: "ACME"}
	for _, item := range itemIDs {
		o.Lines = append(o.Lines, models.SourceOrderLine{
			Item:     models.Ref{ID: item, Name: "Item " + item},
			Location: models.Ref{ID: "L1", Name: "Main"},
			Quantity: decimal.NewFromInt(5),
		})
	}
	if err := s.CreateSourceOrder(context.Background(), o); err != nil {
		t.Fatalf("Failed to seed order: %v", err)
	}
	return o
}

// SeedDocument transforms a seeded order into a saved document.
func SeedDocument(t *testing.T, s *store.Store, orderID, docType string) *models.DownstreamDocument {
	t.Helper()
	doc, err := s.CreateFromOrder(context.Background(), orderID, docType)
	if err != nil {
		t.Fatalf("Failed to seed document: %v", err)
	}
	return doc
}

// SeedCompletion creates a completion of qty units of itemID at L1 with a
// single lot entry.
func SeedCompletion(t *testing.T, s *store.Store, id, itemID, lot string, qty int64) *models.CompletionRecord {
	t.Helper()
	c := &models.CompletionRecord{
		ID:                id,
		SourceOrderID:     "WO-1",
		Item:              models.Ref{ID: itemID, Name: "Item " + itemID},
		Quantity:          decimal.NewFromInt(qty),
		Location:          models.Ref{ID: "L1", Name: "Main"},
		TransactionDate:   "2024-03-01",
		TransactionNumber: "WOC-" + id,
	}
	if lot != "" {
		c.InventoryDetail = []models.InventoryAssignment{
			{LotOrSerialNumber: lot, Quantity: decimal.NewFromInt(qty), Kind: models.KindLot},
		}
	}
	if err := s.CreateCompletion(context.Background(), c); err != nil {
		t.Fatalf("Failed to seed completion: %v", err)
	}
	return c
}

// SeedInventoryNumber adds a lot/serial to the index at L1.
func SeedInventoryNumber(t *testing.T, s *store.Store, id, number, itemID string) {
	t.Helper()
	err := s.UpsertInventoryNumber(context.Background(), models.InventoryNumber{
		ID: id, Number: number, ItemID: itemID, LocationID: "L1",
	})
	if err != nil {
		t.Fatalf("Failed to seed inventory number: %v", err)
	}
}

// AuthedRequest creates an HTTP request carrying the station key as a bearer token.
func AuthedRequest(method, path string, body []byte, key string) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	return req
}

// AuthedJSONRequest creates an authenticated HTTP request with JSON content type.
func AuthedJSONRequest(method, path string, body interface{}, key string) *http.Request {
	var bodyBytes []byte
	if body != nil {
		bodyBytes, _ = json.Marshal(body)
	}
	req := AuthedRequest(method, path, bodyBytes, key)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// DecodeAPIResponse decodes an APIResponse from a ResponseRecorder.
func DecodeAPIResponse(t *testing.T, w *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var response models.APIResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode API response: %v", err)
	}
	return response
}

// AssertStatus checks that the HTTP status code matches expected.
func AssertStatus(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if w.Code != expected {
		t.Errorf("Expected status %d, got %d. Body: %s", expected, w.Code, w.Body.String())
	}
}

// DecodeEnvelope decodes the data field of the response envelope into v.
func DecodeEnvelope(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&env); err != nil {
		t.Fatalf("Failed to decode envelope: %v", err)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("Failed to decode data: %v (%s)", err, env.Data)
	}
}
