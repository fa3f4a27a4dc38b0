package auth

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"qrtrace/internal/models"
)

// KeyPrefix marks every scanner-station key.
const KeyPrefix = "qrs_"

// lookupLen is how many leading characters of a key are stored in clear for lookup.
const lookupLen = 12

var (
	ErrInvalidKey = errors.New("invalid or disabled station key")
	ErrKeyExists  = errors.New("station key collision, retry")
	ErrNoSuchKey  = errors.New("station key not found")
)

// GenerateStationKey returns a new random key in the form qrs_<32 hex>.
func GenerateStationKey() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate station key: %w", err)
	}
	return KeyPrefix + hex.EncodeToString(b), nil
}

// CreateStationKey stores a new key for the named station and returns the
// plaintext, which is never retrievable again.
func CreateStationKey(db *sql.DB, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("station name is required")
	}
	key, err := GenerateStationKey()
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash station key: %w", err)
	}
	_, err = db.Exec("INSERT INTO station_keys (name, key_hash, key_prefix) VALUES (?, ?, ?)",
		name, string(hash), key[:lookupLen])
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return "", ErrKeyExists
		}
		return "", fmt.Errorf("store station key: %w", err)
	}
	return key, nil
}

// ValidateStationKey checks a presented key and returns the station name.
// last_used is refreshed on success.
func ValidateStationKey(db *sql.DB, key string) (string, error) {
	if !strings.HasPrefix(key, KeyPrefix) || len(key) < lookupLen {
		return "", ErrInvalidKey
	}
	var id int
	var name, hash string
	var enabled int
	err := db.QueryRow("SELECT id, name, key_hash, enabled FROM station_keys WHERE key_prefix = ?",
		key[:lookupLen]).Scan(&id, &name, &hash, &enabled)
	if err != nil || enabled == 0 {
		return "", ErrInvalidKey
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) != nil {
		return "", ErrInvalidKey
	}
	db.Exec("UPDATE station_keys SET last_used = ? WHERE id = ?", time.Now().UTC().Format("2006-01-02 15:04:05"), id)
	return name, nil
}

// ListStationKeys returns all keys without their secrets.
func ListStationKeys(db *sql.DB) ([]models.StationKey, error) {
	rows, err := db.Query("SELECT id, name, key_prefix, COALESCE(created_at,''), last_used, enabled FROM station_keys ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	keys := []models.StationKey{}
	for rows.Next() {
		var k models.StationKey
		var lastUsed sql.NullString
		var enabled int
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyPrefix, &k.CreatedAt, &lastUsed, &enabled); err != nil {
			return nil, err
		}
		if lastUsed.Valid {
			k.LastUsed = &lastUsed.String
		}
		k.Enabled = enabled == 1
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// SetStationKeyEnabled enables or revokes a key.
func SetStationKeyEnabled(db *sql.DB, id int, enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	res, err := db.Exec("UPDATE station_keys SET enabled = ? WHERE id = ?", v, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNoSuchKey
	}
	return nil
}
