package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"secure-room/crypto/ecdhp256"
	"secure-room/store/migrations"
)

var (
	ErrKeyNotFound = errors.New("no keypair stored for device")
)

// SQLiteKeyStore persists one identity keypair per device id.
type SQLiteKeyStore struct {
	db *sql.DB
}

func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}

// OpenSQLite opens (creating if needed) the database at dsn and migrates it.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteKeyStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open key store: %w", err)
	}

	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate key store: %w", err)
	}

	return &SQLiteKeyStore{db: db}, nil
}

func (s *SQLiteKeyStore) LoadKeyPair(ctx context.Context, deviceID string) (*ecdhp256.Pair, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT private_jwk FROM device_keys WHERE device_id = ?`, deviceID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query keypair: %w", err)
	}

	var jwk ecdhp256.JWK
	if err := json.Unmarshal([]byte(raw), &jwk); err != nil {
		return nil, fmt.Errorf("failed to decode stored keypair: %w", err)
	}
	return jwk.Pair()
}

// SaveKeyPair stores pair unless the device already has one; the first write wins.
func (s *SQLiteKeyStore) SaveKeyPair(ctx context.Context, deviceID string, pair *ecdhp256.Pair) error {
	data, err := json.Marshal(pair.PrivateJWK())
	if err != nil {
		return fmt.Errorf("failed to encode keypair: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO device_keys (device_id, private_jwk) VALUES (?, ?) ON CONFLICT(device_id) DO NOTHING`,
		deviceID, string(data))
	if err != nil {
		return fmt.Errorf("failed to store keypair: %w", err)
	}
	return nil
}

func (s *SQLiteKeyStore) Close() error {
	return s.db.Close()
}

// MemoryKeyStore is a process-local key store.
type MemoryKeyStore struct {
	mu    sync.Mutex
	pairs map[string]*ecdhp256.Pair
}

func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{pairs: make(map[string]*ecdhp256.Pair)}
}

func (s *MemoryKeyStore) LoadKeyPair(_ context.Context, deviceID string) (*ecdhp256.Pair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pair, ok := s.pairs[deviceID]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return pair, nil
}

func (s *MemoryKeyStore) SaveKeyPair(_ context.Context, deviceID string, pair *ecdhp256.Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pairs[deviceID]; !ok {
		s.pairs[deviceID] = pair
	}
	return nil
}
