// Package store persists per-session analysis defaults.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kamilpajak/diffscope/pkg/models"
	bolt "go.etcd.io/bbolt"
)

// ErrNotFound is returned when a session has no saved defaults.
var ErrNotFound = errors.New("not found")

// Bucket names.
var (
	BucketSessions = []byte("sessions")
	BucketMeta     = []byte("meta")
)

const schemaVersion = "1"

// Store reads and writes session defaults.
type Store interface {
	Defaults(sessionKey string) (models.Settings, error)
	SaveDefaults(sessionKey string, s models.Settings) error
}

// BoltStore implements Store using bbolt.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{BucketSessions, BucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		meta := tx.Bucket(BucketMeta)
		if meta.Get([]byte("schema")) == nil {
			return meta.Put([]byte("schema"), []byte(schemaVersion))
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Defaults returns the saved settings for sessionKey.
func (s *BoltStore) Defaults(sessionKey string) (models.Settings, error) {
	var out models.Settings
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(BucketSessions).Get([]byte(sessionKey))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &out)
	})
	return out, err
}

// SaveDefaults replaces the saved settings for sessionKey.
func (s *BoltStore) SaveDefaults(sessionKey string, settings models.Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(BucketSessions).Put([]byte(sessionKey), data)
	})
}

// SchemaVersion reads the schema marker from the meta bucket.
func (s *BoltStore) SchemaVersion() (string, error) {
	var v string
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(BucketMeta).Get([]byte("schema"))
		if data == nil {
			return ErrNotFound
		}
		v = string(data)
		return nil
	})
	return v, err
}

// MemoryStore implements Store in memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]models.Settings
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]models.Settings)}
}

func (m *MemoryStore) Defaults(sessionKey string) (models.Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionKey]
	if !ok {
		return models.Settings{}, ErrNotFound
	}
	s.Documents = append([]string(nil), s.Documents...)
	s.APIKey = ""
	return s, nil
}

func (m *MemoryStore) SaveDefaults(sessionKey string, s models.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.Documents = append([]string(nil), s.Documents...)
	s.APIKey = ""
	m.sessions[sessionKey] = s
	return nil
}
