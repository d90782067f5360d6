package idempotency

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketResponses = []byte("responses")

	// ErrNotFound is returned when no cached response exists for a key.
	ErrNotFound = errors.New("idempotency: record not found")
)

// Record caches one mutating response so a retried request replays instead of
// re-executing.
type Record struct {
	StatusCode int       `json:"statusCode"`
	Body       []byte    `json:"body"`
	StoredAt   time.Time `json:"storedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Store persists idempotency records in a BoltDB file.
type Store struct {
	db  *bolt.DB
	ttl time.Duration
}

// NewStore opens (and migrates) the BoltDB-backed store.
func NewStore(path string, ttl time.Duration) (*Store, error) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketResponses)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, ttl: ttl}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the cached response for a key. Expired records are treated as
// missing and removed.
func (s *Store) Get(key string) (Record, error) {
	key = strings.TrimSpace(key)
	if s == nil || s.db == nil || key == "" {
		return Record{}, ErrNotFound
	}
	var rec Record
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketResponses)
		raw := bucket.Get([]byte(key))
		if raw == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		if time.Now().After(rec.ExpiresAt) {
			if err := bucket.Delete([]byte(key)); err != nil {
				return err
			}
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Put caches a response under the key for the store's TTL.
func (s *Store) Put(key string, statusCode int, body []byte) error {
	key = strings.TrimSpace(key)
	if s == nil || s.db == nil || key == "" {
		return nil
	}
	now := time.Now()
	rec := Record{
		StatusCode: statusCode,
		Body:       body,
		StoredAt:   now,
		ExpiresAt:  now.Add(s.ttl),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketResponses).Put([]byte(key), raw)
	})
}
