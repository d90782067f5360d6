package idempotency

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "idempotency.db"), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPutAndGet(t *testing.T) {
	store := newStore(t, time.Hour)
	require.NoError(t, store.Put("key-1", 200, []byte(`{"ok":true}`)))

	rec, err := store.Get("key-1")
	require.NoError(t, err)
	require.Equal(t, 200, rec.StatusCode)
	require.JSONEq(t, `{"ok":true}`, string(rec.Body))
}

func TestMissingKey(t *testing.T) {
	store := newStore(t, time.Hour)
	_, err := store.Get("absent")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestExpiredRecordEvicted(t *testing.T) {
	store := newStore(t, time.Millisecond)
	require.NoError(t, store.Put("key-1", 200, []byte("x")))
	time.Sleep(5 * time.Millisecond)
	_, err := store.Get("key-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestBlankKeyIgnored(t *testing.T) {
	store := newStore(t, time.Hour)
	require.NoError(t, store.Put("  ", 200, []byte("x")))
	_, err := store.Get("  ")
	require.ErrorIs(t, err, ErrNotFound)
}
