package state

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"sagemarket/core/types"
	"sagemarket/storage"
)

var (
	accountPrefix = []byte("account/")
	epochKey      = []byte("epoch/current")
)

// Manager persists the flat key→struct keyspaces used by the settlement
// engines. Values are stored as canonical JSON so the layout stays inspectable
// and backend-agnostic.
//
// Engine calls mutate several keys as one logical step, so the manager offers a
// buffered write scope: Begin serializes the call against every other scope and
// stages writes in an in-memory overlay, End flushes the overlay when the call
// succeeded and discards it when it failed. Reads inside an open scope see the
// staged writes.
type Manager struct {
	mu sync.Mutex
	db storage.Database

	callMu  sync.Mutex
	inScope bool
	staged  map[string][]byte
	removed map[string]struct{}
}

// NewManager wraps the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Begin opens a buffered write scope. Only one scope is open at a time; a
// second caller blocks until the first one ends. Nested engine collaborators
// inside an open scope must not call Begin again.
func (m *Manager) Begin() {
	m.callMu.Lock()
	m.mu.Lock()
	m.inScope = true
	m.staged = make(map[string][]byte)
	m.removed = make(map[string]struct{})
	m.mu.Unlock()
}

// End closes the scope opened by Begin. When *errp is nil the staged writes are
// flushed to the backend; a flush failure is reported through errp. When *errp
// is non-nil every staged write is discarded and the backend keeps its
// pre-call contents.
func (m *Manager) End(errp *error) {
	m.mu.Lock()
	staged, removed := m.staged, m.removed
	m.inScope = false
	m.staged = nil
	m.removed = nil
	m.mu.Unlock()
	defer m.callMu.Unlock()
	if errp != nil && *errp != nil {
		return
	}
	for key := range removed {
		if err := m.db.Delete([]byte(key)); err != nil && !storage.IsNotFound(err) {
			if errp != nil && *errp == nil {
				*errp = fmt.Errorf("state: flush delete %q: %w", key, err)
			}
			return
		}
	}
	for key, raw := range staged {
		if err := m.db.Put([]byte(key), raw); err != nil {
			if errp != nil && *errp == nil {
				*errp = fmt.Errorf("state: flush %q: %w", key, err)
			}
			return
		}
	}
}

// KVGet decodes the stored value for key into out, reporting whether the key
// existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok, err := m.lookup(key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", string(key), err)
	}
	return true, nil
}

func (m *Manager) lookup(key []byte) ([]byte, bool, error) {
	if m.inScope {
		if raw, ok := m.staged[string(key)]; ok {
			return raw, true, nil
		}
		if _, gone := m.removed[string(key)]; gone {
			return nil, false, nil
		}
	}
	raw, err := m.db.Get(key)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return raw, true, nil
}

// KVPut encodes value as JSON and stores it under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", string(key), err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inScope {
		m.staged[string(key)] = raw
		delete(m.removed, string(key))
		return nil
	}
	return m.db.Put(key, raw)
}

// KVDelete removes key from the backend.
func (m *Manager) KVDelete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inScope {
		delete(m.staged, string(key))
		m.removed[string(key)] = struct{}{}
		return nil
	}
	return m.db.Delete(key)
}

func accountKey(addr []byte) []byte {
	out := make([]byte, 0, len(accountPrefix)+hex.EncodedLen(len(addr)))
	out = append(out, accountPrefix...)
	out = append(out, []byte(hex.EncodeToString(addr))...)
	return out
}

// GetAccount loads the account for addr, returning a zero-balance account when
// none has been stored yet.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	account := &types.Account{}
	ok, err := m.KVGet(accountKey(addr), account)
	if err != nil {
		return nil, err
	}
	if !ok {
		return (&types.Account{}).EnsureBalances(), nil
	}
	return account.EnsureBalances(), nil
}

// PutAccount persists the account for addr.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	return m.KVPut(accountKey(addr), account.EnsureBalances())
}

// EpochGet implements the epoch.Store interface.
func (m *Manager) EpochGet() (uint64, bool, error) {
	var current uint64
	ok, err := m.KVGet(epochKey, &current)
	if err != nil {
		return 0, false, err
	}
	return current, ok, nil
}

// EpochPut implements the epoch.Store interface.
func (m *Manager) EpochPut(current uint64) error {
	return m.KVPut(epochKey, current)
}
