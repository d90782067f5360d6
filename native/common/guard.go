package common

import (
	"errors"
	"sync"
)

// ErrModulePaused is returned when a mutating entry point is invoked while the
// module's circuit breaker is engaged.
var ErrModulePaused = errors.New("module paused")

// PauseView exposes the operator-controlled pause switches.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when the named module is paused. A nil view or empty
// module name disables the check.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// PauseRegistry is a concrete PauseView backed by an in-memory set. Operators
// toggle modules through the gateway; engines only read.
type PauseRegistry struct {
	mu     sync.RWMutex
	paused map[string]bool
}

// NewPauseRegistry constructs a registry with every module running.
func NewPauseRegistry() *PauseRegistry {
	return &PauseRegistry{paused: make(map[string]bool)}
}

// SetPaused toggles the pause switch for a module.
func (r *PauseRegistry) SetPaused(module string, paused bool) {
	if r == nil || module == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if paused {
		r.paused[module] = true
		return
	}
	delete(r.paused, module)
}

// IsPaused implements the PauseView interface.
func (r *PauseRegistry) IsPaused(module string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.paused[module]
}
