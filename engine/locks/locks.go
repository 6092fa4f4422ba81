// Package locks provides the server's process-local mutual exclusion: one
// try-lock per space guarding consolidation, and a single mutex guarding the
// token registry file.
package locks

import "sync"

// TryMutex is a non-blocking mutex built on a capacity-1 channel. Unlike
// sync.Mutex it can report whether it is currently held without acquiring.
type TryMutex struct {
	ch chan struct{}
}

// NewTryMutex returns an unlocked TryMutex.
func NewTryMutex() *TryMutex {
	return &TryMutex{ch: make(chan struct{}, 1)}
}

// TryLock acquires the mutex if it is free and reports whether it did.
func (m *TryMutex) TryLock() bool {
	select {
	case m.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Unlock releases the mutex. It panics when the mutex is not held.
func (m *TryMutex) Unlock() {
	select {
	case <-m.ch:
	default:
		panic("locks: unlock of unlocked TryMutex")
	}
}

// Held reports whether the mutex is currently held.
func (m *TryMutex) Held() bool {
	return len(m.ch) > 0
}

// Manager hands out the consolidation lock for each space and the token
// registry mutex. Space locks are created on first touch and live for the
// process lifetime.
type Manager struct {
	mu     sync.Mutex
	spaces map[string]*TryMutex
	tokens sync.Mutex
}

func NewManager() *Manager {
	return &Manager{spaces: make(map[string]*TryMutex)}
}

// Consolidation returns the consolidation lock for a space. Two spaces have
// independent locks and may consolidate in parallel.
func (m *Manager) Consolidation(spaceID string) *TryMutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.spaces[spaceID]
	if !ok {
		l = NewTryMutex()
		m.spaces[spaceID] = l
	}
	return l
}

// Tokens returns the mutex serializing token registry mutations.
func (m *Manager) Tokens() *sync.Mutex {
	return &m.tokens
}
