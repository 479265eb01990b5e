// Package session tracks the signed-in user.
package session

import (
	"sync"

	"tuzemoon/internal/domain"
)

// EventType is a session lifecycle change.
type EventType string

const (
	SignedIn       EventType = "SIGNED_IN"
	SignedOut      EventType = "SIGNED_OUT"
	TokenRefreshed EventType = "TOKEN_REFRESHED"
)

// Event describes a session change. User is the previous user on SignedOut.
type Event struct {
	Type EventType
	User *domain.User
}

// Accessor exposes the current session to the mutation and payment layers.
type Accessor interface {
	// Current returns the signed-in user or nil.
	Current() *domain.User
}

// Manager holds the current user and notifies subscribers of changes.
type Manager struct {
	mu     sync.RWMutex
	user   *domain.User
	subs   map[int]func(Event)
	nextID int
}

// NewManager creates a signed-out session.
func NewManager() *Manager {
	return &Manager{subs: make(map[int]func(Event))}
}

// Current returns a copy of the signed-in user or nil.
func (m *Manager) Current() *domain.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return nil
	}
	u := *m.user
	return &u
}

// SignIn sets the current user.
func (m *Manager) SignIn(u *domain.User) {
	userCopy := *u
	m.mu.Lock()
	m.user = &userCopy
	m.mu.Unlock()
	m.emit(Event{Type: SignedIn, User: &userCopy})
}

// Refresh replaces the user record, e.g. after a token refresh picked up new claims.
func (m *Manager) Refresh(u *domain.User) {
	userCopy := *u
	m.mu.Lock()
	m.user = &userCopy
	m.mu.Unlock()
	m.emit(Event{Type: TokenRefreshed, User: &userCopy})
}

// SignOut clears the current user. No-op when already signed out.
func (m *Manager) SignOut() {
	m.mu.Lock()
	prev := m.user
	m.user = nil
	m.mu.Unlock()
	if prev != nil {
		m.emit(Event{Type: SignedOut, User: prev})
	}
}

// Subscribe registers fn for session changes and returns a cancel func.
func (m *Manager) Subscribe(fn func(Event)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

func (m *Manager) emit(e Event) {
	m.mu.RLock()
	fns := make([]func(Event), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.RUnlock()

	for _, fn := range fns {
		fn(e)
	}
}

// Static is an Accessor with a fixed user, for tools and tests.
type Static struct {
	User *domain.User
}

// Current returns the fixed user.
func (s Static) Current() *domain.User { return s.User }
