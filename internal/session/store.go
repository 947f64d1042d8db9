// Session storage.
//
// The Gate persists sessions through the Store interface so deployments can
// choose between a process-local concurrent map (single instance) and a
// shared backend (SQLite today, the same key-value store family as the
// status store for multi-instance setups). The choice is configuration,
// never static state.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/somdiproy/smartcode-review/internal/domain"
)

// ErrNoSession is the store-level miss sentinel. The Gate translates it
// into ErrSessionNotFound for callers.
var ErrNoSession = errors.New("session: no such session")

// Store persists sessions. Implementations must be safe for concurrent use.
type Store interface {
	// Put inserts or replaces a session keyed by its ID.
	Put(ctx context.Context, s *domain.Session) error

	// Get returns the session with the given id, or ErrNoSession.
	Get(ctx context.Context, id string) (*domain.Session, error)

	// GetByToken returns the verified session owning token, or ErrNoSession.
	GetByToken(ctx context.Context, token string) (*domain.Session, error)

	// FindActiveByEmail returns a verified session for email whose window
	// has not elapsed at now, or ErrNoSession.
	FindActiveByEmail(ctx context.Context, email string, now time.Time, sessionTTL time.Duration) (*domain.Session, error)

	// Delete removes the session with the given id. Missing ids are not an
	// error.
	Delete(ctx context.Context, id string) error

	// DeleteExpired removes pending sessions older than otpTTL and verified
	// sessions older than sessionTTL, returning how many were dropped.
	DeleteExpired(ctx context.Context, now time.Time, otpTTL, sessionTTL time.Duration) (int, error)
}

// MemoryStore is the in-process Store used by single-instance deployments.
// Sessions are copied on the way in and out so callers cannot mutate shared
// state.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]domain.Session
	byToken map[string]string // token -> session id
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]domain.Session),
		byToken: make(map[string]string),
	}
}

// Put inserts or replaces a session, keeping the token index consistent.
func (m *MemoryStore) Put(_ context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.byID[s.ID]; ok && old.Token != "" && old.Token != s.Token {
		delete(m.byToken, old.Token)
	}
	m.byID[s.ID] = *s
	if s.Token != "" {
		m.byToken[s.Token] = s.ID
	}
	return nil
}

// Get returns a copy of the session with the given id.
func (m *MemoryStore) Get(_ context.Context, id string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.byID[id]
	if !ok {
		return nil, ErrNoSession
	}
	out := s
	return &out, nil
}

// GetByToken resolves token through the index.
func (m *MemoryStore) GetByToken(_ context.Context, token string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byToken[token]
	if !ok {
		return nil, ErrNoSession
	}
	s, ok := m.byID[id]
	if !ok {
		return nil, ErrNoSession
	}
	out := s
	return &out, nil
}

// FindActiveByEmail scans for a verified, unexpired session owned by email.
func (m *MemoryStore) FindActiveByEmail(_ context.Context, email string, now time.Time, sessionTTL time.Duration) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.byID {
		if s.Verified && strings.EqualFold(s.Email, email) && now.Sub(s.VerifiedAt) <= sessionTTL {
			out := s
			return &out, nil
		}
	}
	return nil, ErrNoSession
}

// Delete removes the session and its token index entry.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.byID[id]; ok {
		if s.Token != "" {
			delete(m.byToken, s.Token)
		}
		delete(m.byID, id)
	}
	return nil
}

// DeleteExpired sweeps both pending and verified sessions past their TTLs.
func (m *MemoryStore) DeleteExpired(_ context.Context, now time.Time, otpTTL, sessionTTL time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dropped := 0
	for id, s := range m.byID {
		expired := false
		if s.Verified {
			expired = now.Sub(s.VerifiedAt) > sessionTTL
		} else {
			expired = now.Sub(s.CreatedAt) > otpTTL
		}
		if expired {
			if s.Token != "" {
				delete(m.byToken, s.Token)
			}
			delete(m.byID, id)
			dropped++
		}
	}
	return dropped, nil
}
