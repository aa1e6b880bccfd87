// Package migration orchestrates a theme version migration end to end:
// acquire both packages, diff, infer rules, hold a session for confirmation,
// then patch, repack and swap the current pointer with backup based recovery.
package migration

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/themeforge/migrator/diff"
	"github.com/themeforge/migrator/rules"
)

// Status captures the session lifecycle:
// PENDING -> ANALYZING -> EXECUTING -> SUCCESS | FAILED.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusAnalyzing Status = "ANALYZING"
	StatusExecuting Status = "EXECUTING"
	StatusSuccess   Status = "SUCCESS"
	StatusFailed    Status = "FAILED"
)

// ErrSessionNotFound marks a session id no store entry exists for.
var ErrSessionNotFound = errors.New("session not found")

type (
	// Session holds one in-flight migration awaiting confirmation or
	// execution. At most one executor per session id is assumed.
	Session struct {
		ID             string
		ThemeName      string
		FromVersion    string
		ToVersion      string
		Status         Status
		Changes        *diff.Result
		SuggestedRules *rules.Set
		RequestedBy    string
		Message        string
		CreatedAt      time.Time
		UpdatedAt      time.Time
	}

	// SessionStore keeps sessions addressable by id.
	SessionStore interface {
		Put(session *Session)
		Get(id string) (*Session, error)
		Delete(id string)
	}

	memorySessionStore struct {
		mux      sync.RWMutex
		sessions map[string]*Session
	}
)

func (s *memorySessionStore) Put(session *Session) {
	s.mux.Lock()
	defer s.mux.Unlock()
	session.UpdatedAt = time.Now()
	s.sessions[session.ID] = session
}

func (s *memorySessionStore) Get(id string) (*Session, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (s *memorySessionStore) Delete(id string) {
	s.mux.Lock()
	defer s.mux.Unlock()
	delete(s.sessions, id)
}

func newSessionID() string {
	return uuid.New().String()
}

// NewMemorySessionStore creates an in process session store
func NewMemorySessionStore() SessionStore {
	return &memorySessionStore{sessions: map[string]*Session{}}
}
