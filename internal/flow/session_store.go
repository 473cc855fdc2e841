package flow

import (
	"sync"
	"time"

	"github.com/BTreeMap/CivicPipe/internal/models"
)

// SessionStore holds in-progress sessions keyed by (user, flow).
// Implementations copy sessions in and out so callers never share state.
type SessionStore interface {
	Get(userID string, flow models.FlowKind) (*models.Session, bool)
	Put(s *models.Session) error
	Delete(userID string, flow models.FlowKind)
	// Active returns the user's most recently written session.
	Active(userID string) (*models.Session, bool)
	Len() int
	// Lock serializes processing for one user and returns the release func.
	Lock(userID string) func()
}

type sessionKey struct {
	user string
	flow models.FlowKind
}

type storedSession struct {
	session *models.Session
	seq     uint64
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// MemorySessionStore is a process-local SessionStore.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[sessionKey]storedSession
	seq      uint64

	locksMu sync.Mutex
	locks   map[string]*userLock
}

// NewMemorySessionStore creates an empty store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[sessionKey]storedSession),
		locks:    make(map[string]*userLock),
	}
}

func (m *MemorySessionStore) Get(userID string, flow models.FlowKind) (*models.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[sessionKey{userID, flow}]
	if !ok {
		return nil, false
	}
	return e.session.Clone(), true
}

// Put stores a copy of s, replacing any session for the same user and flow.
func (m *MemorySessionStore) Put(s *models.Session) error {
	if s.UserID == "" {
		return models.ErrEmptyUserID
	}
	if !s.Flow.IsValid() {
		return models.ErrUnknownFlow
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.sessions[sessionKey{s.UserID, s.Flow}] = storedSession{session: s.Clone(), seq: m.seq}
	return nil
}

func (m *MemorySessionStore) Delete(userID string, flow models.FlowKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionKey{userID, flow})
}

func (m *MemorySessionStore) Active(userID string) (*models.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest storedSession
	for k, e := range m.sessions {
		if k.user == userID && e.seq > latest.seq {
			latest = e
		}
	}
	if latest.session == nil {
		return nil, false
	}
	return latest.session.Clone(), true
}

func (m *MemorySessionStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// PruneIdle deletes sessions last updated before cutoff and returns how many
// were removed. Users currently holding or waiting on their lock are skipped.
func (m *MemorySessionStore) PruneIdle(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	n := 0
	for k, e := range m.sessions {
		if _, busy := m.locks[k.user]; busy {
			continue
		}
		if e.session.UpdatedAt.Before(cutoff) {
			delete(m.sessions, k)
			n++
		}
	}
	return n
}

// Lock acquires the user's mutex. Locks are reference counted and dropped
// once no goroutine holds or waits on them.
func (m *MemorySessionStore) Lock(userID string) func() {
	m.locksMu.Lock()
	l, ok := m.locks[userID]
	if !ok {
		l = &userLock{}
		m.locks[userID] = l
	}
	l.refs++
	m.locksMu.Unlock()

	l.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()
			m.locksMu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(m.locks, userID)
			}
			m.locksMu.Unlock()
		})
	}
}

// lockCount reports how many user locks are live.
func (m *MemorySessionStore) lockCount() int {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	return len(m.locks)
}
