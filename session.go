package statesync

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"time"
)

// SessionTokenBytes is the size of generated session IDs before hex
// encoding.
const SessionTokenBytes = 32

var sessionIDPattern = regexp.MustCompile(fmt.Sprintf(`^[0-9a-fA-F]{%d}$`, SessionTokenBytes*2))

// Update is what a session sends to the frontend after an event: the
// state diff and the pending mail.
type Update struct {
	Mutations *Object `json:"mutations" msgpack:"mutations"`
	Mail      []Mail  `json:"mail" msgpack:"mail"`
}

// Session is one connected frontend: its own state, its own overlay of the
// component tree and its dispatcher. Handle and Flush are serialised by a
// per-session lock, so a diff never interleaves with a running handler.
type Session struct {
	id      string
	cookies map[string]string
	headers map[string]string

	mu         sync.Mutex
	state      *RootState
	tree       *SessionTree
	handler    *EventHandler
	lastActive atomic.Int64 // unix nanoseconds
	now        func() time.Time
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// Info returns the ID, cookies and headers of the session.
func (s *Session) Info() SessionInfo {
	return SessionInfo{ID: s.id, Cookies: s.cookies, Headers: s.headers}
}

// State returns the session state. Callers other than handlers must hold
// no expectations about concurrent changes; use Handle and Flush.
func (s *Session) State() *RootState { return s.state }

// Tree returns the session component tree.
func (s *Session) Tree() *SessionTree { return s.tree }

// LastActive returns the time of the last activity.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// Touch records activity without handling anything, for keep-alives.
func (s *Session) Touch() {
	s.lastActive.Store(s.now().UnixNano())
}

// Handle dispatches ev under the session lock.
func (s *Session) Handle(ctx context.Context, ev *Event) EventResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Touch()
	return s.handler.Handle(ctx, ev)
}

// HandleAndFlush dispatches ev and collects the resulting update in one
// critical section.
func (s *Session) HandleAndFlush(ctx context.Context, ev *Event) (EventResult, Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Touch()
	res := s.handler.Handle(ctx, ev)
	u, err := s.flush()
	return res, u, err
}

// Flush drains pending mutations and mail. On error no mail is taken and
// the pending markers are kept.
func (s *Session) Flush() (Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush()
}

func (s *Session) flush() (Update, error) {
	m, err := s.state.FlushMutations()
	if err != nil {
		return Update{}, err
	}
	return Update{Mutations: m, Mail: s.state.FlushMail()}, nil
}

// Snapshot returns the full serialised user state.
func (s *Session) Snapshot() (*Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ToDict()
}

// Verifier decides whether a new session may be created for a request.
type Verifier func(cookies, headers map[string]string) bool

// SessionManager creates, finds and prunes sessions. It is safe for
// concurrent use.
type SessionManager struct {
	app *App

	mu        sync.RWMutex
	sessions  map[string]*Session
	verifiers []Verifier
	now       func() time.Time
}

// NewSessionManager returns a manager creating sessions for app.
func NewSessionManager(app *App) *SessionManager {
	return &SessionManager{
		app:      app,
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// AddVerifier adds a check run before every new session. All verifiers
// must accept.
func (m *SessionManager) AddVerifier(v Verifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifiers = append(m.verifiers, v)
}

// NewSession creates a session. proposedID, when not empty, must be 64 hex
// characters and is used as the session ID; otherwise a random ID is
// generated. It fails with ErrSessionRejected when the proposed ID is
// malformed or a verifier refuses.
//
// The session state is a clone of the app's initial state with no pending
// mutations, so the first diff only carries what handlers change.
func (m *SessionManager) NewSession(cookies, headers map[string]string, proposedID string) (*Session, error) {
	if proposedID != "" && !sessionIDPattern.MatchString(proposedID) {
		return nil, fmt.Errorf("%w: malformed session ID", ErrSessionRejected)
	}

	m.mu.RLock()
	verifiers := append([]Verifier(nil), m.verifiers...)
	m.mu.RUnlock()
	for _, v := range verifiers {
		if !v(cookies, headers) {
			return nil, fmt.Errorf("%w: refused by verifier", ErrSessionRejected)
		}
	}

	id := proposedID
	if id == "" {
		var err error
		if id, err = generateSessionID(); err != nil {
			return nil, err
		}
	}

	state := m.app.InitialState().Clone()
	state.SetConfig(m.app.Config)
	state.Proxy().ClearMutations(true)

	tree := NewSessionTree(m.app.Tree)
	s := &Session{
		id:      id,
		cookies: cookies,
		headers: headers,
		state:   state,
		tree:    tree,
		now:     m.now,
	}
	s.Touch()
	s.handler = NewEventHandler(state, tree, m.app.Handlers, m.app.transformers(), s.Info())

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.app.Config.logger().Debug("session created", "session", shortID(id))
	return s, nil
}

// Get returns the session with id.
func (m *SessionManager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Len returns the number of live sessions.
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close removes the session with id. Unknown IDs are ignored.
func (m *SessionManager) Close(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// ClearAll removes every session.
func (m *SessionManager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*Session)
}

// Prune closes sessions idle for longer than the configured timeout and
// returns how many were closed.
func (m *SessionManager) Prune() int {
	cutoff := m.now().Add(-m.app.Config.IdleTimeout())

	m.mu.RLock()
	var stale []string
	for id, s := range m.sessions {
		if s.LastActive().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		m.Close(id)
	}
	if len(stale) > 0 {
		m.app.Config.logger().Info("pruned idle sessions", "count", len(stale))
	}
	return len(stale)
}

func generateSessionID() (string, error) {
	b := make([]byte, SessionTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session ID: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// shortID keeps session IDs out of logs in full.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
