package main

import (
	"log"
	"sync"
	"time"
)

const maxSessions = 100

// SessionIdleTimeout is how long an empty session survives before it is
// reaped. Tests shorten it.
var SessionIdleTimeout = 5 * time.Minute

// Session represents a game session that players can join
type Session struct {
	ID         string
	Name       string
	Game       *Game
	lastActive time.Time
}

// SessionManager handles creation and lookup of sessions
type SessionManager struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	cfg       MatchConfig
	db        *DB
	analytics *Analytics
}

// NewSessionManager creates a new SessionManager. db and analytics may be nil.
func NewSessionManager(cfg MatchConfig, db *DB, analytics *Analytics) *SessionManager {
	return &SessionManager{
		sessions:  make(map[string]*Session),
		cfg:       cfg,
		db:        db,
		analytics: analytics,
	}
}

// CreateSession creates a new game session. Returns nil if limit reached.
func (sm *SessionManager) CreateSession(name string) *Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if len(sm.sessions) >= maxSessions {
		return nil
	}

	id := GenerateUUID()
	game := NewGame(id, sm.cfg, sm.db, sm.analytics)
	sess := &Session{
		ID:         id,
		Name:       name,
		Game:       game,
		lastActive: time.Now(),
	}
	sm.sessions[id] = sess
	go game.Run()
	if sm.analytics != nil {
		sm.analytics.Track(EvtSessionStart, 0, id, nil)
		sm.analytics.SetActiveSessions(len(sm.sessions))
	}
	log.Printf("session %s created (%q)", id, name)
	return sess
}

// GetSession returns a session by ID
func (sm *SessionManager) GetSession(id string) *Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[id]
}

// MarkActive postpones idle reaping of a session
func (sm *SessionManager) MarkActive(id string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sess, ok := sm.sessions[id]; ok {
		sess.lastActive = time.Now()
	}
}

// RemovePlayer detaches a connection from a session. The session itself is
// kept until Sweep finds it idle, so a page reload can rejoin.
func (sm *SessionManager) RemovePlayer(sessionID string, conn ConnID) {
	sm.mu.RLock()
	sess, ok := sm.sessions[sessionID]
	sm.mu.RUnlock()
	if !ok {
		return
	}
	sess.Game.RemoveClient(conn)
	sm.MarkActive(sessionID)
}

// Sweep stops and removes sessions that have been empty for longer than
// SessionIdleTimeout. Returns how many were removed.
func (sm *SessionManager) Sweep(now time.Time) int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	removed := 0
	for id, sess := range sm.sessions {
		if sess.Game.PlayerCount() > 0 {
			sess.lastActive = now
			continue
		}
		if now.Sub(sess.lastActive) < SessionIdleTimeout {
			continue
		}
		sess.Game.Stop()
		delete(sm.sessions, id)
		removed++
		if sm.analytics != nil {
			sm.analytics.Track(EvtSessionEnd, 0, id, nil)
		}
		log.Printf("session %s reaped after idle timeout", id)
	}
	if removed > 0 && sm.analytics != nil {
		sm.analytics.SetActiveSessions(len(sm.sessions))
	}
	return removed
}

// StopAll stops every session's game loop
func (sm *SessionManager) StopAll() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for id, sess := range sm.sessions {
		sess.Game.Stop()
		delete(sm.sessions, id)
	}
}

// Count returns the number of live sessions
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// ListSessions returns info about all active sessions
func (sm *SessionManager) ListSessions() []SessionInfo {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	list := make([]SessionInfo, 0, len(sm.sessions))
	for _, sess := range sm.sessions {
		list = append(list, SessionInfo{
			ID:      sess.ID,
			Name:    sess.Name,
			Players: sess.Game.PlayerCount(),
			Phase:   sess.Game.Phase().String(),
		})
	}
	return list
}
