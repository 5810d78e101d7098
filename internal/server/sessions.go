package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/notably/notably/internal/auth"
	"github.com/notably/notably/internal/instrumentation"
	"github.com/notably/notably/internal/logging"
)

const (
	// SessionCookieName identifies the session cookie.
	SessionCookieName = "notably_session"

	// DefaultSessionTTL is how long an idle session survives.
	DefaultSessionTTL = 30 * 24 * time.Hour

	cleanupInterval = 10 * time.Minute
)

// sessionEntry tracks one signed-in user's credential and activity.
type sessionEntry struct {
	cred       auth.Credential
	lastAccess time.Time
}

// SessionStore keeps server-side sessions keyed by an opaque random ID.
// The ID travels in a cookie; the credential never leaves the server.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry

	ttl           time.Duration
	cleanupTicker *time.Ticker
	cleanupDone   chan struct{}
	logger        *slog.Logger
	metrics       *instrumentation.Metrics
}

// SessionStoreConfig configures a SessionStore.
type SessionStoreConfig struct {
	TTL     time.Duration
	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
}

// NewSessionStore creates a store and starts its cleanup loop.
func NewSessionStore(cfg SessionStoreConfig) *SessionStore {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSessionTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &SessionStore{
		sessions:      make(map[string]*sessionEntry),
		ttl:           cfg.TTL,
		cleanupTicker: time.NewTicker(cleanupInterval),
		cleanupDone:   make(chan struct{}),
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
	}
	go s.cleanupLoop()
	return s
}

// Create stores a credential under a fresh random session ID.
func (s *SessionStore) Create(cred auth.Credential) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	id := hex.EncodeToString(buf)

	s.mu.Lock()
	s.sessions[id] = &sessionEntry{cred: cred, lastAccess: time.Now()}
	s.mu.Unlock()

	s.metrics.IncrementActiveSessions(context.Background())
	s.logger.Debug("session created", logging.SessionHash(id))
	return id, nil
}

// Get returns the credential for a session ID and marks the session as
// recently used. The second return is false for unknown or expired IDs.
func (s *SessionStore) Get(id string) (auth.Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[id]
	if !ok {
		return auth.Credential{}, false
	}
	if time.Since(entry.lastAccess) > s.ttl {
		delete(s.sessions, id)
		s.metrics.DecrementActiveSessions(context.Background())
		return auth.Credential{}, false
	}
	entry.lastAccess = time.Now()
	return entry.cred, true
}

// Update replaces the credential for an existing session. Unknown IDs are
// ignored; the session may have been cleaned up concurrently.
func (s *SessionStore) Update(id string, cred auth.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.sessions[id]; ok {
		entry.cred = cred
		entry.lastAccess = time.Now()
	}
}

// Delete removes a session.
func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	_, existed := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if existed {
		s.metrics.DecrementActiveSessions(context.Background())
		s.logger.Debug("session deleted", logging.SessionHash(id))
	}
}

// Count returns the number of live sessions.
func (s *SessionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close stops the cleanup loop.
func (s *SessionStore) Close() {
	s.cleanupTicker.Stop()
	close(s.cleanupDone)
}

func (s *SessionStore) cleanupLoop() {
	for {
		select {
		case <-s.cleanupTicker.C:
			s.removeExpired()
		case <-s.cleanupDone:
			return
		}
	}
}

func (s *SessionStore) removeExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, entry := range s.sessions {
		if time.Since(entry.lastAccess) > s.ttl {
			delete(s.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		for i := 0; i < removed; i++ {
			s.metrics.DecrementActiveSessions(context.Background())
		}
		s.logger.Debug("expired sessions removed", slog.Int("count", removed))
	}
}

// sessionCookie builds the session cookie for a freshly created session.
func sessionCookie(id string, secure bool, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// clearedSessionCookie expires the session cookie.
func clearedSessionCookie(secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}
