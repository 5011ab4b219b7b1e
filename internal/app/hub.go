package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"asamblea/internal/backend"
	"asamblea/internal/cache"
	"asamblea/internal/domain"
	"asamblea/internal/metrics"
)

const (
	// StaleSessionTimeout is how long an idle session without clients is kept
	StaleSessionTimeout = 2 * time.Hour

	// cleanupInterval is how often the hub looks for stale sessions
	cleanupInterval = 10 * time.Minute
)

// BackendFactory returns the backend to use on behalf of an identity
type BackendFactory func(identity domain.Identity) backend.Backend

// HubConfig holds the defaults applied to every session
type HubConfig struct {
	TickInterval    time.Duration
	RefreshInterval time.Duration
	StaleTimeout    time.Duration
}

// SessionHub manages the live sessions, one per assembly
type SessionHub struct {
	cfg      HubConfig
	factory  BackendFactory
	store    *cache.Store
	clock    Clock
	sessions map[int64]*LiveSession
	mu       sync.RWMutex
	logger   *slog.Logger
	metrics  *metrics.Metrics
	done     chan struct{}
	once     sync.Once
}

// NewSessionHub creates a new session hub. store may be nil.
func NewSessionHub(cfg HubConfig, factory BackendFactory, store *cache.Store, logger *slog.Logger, m *metrics.Metrics) *SessionHub {
	if cfg.StaleTimeout <= 0 {
		cfg.StaleTimeout = StaleSessionTimeout
	}
	if m == nil {
		m = metrics.New(nil)
	}
	hub := &SessionHub{
		cfg:      cfg,
		factory:  factory,
		store:    store,
		clock:    SystemClock,
		sessions: make(map[int64]*LiveSession),
		logger:   logger,
		metrics:  m,
		done:     make(chan struct{}),
	}

	// Start cleanup goroutine
	go hub.cleanupLoop()

	return hub
}

// Open creates a session for the assembly and enters it. A previous session
// for the same assembly is closed: re-entering creates a new registration.
// The session is kept only when the entry succeeds.
func (h *SessionHub) Open(ctx context.Context, assemblyID int64, identity domain.Identity, role domain.Role) (*LiveSession, Outcome) {
	session := NewLiveSession(SessionConfig{
		AssemblyID:      assemblyID,
		Identity:        identity,
		Role:            role,
		TickInterval:    h.cfg.TickInterval,
		RefreshInterval: h.cfg.RefreshInterval,
	}, h.factory(identity), h.store, h.clock, h.logger, h.metrics)

	out := session.Enter(ctx)
	if !session.Entered() {
		session.Close()
		return nil, out
	}

	h.mu.Lock()
	previous, replaced := h.sessions[assemblyID]
	h.sessions[assemblyID] = session
	h.mu.Unlock()

	if replaced {
		previous.Close()
	} else {
		h.metrics.LiveSessions.Inc()
	}

	h.logger.Info("session opened", "assemblyID", assemblyID, "role", role)
	return session, out
}

// GetSession returns the live session of an assembly
func (h *SessionHub) GetSession(assemblyID int64) (*LiveSession, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	session, ok := h.sessions[assemblyID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	return session, nil
}

// DeleteSession closes and removes a session
func (h *SessionHub) DeleteSession(assemblyID int64) {
	h.mu.Lock()
	session, ok := h.sessions[assemblyID]
	delete(h.sessions, assemblyID)
	h.mu.Unlock()

	if ok {
		session.Close()
		h.metrics.LiveSessions.Dec()
		h.logger.Info("session deleted", "assemblyID", assemblyID)
	}
}

// GetSessionCount returns the number of live sessions
func (h *SessionHub) GetSessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// GetTotalClientCount returns the connected clients across all sessions
func (h *SessionHub) GetTotalClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, session := range h.sessions {
		total += session.ClientCount()
	}
	return total
}

// Close shuts down the hub and all sessions
func (h *SessionHub) Close() {
	h.once.Do(func() {
		close(h.done)
	})

	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[int64]*LiveSession)
	h.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
	h.metrics.LiveSessions.Sub(float64(len(sessions)))
}

// cleanupLoop periodically cleans up stale sessions
func (h *SessionHub) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.cleanupStaleSessions()
		}
	}
}

// cleanupStaleSessions removes exited sessions and idle ones without clients
func (h *SessionHub) cleanupStaleSessions() {
	now := time.Now()

	h.mu.Lock()
	stale := make([]*LiveSession, 0)
	for assemblyID, session := range h.sessions {
		idle := session.ClientCount() == 0 && now.Sub(session.LastActivity()) > h.cfg.StaleTimeout
		if session.Exited() || idle {
			stale = append(stale, session)
			delete(h.sessions, assemblyID)
		}
	}
	h.mu.Unlock()

	for _, session := range stale {
		session.Close()
		h.metrics.LiveSessions.Dec()
		h.logger.Info("stale session cleaned up", "assemblyID", session.AssemblyID())
	}
}
