package bridge

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/arcade-sync/internal/domain"
	"github.com/arcade-sync/internal/service"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by the reverse proxy
		return true
	},
}

// Options carries the session tuning a hub hands to each session
type Options struct {
	AutoRestoreDelay time.Duration
	MaxSnapshotBytes int64
	NotifyInterval   time.Duration
	NotifyVisible    time.Duration
}

// Hub tracks the active sandbox sessions. Each page gets its own
// session handle; attach and detach are explicit, and a session that
// detaches tears down every timer it owns.
type Hub struct {
	sessions map[*Session]bool

	register   chan *Session
	unregister chan *Session

	saves   SaveSync
	tracker Tracker
	opts    Options

	mu     sync.RWMutex
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a session hub
func NewHub(saves SaveSync, tracker Tracker, opts Options, logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		sessions:   make(map[*Session]bool),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		saves:      saves,
		tracker:    tracker,
		opts:       opts,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("sandbox bridge hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("sandbox bridge hub stopping")
			h.mu.Lock()
			for session := range h.sessions {
				session.teardown()
				close(session.send)
				delete(h.sessions, session)
			}
			h.mu.Unlock()
			return

		case session := <-h.register:
			h.mu.Lock()
			h.sessions[session] = true
			h.mu.Unlock()
			h.logger.Debug("session attached",
				"session_id", session.id,
				"game_id", session.gameID,
				"guest", session.userID == uuid.Nil)

		case session := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.sessions[session]; ok {
				delete(h.sessions, session)
				session.teardown()
				close(session.send)
			}
			h.mu.Unlock()
			h.logger.Debug("session detached", "session_id", session.id)
		}
	}
}

// Stop stops the hub and tears down every active session
func (h *Hub) Stop() {
	h.cancel()
}

// Attach registers a session with the hub
func (h *Hub) Attach(session *Session) {
	h.register <- session
}

// Detach unregisters a session and tears it down
func (h *Hub) Detach(session *Session) {
	select {
	case h.unregister <- session:
	case <-h.ctx.Done():
	}
}

// SessionFor returns the active session for a user and game, or nil.
// The restore endpoint uses it to find the page to inject into.
func (h *Hub) SessionFor(userID uuid.UUID, gameID string) service.Injector {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for session := range h.sessions {
		if session.userID == userID && session.gameID == gameID {
			return session
		}
	}
	return nil
}

// ActiveSessions returns the number of attached sessions
func (h *Hub) ActiveSessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// ServeWS upgrades an HTTP request into a sandbox bridge session. The
// game and console query parameters are required; autoload opts in to
// restoring the latest save after the sandbox reports ready. userID is
// uuid.Nil for guests, who may play but not persist.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	gameID := r.URL.Query().Get("game")
	if gameID == "" {
		http.Error(w, "game query parameter required", http.StatusBadRequest)
		return
	}

	consoleType := domain.ConsoleType(r.URL.Query().Get("console"))
	if !consoleType.Valid() {
		http.Error(w, "unsupported console type", http.StatusBadRequest)
		return
	}

	autoload := r.URL.Query().Get("autoload") == "true"

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	session := newSession(h, conn, userID, gameID, consoleType, autoload)
	h.Attach(session)

	go session.writePump()
	go session.readPump()
}
