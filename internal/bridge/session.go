package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/arcade-sync/internal/domain"
	"github.com/arcade-sync/internal/notify"
	"github.com/arcade-sync/internal/service"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period
	pingPeriod = (pongWait * 9) / 10
)

// SaveSync is the save-service surface a session drives
type SaveSync interface {
	Upload(ctx context.Context, userID uuid.UUID, gameID string, snapshot []byte) ([]string, error)
	RestoreToSandbox(ctx context.Context, userID uuid.UUID, gameID string, target service.Injector) error
}

// Tracker records play-start facts
type Tracker interface {
	TrackSession(ctx context.Context, userID uuid.UUID, gameID string, consoleType domain.ConsoleType) ([]string, error)
}

// Session is the explicit handle for one page's sandbox connection. It
// owns the message channel to the sandbox, the ready state, and the
// page's notification queue; call sites receive it by reference instead
// of looking up an ambient global instance.
type Session struct {
	id          string
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	userID      uuid.UUID
	gameID      string
	consoleType domain.ConsoleType
	autoload    bool
	saves       SaveSync
	tracker     Tracker
	notifier    *notify.Queue
	logger      *slog.Logger

	mu           sync.Mutex
	ready        bool
	restored     bool
	closed       bool
	restoreTimer *time.Timer
}

// newSession creates a session for an upgraded connection
func newSession(hub *Hub, conn *websocket.Conn, userID uuid.UUID, gameID string, consoleType domain.ConsoleType, autoload bool) *Session {
	s := &Session{
		id:          uuid.New().String(),
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, 64),
		userID:      userID,
		gameID:      gameID,
		consoleType: consoleType,
		autoload:    autoload,
		saves:       hub.saves,
		tracker:     hub.tracker,
		logger:      hub.logger,
	}
	s.notifier = notify.NewQueue(s, hub.opts.NotifyInterval, hub.opts.NotifyVisible)
	return s
}

// UserID returns the authenticated user for this session, or uuid.Nil
// for a guest
func (s *Session) UserID() uuid.UUID {
	return s.userID
}

// Inject posts a restore message to the sandbox. Fire-and-forget: no
// acknowledgment exists and success is optimistic. If the sandbox has
// not reported ready there is no restore-capable instance yet, and the
// call fails as incompatible rather than retrying blindly.
func (s *Session) Inject(snapshot []byte) error {
	s.mu.Lock()
	ready := s.ready
	s.mu.Unlock()

	if !ready {
		return domain.ErrSandboxIncompatible
	}

	s.post(Message{
		Type:    MessageLoadSaveIntoEmulator,
		Payload: snapshot,
	})
	return nil
}

// ShowUnlock implements notify.Sink
func (s *Session) ShowUnlock(title string) {
	s.post(Message{Type: MessageAchievementUnlocked, Title: title})
}

// DismissUnlock implements notify.Sink
func (s *Session) DismissUnlock(title string) {
	s.post(Message{Type: MessageAchievementDismiss, Title: title})
}

// post marshals and queues a message for the write pump, dropping it
// when the session buffer is full. Timer callbacks can race session
// teardown, so the send happens under the mutex against the closed
// flag: teardown flips the flag before the hub closes the channel, and
// a late callback drops its message instead of hitting a closed send.
func (s *Session) post(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("failed to marshal bridge message", "type", msg.Type, "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.send <- data:
	default:
		s.logger.Warn("session buffer full, dropping message", "session_id", s.id, "type", msg.Type)
	}
}

// readPump pumps messages from the sandbox connection to the handlers
func (s *Session) readPump() {
	defer func() {
		s.hub.Detach(s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(s.hub.opts.MaxSnapshotBytes + 4096)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error("websocket error", "session_id", s.id, "error", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("invalid bridge message", "session_id", s.id, "error", err)
			s.post(Message{Type: MessageError, Error: "invalid message format"})
			continue
		}

		s.handleMessage(&msg)
	}
}

// handleMessage processes a sandbox message
func (s *Session) handleMessage(msg *Message) {
	switch msg.Type {
	case MessageGameStarted:
		s.handleGameStarted()

	case MessageSaveStateFromEmulator:
		s.handleSnapshot(msg.Payload)

	default:
		s.logger.Debug("unknown bridge message type", "type", msg.Type)
	}
}

// handleGameStarted marks the session ready exactly once. Duplicate
// ready signals from the same page instance neither re-track the
// session nor re-trigger auto-restore.
func (s *Session) handleGameStarted() {
	s.mu.Lock()
	if s.ready {
		s.mu.Unlock()
		return
	}
	s.ready = true
	autoRestore := s.autoload && s.userID != uuid.Nil && !s.restored
	if autoRestore {
		s.restored = true
	}
	s.mu.Unlock()

	if s.userID != uuid.Nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		titles, err := s.tracker.TrackSession(ctx, s.userID, s.gameID, s.consoleType)
		cancel()
		if err != nil {
			s.logger.Warn("failed to track session", "session_id", s.id, "error", err)
		} else if len(titles) > 0 {
			s.notifier.Enqueue(titles...)
		}
	}

	if autoRestore {
		timer := time.AfterFunc(s.hub.opts.AutoRestoreDelay, s.autoRestore)
		s.mu.Lock()
		s.restoreTimer = timer
		s.mu.Unlock()
	}
}

// autoRestore loads the latest save into the freshly started sandbox
func (s *Session) autoRestore() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := s.saves.RestoreToSandbox(ctx, s.userID, s.gameID, s)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrSaveNotFound):
		// Nothing to resume; the sandbox receives no message
	case errors.Is(err, domain.ErrSandboxIncompatible):
		s.logger.Warn("auto-restore skipped, sandbox not restore-capable", "session_id", s.id)
	default:
		s.logger.Error("auto-restore failed", "session_id", s.id, "error", err)
		s.post(Message{Type: MessageError, Error: "could not load your cloud save"})
	}
}

// handleSnapshot persists a captured snapshot. Guests are prompted to
// create an account instead of being silently dropped.
func (s *Session) handleSnapshot(snapshot []byte) {
	if s.userID == uuid.Nil {
		s.post(Message{
			Type:   MessageAuthRequired,
			Prompt: "create_account",
			Error:  "sign in to save your progress to the cloud",
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	titles, err := s.saves.Upload(ctx, s.userID, s.gameID, snapshot)
	if err != nil {
		s.logger.Error("snapshot persist failed", "session_id", s.id, "error", err)
		s.post(Message{Type: MessageError, Error: "could not save to the cloud"})
		return
	}

	if len(titles) > 0 {
		s.notifier.Enqueue(titles...)
	}
}

// writePump pumps queued messages to the sandbox connection
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// teardown releases everything the session owns: pending toast timers,
// the auto-restore timer and the ready state. It marks the session
// closed before the hub closes the send channel, so a timer callback
// already in flight cannot send afterwards.
func (s *Session) teardown() {
	s.notifier.Stop()

	s.mu.Lock()
	if s.restoreTimer != nil {
		s.restoreTimer.Stop()
		s.restoreTimer = nil
	}
	s.ready = false
	s.closed = true
	s.mu.Unlock()
}
