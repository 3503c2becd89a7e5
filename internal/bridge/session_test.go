package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/arcade-sync/internal/domain"
	"github.com/arcade-sync/internal/service"
)

type stubSaveSync struct {
	mu           sync.Mutex
	uploads      [][]byte
	uploadTitles []string
	restoreCalls int
	snapshot     []byte
}

func (s *stubSaveSync) Upload(ctx context.Context, userID uuid.UUID, gameID string, snapshot []byte) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads = append(s.uploads, snapshot)
	return s.uploadTitles, nil
}

func (s *stubSaveSync) RestoreToSandbox(ctx context.Context, userID uuid.UUID, gameID string, target service.Injector) error {
	s.mu.Lock()
	s.restoreCalls++
	snapshot := s.snapshot
	s.mu.Unlock()
	if snapshot == nil {
		return domain.ErrSaveNotFound
	}
	return target.Inject(snapshot)
}

func (s *stubSaveSync) restores() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restoreCalls
}

type stubTracker struct {
	mu    sync.Mutex
	calls int
}

func (s *stubTracker) TrackSession(ctx context.Context, userID uuid.UUID, gameID string, consoleType domain.ConsoleType) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return nil, nil
}

func (s *stubTracker) tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestSession(t *testing.T, userID uuid.UUID, autoload bool, saves SaveSync, tracker Tracker) *Session {
	t.Helper()
	hub := NewHub(saves, tracker, Options{
		AutoRestoreDelay: 10 * time.Millisecond,
		MaxSnapshotBytes: 1 << 20,
		NotifyInterval:   20 * time.Millisecond,
		NotifyVisible:    10 * time.Millisecond,
	}, slog.Default())

	session := newSession(hub, nil, userID, "chrono", domain.ConsoleSNES, autoload)
	t.Cleanup(session.teardown)
	return session
}

func drainMessage(t *testing.T, session *Session) Message {
	t.Helper()
	select {
	case data := <-session.send:
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("invalid message on wire: %v", err)
		}
		return msg
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for a bridge message")
		return Message{}
	}
}

func TestGameStarted_DuplicateSignalIdempotent(t *testing.T) {
	saves := &stubSaveSync{snapshot: []byte("state")}
	tracker := &stubTracker{}
	session := newTestSession(t, uuid.New(), true, saves, tracker)

	session.handleGameStarted()
	session.handleGameStarted()
	session.handleGameStarted()

	time.Sleep(100 * time.Millisecond)

	if got := tracker.tracked(); got != 1 {
		t.Fatalf("duplicate ready signals must track once, got %d", got)
	}
	if got := saves.restores(); got != 1 {
		t.Fatalf("duplicate ready signals must auto-restore once, got %d", got)
	}

	msg := drainMessage(t, session)
	if msg.Type != MessageLoadSaveIntoEmulator {
		t.Fatalf("expected restore message, got %q", msg.Type)
	}
	if string(msg.Payload) != "state" {
		t.Fatalf("restore must carry the stored snapshot, got %q", msg.Payload)
	}
}

func TestGameStarted_NoAutoRestoreWithoutOptIn(t *testing.T) {
	saves := &stubSaveSync{snapshot: []byte("state")}
	session := newTestSession(t, uuid.New(), false, saves, &stubTracker{})

	session.handleGameStarted()
	time.Sleep(50 * time.Millisecond)

	if got := saves.restores(); got != 0 {
		t.Fatalf("auto-restore must be opt-in, got %d restores", got)
	}
}

func TestGameStarted_GuestNeverRestores(t *testing.T) {
	saves := &stubSaveSync{snapshot: []byte("state")}
	tracker := &stubTracker{}
	session := newTestSession(t, uuid.Nil, true, saves, tracker)

	session.handleGameStarted()
	time.Sleep(50 * time.Millisecond)

	if got := saves.restores(); got != 0 {
		t.Fatalf("guests have no saves to restore, got %d restores", got)
	}
	if got := tracker.tracked(); got != 0 {
		t.Fatalf("guest sessions must not be tracked, got %d", got)
	}
}

func TestInject_BeforeReadyIncompatible(t *testing.T) {
	session := newTestSession(t, uuid.New(), false, &stubSaveSync{}, &stubTracker{})

	err := session.Inject([]byte("state"))
	if !errors.Is(err, domain.ErrSandboxIncompatible) {
		t.Fatalf("inject before ready must fail as incompatible, got %v", err)
	}

	select {
	case data := <-session.send:
		t.Fatalf("nothing may reach the sandbox before ready, got %s", data)
	default:
	}
}

func TestTeardown_LateToastIsDropped(t *testing.T) {
	saves := &stubSaveSync{uploadTitles: []string{"First Save"}}
	session := newTestSession(t, uuid.New(), false, saves, &stubTracker{})

	// Detach order as the hub runs it: teardown, then the channel close
	session.teardown()
	close(session.send)

	// A toast timer already past its Stop still fires its callback;
	// it must drop the message, not send on the closed channel
	session.ShowUnlock("Late")
	session.DismissUnlock("Late")

	if err := session.Inject([]byte("state")); !errors.Is(err, domain.ErrSandboxIncompatible) {
		t.Fatalf("inject after teardown must fail as incompatible, got %v", err)
	}
}

func TestTeardown_RacesEnqueueWithoutPanic(t *testing.T) {
	saves := &stubSaveSync{}
	session := newTestSession(t, uuid.New(), false, saves, &stubTracker{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			session.ShowUnlock("Racy")
		}
	}()
	go func() {
		defer wg.Done()
		session.teardown()
		close(session.send)
	}()

	done := make(chan struct{})
	go func() {
		for range session.send {
		}
		close(done)
	}()

	wg.Wait()
	<-done
}

func TestSnapshot_GuestPromptedToSignUp(t *testing.T) {
	saves := &stubSaveSync{}
	session := newTestSession(t, uuid.Nil, false, saves, &stubTracker{})

	session.handleSnapshot([]byte("state"))

	msg := drainMessage(t, session)
	if msg.Type != MessageAuthRequired {
		t.Fatalf("guest snapshot must prompt for auth, got %q", msg.Type)
	}
	if msg.Prompt != "create_account" {
		t.Fatalf("auth prompt must ask to create an account, got %q", msg.Prompt)
	}
	if len(saves.uploads) != 0 {
		t.Fatalf("guest snapshots must never be persisted")
	}
}

func TestSnapshot_UnlocksAnnouncedAsToasts(t *testing.T) {
	saves := &stubSaveSync{uploadTitles: []string{"First Save"}}
	session := newTestSession(t, uuid.New(), false, saves, &stubTracker{})

	session.handleSnapshot([]byte("state"))

	msg := drainMessage(t, session)
	if msg.Type != MessageAchievementUnlocked || msg.Title != "First Save" {
		t.Fatalf("expected an unlock toast for First Save, got %+v", msg)
	}

	msg = drainMessage(t, session)
	if msg.Type != MessageAchievementDismiss || msg.Title != "First Save" {
		t.Fatalf("expected the toast to dismiss, got %+v", msg)
	}

	if len(saves.uploads) != 1 || string(saves.uploads[0]) != "state" {
		t.Fatalf("snapshot must be persisted exactly once")
	}
}
