package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/arcade-sync/internal/domain"
)

type memObjectStore struct {
	objects map[string][]byte
	signTTL time.Duration
}

func newMemObjectStore() *memObjectStore {
	return &memObjectStore{
		objects: make(map[string][]byte),
		signTTL: time.Hour,
	}
}

func (m *memObjectStore) Put(ctx context.Context, userID uuid.UUID, gameID string, snapshot []byte) (string, error) {
	key := fmt.Sprintf("%s/%s.state", userID, gameID)
	data := make([]byte, len(snapshot))
	copy(data, snapshot)
	m.objects[key] = data
	return key, nil
}

func (m *memObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

func (m *memObjectStore) PresignedGet(ctx context.Context, key string) (string, time.Duration, error) {
	if _, ok := m.objects[key]; !ok {
		return "", 0, errors.New("object not found")
	}
	return "https://storage.test/" + key + "?sig=abc", m.signTTL, nil
}

func (m *memObjectStore) Remove(ctx context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

type memSaveStore struct {
	saves map[string]domain.SaveRecord
}

func newMemSaveStore() *memSaveStore {
	return &memSaveStore{saves: make(map[string]domain.SaveRecord)}
}

func (m *memSaveStore) saveKey(userID uuid.UUID, gameID string) string {
	return userID.String() + ":" + gameID
}

func (m *memSaveStore) UpsertSave(ctx context.Context, userID uuid.UUID, gameID, fileRef string) error {
	key := m.saveKey(userID, gameID)
	record, ok := m.saves[key]
	if !ok {
		record = domain.SaveRecord{ID: uuid.New(), UserID: userID, GameID: gameID}
	}
	record.SaveFileRef = fileRef
	record.LastPlayedAt = time.Now()
	m.saves[key] = record
	return nil
}

func (m *memSaveStore) GetSave(ctx context.Context, userID uuid.UUID, gameID string) (*domain.SaveRecord, error) {
	record, ok := m.saves[m.saveKey(userID, gameID)]
	if !ok {
		return nil, domain.ErrSaveNotFound
	}
	return &record, nil
}

func (m *memSaveStore) GetSaveByID(ctx context.Context, userID, saveID uuid.UUID) (*domain.SaveRecord, error) {
	for _, record := range m.saves {
		if record.ID == saveID && record.UserID == userID {
			return &record, nil
		}
	}
	return nil, domain.ErrSaveNotFound
}

func (m *memSaveStore) ListSaves(ctx context.Context, userID uuid.UUID) ([]domain.SaveRecord, error) {
	var records []domain.SaveRecord
	for _, record := range m.saves {
		if record.UserID == userID {
			records = append(records, record)
		}
	}
	return records, nil
}

func (m *memSaveStore) DeleteSave(ctx context.Context, userID, saveID uuid.UUID) error {
	for key, record := range m.saves {
		if record.ID == saveID && record.UserID == userID {
			delete(m.saves, key)
			return nil
		}
	}
	return domain.ErrSaveNotFound
}

type noopEvaluator struct {
	titles []string
	calls  int
}

func (e *noopEvaluator) Evaluate(ctx context.Context, userID uuid.UUID) ([]string, error) {
	e.calls++
	return e.titles, nil
}

type noopInvalidator struct {
	views []string
}

func (i *noopInvalidator) Get(ctx context.Context, name string, userID uuid.UUID) ([]byte, error) {
	return nil, nil
}

func (i *noopInvalidator) Set(ctx context.Context, name string, userID uuid.UUID, payload []byte) error {
	return nil
}

func (i *noopInvalidator) Invalidate(ctx context.Context, userID uuid.UUID, views ...string) {
	i.views = append(i.views, views...)
}

type recordingInjector struct {
	snapshots [][]byte
}

func (r *recordingInjector) Inject(snapshot []byte) error {
	r.snapshots = append(r.snapshots, snapshot)
	return nil
}

func newSaveService(objects ObjectStore, store SaveStore) *SaveService {
	return NewSaveService(objects, store, &noopEvaluator{}, &noopInvalidator{}, slog.Default())
}

func TestUpload_LastWriteWins(t *testing.T) {
	objects := newMemObjectStore()
	store := newMemSaveStore()
	svc := newSaveService(objects, store)

	userID := uuid.New()
	ctx := context.Background()

	if _, err := svc.Upload(ctx, userID, "chrono", []byte("first")); err != nil {
		t.Fatalf("first upload failed: %v", err)
	}
	if _, err := svc.Upload(ctx, userID, "chrono", []byte("second")); err != nil {
		t.Fatalf("second upload failed: %v", err)
	}

	save, err := store.GetSave(ctx, userID, "chrono")
	if err != nil {
		t.Fatalf("expected a save record after upload: %v", err)
	}

	data, err := objects.Get(ctx, save.SaveFileRef)
	if err != nil {
		t.Fatalf("expected bytes at the recorded ref: %v", err)
	}
	if !bytes.Equal(data, []byte("second")) {
		t.Fatalf("fetch after two uploads must observe the later bytes, got %q", data)
	}

	if len(store.saves) != 1 {
		t.Fatalf("upsert must never duplicate the (user, game) row, got %d rows", len(store.saves))
	}
}

func TestUpload_GuestDenied(t *testing.T) {
	svc := newSaveService(newMemObjectStore(), newMemSaveStore())

	_, err := svc.Upload(context.Background(), uuid.Nil, "chrono", []byte("x"))
	if !errors.Is(err, domain.ErrAuthRequired) {
		t.Fatalf("guest upload must be denied with ErrAuthRequired, got %v", err)
	}
}

func TestFetchLatest_NotFound(t *testing.T) {
	svc := newSaveService(newMemObjectStore(), newMemSaveStore())

	_, err := svc.FetchLatest(context.Background(), uuid.New(), "chrono")
	if !errors.Is(err, domain.ErrSaveNotFound) {
		t.Fatalf("expected ErrSaveNotFound, got %v", err)
	}
}

func TestFetchLatest_SignedURLHidesStoragePath(t *testing.T) {
	objects := newMemObjectStore()
	store := newMemSaveStore()
	svc := newSaveService(objects, store)

	userID := uuid.New()
	ctx := context.Background()

	if _, err := svc.Upload(ctx, userID, "chrono", []byte("data")); err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	signed, err := svc.FetchLatest(ctx, userID, "chrono")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if signed.DownloadURL == "" {
		t.Fatalf("expected a signed download url")
	}
	if signed.ExpiresIn != 3600 {
		t.Fatalf("signed url must expire in 3600s, got %d", signed.ExpiresIn)
	}
}

func TestRestoreToSandbox_NoSaveSendsNothing(t *testing.T) {
	svc := newSaveService(newMemObjectStore(), newMemSaveStore())
	target := &recordingInjector{}

	err := svc.RestoreToSandbox(context.Background(), uuid.New(), "chrono", target)
	if !errors.Is(err, domain.ErrSaveNotFound) {
		t.Fatalf("expected ErrSaveNotFound, got %v", err)
	}
	if len(target.snapshots) != 0 {
		t.Fatalf("sandbox must receive no restore message when no save exists")
	}
}

func TestRestoreToSandbox_InjectsStoredBytes(t *testing.T) {
	objects := newMemObjectStore()
	store := newMemSaveStore()
	svc := newSaveService(objects, store)

	userID := uuid.New()
	ctx := context.Background()
	snapshot := []byte{0x00, 0x42, 0xff, 0x10}

	if _, err := svc.Upload(ctx, userID, "chrono", snapshot); err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	target := &recordingInjector{}
	if err := svc.RestoreToSandbox(ctx, userID, "chrono", target); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if len(target.snapshots) != 1 || !bytes.Equal(target.snapshots[0], snapshot) {
		t.Fatalf("injected bytes must equal the stored snapshot")
	}
}

func TestDelete_RemovesBlobAndRecord(t *testing.T) {
	objects := newMemObjectStore()
	store := newMemSaveStore()
	svc := newSaveService(objects, store)

	userID := uuid.New()
	ctx := context.Background()

	if _, err := svc.Upload(ctx, userID, "chrono", []byte("data")); err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	save, err := store.GetSave(ctx, userID, "chrono")
	if err != nil {
		t.Fatalf("expected save record: %v", err)
	}

	if err := svc.Delete(ctx, userID, save.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if _, err := store.GetSave(ctx, userID, "chrono"); !errors.Is(err, domain.ErrSaveNotFound) {
		t.Fatalf("record must be gone after delete, got %v", err)
	}
	if len(objects.objects) != 0 {
		t.Fatalf("blob must be gone after delete")
	}
}
