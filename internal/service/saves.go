package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arcade-sync/internal/cache"
	"github.com/arcade-sync/internal/domain"
)

// SaveStore is the telemetry-store surface the save service writes
// save pointers through
type SaveStore interface {
	UpsertSave(ctx context.Context, userID uuid.UUID, gameID, fileRef string) error
	GetSave(ctx context.Context, userID uuid.UUID, gameID string) (*domain.SaveRecord, error)
	GetSaveByID(ctx context.Context, userID, saveID uuid.UUID) (*domain.SaveRecord, error)
	ListSaves(ctx context.Context, userID uuid.UUID) ([]domain.SaveRecord, error)
	DeleteSave(ctx context.Context, userID, saveID uuid.UUID) error
}

// ObjectStore is the blob storage surface for save snapshots
type ObjectStore interface {
	Put(ctx context.Context, userID uuid.UUID, gameID string, snapshot []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	PresignedGet(ctx context.Context, key string) (string, time.Duration, error)
	Remove(ctx context.Context, key string) error
}

// Evaluator re-runs the achievement rules after telemetry mutations
type Evaluator interface {
	Evaluate(ctx context.Context, userID uuid.UUID) ([]string, error)
}

// ViewCache caches rendered view payloads and drops them after
// successful mutations
type ViewCache interface {
	Get(ctx context.Context, name string, userID uuid.UUID) ([]byte, error)
	Set(ctx context.Context, name string, userID uuid.UUID, payload []byte) error
	Invalidate(ctx context.Context, userID uuid.UUID, views ...string)
}

// Injector delivers a snapshot into a running sandbox. Injection is
// fire-and-forget; an error only means the sandbox cannot accept a
// restore at all.
type Injector interface {
	Inject(snapshot []byte) error
}

// SaveService round-trips binary snapshots between the sandbox bridge
// and the backing stores
type SaveService struct {
	objects ObjectStore
	store   SaveStore
	engine  Evaluator
	views   ViewCache
	logger  *slog.Logger
}

// NewSaveService creates a new save synchronization service
func NewSaveService(objects ObjectStore, store SaveStore, engine Evaluator, views ViewCache, logger *slog.Logger) *SaveService {
	return &SaveService{
		objects: objects,
		store:   store,
		engine:  engine,
		views:   views,
		logger:  logger,
	}
}

// Upload writes the snapshot to the object store and upserts the save
// pointer. The two writes are not atomic: a blob written without a
// record is an accepted inconsistency the next save overwrites. Returns
// titles of achievements newly unlocked by the save.
func (s *SaveService) Upload(ctx context.Context, userID uuid.UUID, gameID string, snapshot []byte) ([]string, error) {
	if userID == uuid.Nil {
		return nil, domain.ErrAuthRequired
	}
	if gameID == "" || len(snapshot) == 0 {
		return nil, domain.ErrInvalidRequest
	}

	key, err := s.objects.Put(ctx, userID, gameID, snapshot)
	if err != nil {
		s.logger.Error("snapshot upload failed", "user_id", userID, "game_id", gameID, "error", err)
		return nil, fmt.Errorf("%w: %s", domain.ErrStorageFailure, "upload failed")
	}

	if err := s.store.UpsertSave(ctx, userID, gameID, key); err != nil {
		return nil, fmt.Errorf("recording save: %w", err)
	}

	s.views.Invalidate(ctx, userID, cache.ViewLibrary, cache.ViewProfile)

	titles, err := s.engine.Evaluate(ctx, userID)
	if err != nil {
		// The save itself succeeded; a failed evaluation only costs
		// the notification, the next mutation re-evaluates
		s.logger.Warn("achievement evaluation failed after save", "user_id", userID, "error", err)
		return nil, nil
	}
	if len(titles) > 0 {
		s.views.Invalidate(ctx, userID, cache.ViewAchievements)
	}
	return titles, nil
}

// FetchLatest returns a signed, time-limited download URL for the
// latest save of (user, game). The raw storage path never leaves the
// service.
func (s *SaveService) FetchLatest(ctx context.Context, userID uuid.UUID, gameID string) (*domain.SignedSave, error) {
	if userID == uuid.Nil {
		return nil, domain.ErrAuthRequired
	}

	save, err := s.store.GetSave(ctx, userID, gameID)
	if err != nil {
		return nil, err
	}

	url, ttl, err := s.objects.PresignedGet(ctx, save.SaveFileRef)
	if err != nil {
		s.logger.Error("signing download url failed", "user_id", userID, "game_id", gameID, "error", err)
		return nil, fmt.Errorf("%w: %s", domain.ErrStorageFailure, "signing failed")
	}

	return &domain.SignedSave{
		DownloadURL: url,
		ExpiresIn:   int64(ttl.Seconds()),
	}, nil
}

// RestoreToSandbox downloads the latest snapshot for (user, game) and
// injects it into the given sandbox session. When no save exists the
// sandbox receives no message at all.
func (s *SaveService) RestoreToSandbox(ctx context.Context, userID uuid.UUID, gameID string, target Injector) error {
	if userID == uuid.Nil {
		return domain.ErrAuthRequired
	}

	save, err := s.store.GetSave(ctx, userID, gameID)
	if err != nil {
		return err
	}

	snapshot, err := s.objects.Get(ctx, save.SaveFileRef)
	if err != nil {
		s.logger.Error("snapshot download failed", "user_id", userID, "game_id", gameID, "error", err)
		return fmt.Errorf("%w: %s", domain.ErrStorageFailure, "download failed")
	}

	return target.Inject(snapshot)
}

// ListSaves returns the user's save records for the profile shelf,
// served from the library view cache when fresh
func (s *SaveService) ListSaves(ctx context.Context, userID uuid.UUID) ([]domain.SaveRecord, error) {
	if userID == uuid.Nil {
		return nil, domain.ErrAuthRequired
	}

	if payload, err := s.views.Get(ctx, cache.ViewLibrary, userID); err == nil && payload != nil {
		var records []domain.SaveRecord
		if err := json.Unmarshal(payload, &records); err == nil {
			return records, nil
		}
	}

	records, err := s.store.ListSaves(ctx, userID)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(records); err == nil {
		if err := s.views.Set(ctx, cache.ViewLibrary, userID, payload); err != nil {
			s.logger.Warn("failed to cache library view", "user_id", userID, "error", err)
		}
	}
	return records, nil
}

// Delete removes a save blob and its record. The blob is removed first;
// if the record delete then fails the pointer still resolves nowhere
// worse than a missing object.
func (s *SaveService) Delete(ctx context.Context, userID, saveID uuid.UUID) error {
	if userID == uuid.Nil {
		return domain.ErrAuthRequired
	}

	save, err := s.store.GetSaveByID(ctx, userID, saveID)
	if err != nil {
		return err
	}

	if err := s.objects.Remove(ctx, save.SaveFileRef); err != nil {
		s.logger.Warn("failed to remove snapshot blob", "save_id", saveID, "error", err)
		// The record delete still proceeds; the orphan sweep picks up
		// the blob later
	}

	if err := s.store.DeleteSave(ctx, userID, saveID); err != nil {
		if errors.Is(err, domain.ErrSaveNotFound) {
			return err
		}
		return fmt.Errorf("deleting save record: %w", err)
	}

	s.views.Invalidate(ctx, userID, cache.ViewLibrary, cache.ViewProfile)
	return nil
}
