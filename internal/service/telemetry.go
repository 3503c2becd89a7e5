package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/arcade-sync/internal/cache"
	"github.com/arcade-sync/internal/domain"
)

// TelemetryStore is the telemetry-store surface for play facts and
// achievement state
type TelemetryStore interface {
	ToggleFavorite(ctx context.Context, userID uuid.UUID, gameID string) (bool, error)
	InsertSession(ctx context.Context, userID uuid.UUID, gameID string, consoleType domain.ConsoleType) error
	IncrementPlaytime(ctx context.Context, userID uuid.UUID, seconds int64) (int64, error)
	GetUnlock(ctx context.Context, userID, achievementID uuid.UUID) (*domain.UnlockRecord, error)
	CountFeatured(ctx context.Context, userID uuid.UUID) (int64, error)
	SetFeatured(ctx context.Context, userID, achievementID uuid.UUID, featured bool) error
	ListAchievementStatus(ctx context.Context, userID uuid.UUID) ([]domain.AchievementStatus, error)
}

// FavoriteResult is the outcome of a favorite toggle
type FavoriteResult struct {
	IsFavorite bool     `json:"is_favorite"`
	NewUnlocks []string `json:"new_unlocks,omitempty"`
}

// PlaytimeResult is the outcome of a playtime heartbeat
type PlaytimeResult struct {
	TotalSeconds int64    `json:"total_seconds"`
	NewUnlocks   []string `json:"new_unlocks,omitempty"`
}

// FeaturedResult is the outcome of a featured toggle
type FeaturedResult struct {
	IsFeatured bool `json:"is_featured"`
}

// TelemetryService owns every telemetry-mutating operation. Each
// mutation re-runs the rule engine and invalidates the affected views;
// evaluation is cheap and idempotent so redundant calls are harmless.
type TelemetryService struct {
	store  TelemetryStore
	engine Evaluator
	views  ViewCache
	logger *slog.Logger
}

// NewTelemetryService creates a new telemetry service
func NewTelemetryService(store TelemetryStore, engine Evaluator, views ViewCache, logger *slog.Logger) *TelemetryService {
	return &TelemetryService{
		store:  store,
		engine: engine,
		views:  views,
		logger: logger,
	}
}

// evaluate re-runs the rules, logging instead of failing the mutation
// that triggered it
func (s *TelemetryService) evaluate(ctx context.Context, userID uuid.UUID) []string {
	titles, err := s.engine.Evaluate(ctx, userID)
	if err != nil {
		s.logger.Warn("achievement evaluation failed", "user_id", userID, "error", err)
		return nil
	}
	if len(titles) > 0 {
		s.views.Invalidate(ctx, userID, cache.ViewAchievements)
	}
	return titles
}

// ToggleFavorite flips the favorite state for (user, game)
func (s *TelemetryService) ToggleFavorite(ctx context.Context, userID uuid.UUID, gameID string) (*FavoriteResult, error) {
	if userID == uuid.Nil {
		return nil, domain.ErrAuthRequired
	}
	if gameID == "" {
		return nil, domain.ErrInvalidRequest
	}

	isFavorite, err := s.store.ToggleFavorite(ctx, userID, gameID)
	if err != nil {
		return nil, fmt.Errorf("toggling favorite: %w", err)
	}

	s.views.Invalidate(ctx, userID, cache.ViewLibrary)

	return &FavoriteResult{
		IsFavorite: isFavorite,
		NewUnlocks: s.evaluate(ctx, userID),
	}, nil
}

// TrackSession records a play-start fact and returns any achievements
// it unlocked
func (s *TelemetryService) TrackSession(ctx context.Context, userID uuid.UUID, gameID string, consoleType domain.ConsoleType) ([]string, error) {
	if userID == uuid.Nil {
		return nil, domain.ErrAuthRequired
	}
	if gameID == "" || !consoleType.Valid() {
		return nil, domain.ErrInvalidRequest
	}

	if err := s.store.InsertSession(ctx, userID, gameID, consoleType); err != nil {
		return nil, fmt.Errorf("tracking session: %w", err)
	}

	return s.evaluate(ctx, userID), nil
}

// IncrementPlaytime adds heartbeat seconds to the lifetime counter
func (s *TelemetryService) IncrementPlaytime(ctx context.Context, userID uuid.UUID, seconds int64) (*PlaytimeResult, error) {
	if userID == uuid.Nil {
		return nil, domain.ErrAuthRequired
	}
	if seconds <= 0 {
		return nil, domain.ErrInvalidRequest
	}

	total, err := s.store.IncrementPlaytime(ctx, userID, seconds)
	if err != nil {
		return nil, err
	}

	s.views.Invalidate(ctx, userID, cache.ViewProfile)

	return &PlaytimeResult{
		TotalSeconds: total,
		NewUnlocks:   s.evaluate(ctx, userID),
	}, nil
}

// ToggleFeatured flips the featured flag on an unlocked achievement.
// Featuring requires a fresh featured count below the slot limit;
// unfeaturing is always allowed. Two concurrent toggles may transiently
// exceed the limit; a single well-behaved client path never does.
func (s *TelemetryService) ToggleFeatured(ctx context.Context, userID, achievementID uuid.UUID) (*FeaturedResult, error) {
	if userID == uuid.Nil {
		return nil, domain.ErrAuthRequired
	}

	unlock, err := s.store.GetUnlock(ctx, userID, achievementID)
	if err != nil {
		return nil, err
	}

	next := !unlock.IsFeatured
	if next {
		count, err := s.store.CountFeatured(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("counting featured: %w", err)
		}
		if count >= domain.FeaturedSlots {
			return nil, domain.ErrFeaturedLimit
		}
	}

	if err := s.store.SetFeatured(ctx, userID, achievementID, next); err != nil {
		return nil, err
	}

	s.views.Invalidate(ctx, userID, cache.ViewProfile, cache.ViewAchievements)

	return &FeaturedResult{IsFeatured: next}, nil
}

// ApplyHeartbeat applies a batched heartbeat from the telemetry stream.
// Unlock titles are discarded since no page is attached to display them;
// the unlocks themselves persist and show up on the next listing.
func (s *TelemetryService) ApplyHeartbeat(ctx context.Context, userID uuid.UUID, seconds int64) error {
	_, err := s.IncrementPlaytime(ctx, userID, seconds)
	return err
}

// ApplySessionStart applies a play-start fact from the telemetry stream
func (s *TelemetryService) ApplySessionStart(ctx context.Context, userID uuid.UUID, gameID string, consoleType domain.ConsoleType) error {
	_, err := s.TrackSession(ctx, userID, gameID, consoleType)
	return err
}

// ListAchievements returns the catalog joined with the caller's unlock
// state, served from the achievements view cache when fresh
func (s *TelemetryService) ListAchievements(ctx context.Context, userID uuid.UUID) ([]domain.AchievementStatus, error) {
	if userID == uuid.Nil {
		return nil, domain.ErrAuthRequired
	}

	if payload, err := s.views.Get(ctx, cache.ViewAchievements, userID); err == nil && payload != nil {
		var statuses []domain.AchievementStatus
		if err := json.Unmarshal(payload, &statuses); err == nil {
			return statuses, nil
		}
	}

	statuses, err := s.store.ListAchievementStatus(ctx, userID)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(statuses); err == nil {
		if err := s.views.Set(ctx, cache.ViewAchievements, userID, payload); err != nil {
			s.logger.Warn("failed to cache achievements view", "user_id", userID, "error", err)
		}
	}
	return statuses, nil
}
