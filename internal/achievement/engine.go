package achievement

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/arcade-sync/internal/domain"
)

// Store is the telemetry-store surface the engine evaluates against
type Store interface {
	TelemetryTotals(ctx context.Context, userID uuid.UUID) (domain.TelemetryTotals, error)
	ListAchievements(ctx context.Context) ([]domain.AchievementDefinition, error)
	ListUnlockedIDs(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]bool, error)
	InsertUnlock(ctx context.Context, userID, achievementID uuid.UUID) (bool, error)
}

// Engine evaluates accumulated play telemetry against the declarative
// achievement catalog and records unlocks. Evaluation is deterministic
// and idempotent; it is safe to call after every telemetry mutation.
type Engine struct {
	store  Store
	logger *slog.Logger
}

// NewEngine creates a new rule engine
func NewEngine(store Store, logger *slog.Logger) *Engine {
	return &Engine{
		store:  store,
		logger: logger,
	}
}

// Evaluate computes current aggregates, tests every not-yet-unlocked
// catalog entry against its threshold, records new unlocks and returns
// their titles in catalog order. An unlock lost to a concurrent
// evaluation is not reported as new.
func (e *Engine) Evaluate(ctx context.Context, userID uuid.UUID) ([]string, error) {
	totals, err := e.store.TelemetryTotals(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("computing telemetry totals: %w", err)
	}

	catalog, err := e.store.ListAchievements(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading achievement catalog: %w", err)
	}

	unlocked, err := e.store.ListUnlockedIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading unlocked set: %w", err)
	}

	var newTitles []string
	for _, def := range catalog {
		if unlocked[def.ID] {
			continue
		}

		value, known := metricValue(totals, def.MetricType)
		if !known {
			e.logger.Warn("unknown achievement metric type, skipping",
				"metric_type", def.MetricType,
				"achievement_id", def.ID,
			)
			continue
		}

		if value < def.Threshold {
			continue
		}

		inserted, err := e.store.InsertUnlock(ctx, userID, def.ID)
		if err != nil {
			e.logger.Error("failed to record unlock",
				"achievement_id", def.ID,
				"title", def.Title,
				"error", err,
			)
			continue
		}
		if !inserted {
			// A concurrent evaluation already unlocked it
			continue
		}

		e.logger.Info("achievement unlocked",
			"user_id", userID,
			"title", def.Title,
		)
		newTitles = append(newTitles, def.Title)
	}

	return newTitles, nil
}

// metricValue selects the aggregate for a metric type. Unknown types
// return known=false so forward-compatible catalog additions never
// break evaluation.
func metricValue(totals domain.TelemetryTotals, metric domain.MetricType) (int64, bool) {
	switch metric {
	case domain.MetricTotalTime:
		return totals.PlaytimeMinutes(), true
	case domain.MetricGamesPlayed:
		return totals.GamesPlayed, true
	case domain.MetricFavorites:
		return totals.Favorites, true
	case domain.MetricSavesMade:
		return totals.SavesMade, true
	case domain.MetricPlatformSNES:
		return totals.PlatformGames[domain.ConsoleSNES], true
	case domain.MetricPlatformGBA:
		return totals.PlatformGames[domain.ConsoleGBA], true
	case domain.MetricPlatformMegaDrive:
		return totals.PlatformGames[domain.ConsoleMegaDrive], true
	default:
		return 0, false
	}
}
