package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arcade-sync/internal/config"
	"github.com/arcade-sync/internal/domain"
)

// Repository provides PostgreSQL-based access to the telemetry store
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS profiles (
			id UUID PRIMARY KEY,
			username VARCHAR(64) NOT NULL,
			avatar_url TEXT,
			total_playtime_seconds BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS game_sessions (
			id BIGSERIAL PRIMARY KEY,
			user_id UUID NOT NULL,
			game_id VARCHAR(64) NOT NULL,
			console_type VARCHAR(20) NOT NULL,
			started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS user_saves (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id UUID NOT NULL,
			game_id VARCHAR(64) NOT NULL,
			save_file_ref TEXT NOT NULL,
			last_played_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(user_id, game_id)
		)`,
		`CREATE TABLE IF NOT EXISTS user_favorites (
			id BIGSERIAL PRIMARY KEY,
			user_id UUID NOT NULL,
			game_id VARCHAR(64) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(user_id, game_id)
		)`,
		`CREATE TABLE IF NOT EXISTS achievements (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			title VARCHAR(255) NOT NULL,
			description TEXT,
			metric_type VARCHAR(30) NOT NULL,
			threshold BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS user_achievements (
			user_id UUID NOT NULL,
			achievement_id UUID NOT NULL REFERENCES achievements(id),
			unlocked_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			is_featured BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY(user_id, achievement_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_game_sessions_user ON game_sessions(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_user_saves_user ON user_saves(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_user_achievements_featured ON user_achievements(user_id, is_featured)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// GetProfile retrieves a player profile by ID
func (r *Repository) GetProfile(ctx context.Context, userID uuid.UUID) (*domain.PlayerProfile, error) {
	query := `
		SELECT id, username, COALESCE(avatar_url, ''), total_playtime_seconds, updated_at
		FROM profiles
		WHERE id = $1
	`
	var profile domain.PlayerProfile
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&profile.ID,
		&profile.Username,
		&profile.AvatarURL,
		&profile.TotalPlaytimeSeconds,
		&profile.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProfileNotFound
		}
		return nil, fmt.Errorf("getting profile: %w", err)
	}
	return &profile, nil
}

// IncrementPlaytime adds seconds to the lifetime playtime counter and
// returns the new total. The counter never decreases.
func (r *Repository) IncrementPlaytime(ctx context.Context, userID uuid.UUID, seconds int64) (int64, error) {
	query := `
		UPDATE profiles
		SET total_playtime_seconds = total_playtime_seconds + $2,
		    updated_at = $3
		WHERE id = $1
		RETURNING total_playtime_seconds
	`
	var total int64
	err := r.pool.QueryRow(ctx, query, userID, seconds, time.Now()).Scan(&total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrProfileNotFound
		}
		return 0, fmt.Errorf("incrementing playtime: %w", err)
	}
	return total, nil
}

// InsertSession records an immutable play-start fact. No uniqueness is
// enforced; distinct-game metrics deduplicate at read time.
func (r *Repository) InsertSession(ctx context.Context, userID uuid.UUID, gameID string, consoleType domain.ConsoleType) error {
	query := `
		INSERT INTO game_sessions (user_id, game_id, console_type, started_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.pool.Exec(ctx, query, userID, gameID, string(consoleType), time.Now())
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// TelemetryTotals computes the aggregate values the rule engine
// evaluates thresholds against
func (r *Repository) TelemetryTotals(ctx context.Context, userID uuid.UUID) (domain.TelemetryTotals, error) {
	totals := domain.TelemetryTotals{
		PlatformGames: make(map[domain.ConsoleType]int64),
	}

	query := `SELECT COALESCE(total_playtime_seconds, 0) FROM profiles WHERE id = $1`
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&totals.PlaytimeSeconds); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return totals, fmt.Errorf("getting playtime: %w", err)
		}
	}

	query = `SELECT COUNT(DISTINCT game_id) FROM game_sessions WHERE user_id = $1`
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&totals.GamesPlayed); err != nil {
		return totals, fmt.Errorf("counting games played: %w", err)
	}

	query = `SELECT COUNT(*) FROM user_favorites WHERE user_id = $1`
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&totals.Favorites); err != nil {
		return totals, fmt.Errorf("counting favorites: %w", err)
	}

	query = `SELECT COUNT(*) FROM user_saves WHERE user_id = $1`
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&totals.SavesMade); err != nil {
		return totals, fmt.Errorf("counting saves: %w", err)
	}

	query = `
		SELECT console_type, COUNT(DISTINCT game_id)
		FROM game_sessions
		WHERE user_id = $1
		GROUP BY console_type
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return totals, fmt.Errorf("counting platform games: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var consoleType string
		var count int64
		if err := rows.Scan(&consoleType, &count); err != nil {
			return totals, fmt.Errorf("scanning platform count: %w", err)
		}
		totals.PlatformGames[domain.ConsoleType(consoleType)] = count
	}

	return totals, nil
}

// ToggleFavorite inserts or deletes the favorite row for (user, game)
// and returns the resulting favorite state
func (r *Repository) ToggleFavorite(ctx context.Context, userID uuid.UUID, gameID string) (bool, error) {
	query := `DELETE FROM user_favorites WHERE user_id = $1 AND game_id = $2`
	result, err := r.pool.Exec(ctx, query, userID, gameID)
	if err != nil {
		return false, fmt.Errorf("removing favorite: %w", err)
	}
	if result.RowsAffected() > 0 {
		return false, nil
	}

	query = `
		INSERT INTO user_favorites (user_id, game_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, game_id) DO NOTHING
	`
	if _, err := r.pool.Exec(ctx, query, userID, gameID, time.Now()); err != nil {
		return false, fmt.Errorf("adding favorite: %w", err)
	}
	return true, nil
}

// UpsertSave writes the save pointer for (user, game), updating the
// existing row when one exists. Last completed write wins.
func (r *Repository) UpsertSave(ctx context.Context, userID uuid.UUID, gameID, fileRef string) error {
	query := `
		INSERT INTO user_saves (user_id, game_id, save_file_ref, last_played_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, game_id)
		DO UPDATE SET save_file_ref = $3, last_played_at = $4
	`
	_, err := r.pool.Exec(ctx, query, userID, gameID, fileRef, time.Now())
	if err != nil {
		return fmt.Errorf("upserting save: %w", err)
	}
	return nil
}

// GetSave retrieves the save record for a (user, game) pair
func (r *Repository) GetSave(ctx context.Context, userID uuid.UUID, gameID string) (*domain.SaveRecord, error) {
	query := `
		SELECT id, user_id, game_id, save_file_ref, last_played_at
		FROM user_saves
		WHERE user_id = $1 AND game_id = $2
	`
	var save domain.SaveRecord
	err := r.pool.QueryRow(ctx, query, userID, gameID).Scan(
		&save.ID,
		&save.UserID,
		&save.GameID,
		&save.SaveFileRef,
		&save.LastPlayedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSaveNotFound
		}
		return nil, fmt.Errorf("getting save: %w", err)
	}
	return &save, nil
}

// GetSaveByID retrieves a save record owned by the given user
func (r *Repository) GetSaveByID(ctx context.Context, userID, saveID uuid.UUID) (*domain.SaveRecord, error) {
	query := `
		SELECT id, user_id, game_id, save_file_ref, last_played_at
		FROM user_saves
		WHERE id = $1 AND user_id = $2
	`
	var save domain.SaveRecord
	err := r.pool.QueryRow(ctx, query, saveID, userID).Scan(
		&save.ID,
		&save.UserID,
		&save.GameID,
		&save.SaveFileRef,
		&save.LastPlayedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSaveNotFound
		}
		return nil, fmt.Errorf("getting save by id: %w", err)
	}
	return &save, nil
}

// ListSaves retrieves all save records for a user, most recent first
func (r *Repository) ListSaves(ctx context.Context, userID uuid.UUID) ([]domain.SaveRecord, error) {
	query := `
		SELECT id, user_id, game_id, save_file_ref, last_played_at
		FROM user_saves
		WHERE user_id = $1
		ORDER BY last_played_at DESC
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("listing saves: %w", err)
	}
	defer rows.Close()

	var saves []domain.SaveRecord
	for rows.Next() {
		var save domain.SaveRecord
		err := rows.Scan(&save.ID, &save.UserID, &save.GameID, &save.SaveFileRef, &save.LastPlayedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning save: %w", err)
		}
		saves = append(saves, save)
	}
	return saves, nil
}

// DeleteSave removes a save record owned by the given user
func (r *Repository) DeleteSave(ctx context.Context, userID, saveID uuid.UUID) error {
	query := `DELETE FROM user_saves WHERE id = $1 AND user_id = $2`
	result, err := r.pool.Exec(ctx, query, saveID, userID)
	if err != nil {
		return fmt.Errorf("deleting save: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrSaveNotFound
	}
	return nil
}

// ListSaveRefs returns the set of live save file references for the
// orphan sweep
func (r *Repository) ListSaveRefs(ctx context.Context) (map[string]bool, error) {
	query := `SELECT save_file_ref FROM user_saves`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing save refs: %w", err)
	}
	defer rows.Close()

	refs := make(map[string]bool)
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("scanning save ref: %w", err)
		}
		refs[ref] = true
	}
	return refs, nil
}

// ListAchievements retrieves the full achievement catalog
func (r *Repository) ListAchievements(ctx context.Context) ([]domain.AchievementDefinition, error) {
	query := `
		SELECT id, title, COALESCE(description, ''), metric_type, threshold
		FROM achievements
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing achievements: %w", err)
	}
	defer rows.Close()

	var defs []domain.AchievementDefinition
	for rows.Next() {
		var def domain.AchievementDefinition
		err := rows.Scan(&def.ID, &def.Title, &def.Description, &def.MetricType, &def.Threshold)
		if err != nil {
			return nil, fmt.Errorf("scanning achievement: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// ListUnlockedIDs returns the set of achievement IDs the user has
// already unlocked
func (r *Repository) ListUnlockedIDs(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]bool, error) {
	query := `SELECT achievement_id FROM user_achievements WHERE user_id = $1`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("listing unlocks: %w", err)
	}
	defer rows.Close()

	unlocked := make(map[uuid.UUID]bool)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning unlock: %w", err)
		}
		unlocked[id] = true
	}
	return unlocked, nil
}

// InsertUnlock records an unlock and reports whether this call created
// the row. A concurrent evaluation winning the insert race is not an
// error; the primary key is the backstop.
func (r *Repository) InsertUnlock(ctx context.Context, userID, achievementID uuid.UUID) (bool, error) {
	query := `
		INSERT INTO user_achievements (user_id, achievement_id, unlocked_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, achievement_id) DO NOTHING
	`
	result, err := r.pool.Exec(ctx, query, userID, achievementID, time.Now())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return false, nil
		}
		return false, fmt.Errorf("inserting unlock: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// GetUnlock retrieves a single unlock record for the user
func (r *Repository) GetUnlock(ctx context.Context, userID, achievementID uuid.UUID) (*domain.UnlockRecord, error) {
	query := `
		SELECT user_id, achievement_id, unlocked_at, is_featured
		FROM user_achievements
		WHERE user_id = $1 AND achievement_id = $2
	`
	var unlock domain.UnlockRecord
	err := r.pool.QueryRow(ctx, query, userID, achievementID).Scan(
		&unlock.UserID,
		&unlock.AchievementID,
		&unlock.UnlockedAt,
		&unlock.IsFeatured,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotUnlocked
		}
		return nil, fmt.Errorf("getting unlock: %w", err)
	}
	return &unlock, nil
}

// CountFeatured returns the number of featured unlocks for a user.
// Callers must take a fresh count immediately before featuring.
func (r *Repository) CountFeatured(ctx context.Context, userID uuid.UUID) (int64, error) {
	query := `SELECT COUNT(*) FROM user_achievements WHERE user_id = $1 AND is_featured = TRUE`
	var count int64
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting featured: %w", err)
	}
	return count, nil
}

// SetFeatured updates the featured flag on an unlock record
func (r *Repository) SetFeatured(ctx context.Context, userID, achievementID uuid.UUID, featured bool) error {
	query := `
		UPDATE user_achievements
		SET is_featured = $3
		WHERE user_id = $1 AND achievement_id = $2
	`
	result, err := r.pool.Exec(ctx, query, userID, achievementID, featured)
	if err != nil {
		return fmt.Errorf("setting featured: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotUnlocked
	}
	return nil
}

// ListAchievementStatus returns the catalog joined with the user's
// unlock state, for the achievements page
func (r *Repository) ListAchievementStatus(ctx context.Context, userID uuid.UUID) ([]domain.AchievementStatus, error) {
	query := `
		SELECT a.id, a.title, COALESCE(a.description, ''), a.metric_type, a.threshold,
		       ua.unlocked_at, COALESCE(ua.is_featured, FALSE)
		FROM achievements a
		LEFT JOIN user_achievements ua
		  ON ua.achievement_id = a.id AND ua.user_id = $1
		ORDER BY a.title
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("listing achievement status: %w", err)
	}
	defer rows.Close()

	var statuses []domain.AchievementStatus
	for rows.Next() {
		var status domain.AchievementStatus
		var unlockedAt *time.Time
		err := rows.Scan(
			&status.ID,
			&status.Title,
			&status.Description,
			&status.MetricType,
			&status.Threshold,
			&unlockedAt,
			&status.IsFeatured,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning achievement status: %w", err)
		}
		status.Unlocked = unlockedAt != nil
		status.UnlockedAt = unlockedAt
		statuses = append(statuses, status)
	}
	return statuses, nil
}
