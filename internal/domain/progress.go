package domain

import (
	"time"

	"github.com/google/uuid"
)

// ConsoleType identifies the emulated platform a game runs on
type ConsoleType string

const (
	ConsoleSNES      ConsoleType = "SNES"
	ConsoleGBA       ConsoleType = "GBA"
	ConsoleMegaDrive ConsoleType = "MEGA_DRIVE"
)

// Valid reports whether the console type is one of the supported platforms
func (c ConsoleType) Valid() bool {
	switch c {
	case ConsoleSNES, ConsoleGBA, ConsoleMegaDrive:
		return true
	}
	return false
}

// MetricType is the category of lifetime counter an achievement
// threshold is evaluated against
type MetricType string

const (
	MetricTotalTime         MetricType = "TOTAL_TIME"
	MetricGamesPlayed       MetricType = "GAMES_PLAYED"
	MetricFavorites         MetricType = "FAVORITES"
	MetricSavesMade         MetricType = "SAVES_MADE"
	MetricPlatformSNES      MetricType = "PLATFORM_SNES"
	MetricPlatformGBA       MetricType = "PLATFORM_GBA"
	MetricPlatformMegaDrive MetricType = "PLATFORM_MEGA_DRIVE"
)

// PlayerProfile holds per-user display metadata and the lifetime
// playtime counter. The counter only grows, and only through the
// heartbeat path.
type PlayerProfile struct {
	ID                   uuid.UUID `json:"id"`
	Username             string    `json:"username"`
	AvatarURL            string    `json:"avatar_url,omitempty"`
	TotalPlaytimeSeconds int64     `json:"total_playtime_seconds"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// GameSession is an immutable play-start fact. Multiple rows may exist
// per (user, game); distinct-game counts must deduplicate by game ID.
type GameSession struct {
	ID          int64       `json:"id"`
	UserID      uuid.UUID   `json:"user_id"`
	GameID      string      `json:"game_id"`
	ConsoleType ConsoleType `json:"console_type"`
	StartedAt   time.Time   `json:"started_at"`
}

// SaveRecord points at the latest save snapshot for a (user, game)
// pair. At most one live row per pair; writes are upserts.
type SaveRecord struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	GameID       string    `json:"game_id"`
	SaveFileRef  string    `json:"-"`
	LastPlayedAt time.Time `json:"last_played_at"`
}

// FavoriteRecord marks a game as favorited by a user
type FavoriteRecord struct {
	ID        int64     `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	GameID    string    `json:"game_id"`
	CreatedAt time.Time `json:"created_at"`
}

// AchievementDefinition is a static catalog entry. The catalog is
// trusted external configuration and read-only to this service.
type AchievementDefinition struct {
	ID          uuid.UUID  `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	MetricType  MetricType `json:"metric_type"`
	Threshold   int64      `json:"threshold"`
}

// UnlockRecord is a (user, achievement) unlock fact. The store's
// primary key guarantees at most one row per pair.
type UnlockRecord struct {
	UserID        uuid.UUID `json:"user_id"`
	AchievementID uuid.UUID `json:"achievement_id"`
	UnlockedAt    time.Time `json:"unlocked_at"`
	IsFeatured    bool      `json:"is_featured"`
}

// AchievementStatus is a catalog entry joined with the caller's unlock
// state, for the achievements listing
type AchievementStatus struct {
	AchievementDefinition
	Unlocked   bool       `json:"unlocked"`
	UnlockedAt *time.Time `json:"unlocked_at,omitempty"`
	IsFeatured bool       `json:"is_featured"`
}

// TelemetryTotals are the aggregate values the rule engine evaluates
// thresholds against. All of them are monotone lifetime counters or
// monotone distinct-set sizes, except favorites which may shrink.
type TelemetryTotals struct {
	PlaytimeSeconds int64
	GamesPlayed     int64
	Favorites       int64
	SavesMade       int64
	PlatformGames   map[ConsoleType]int64
}

// PlaytimeMinutes returns the whole minutes played, the unit
// TOTAL_TIME thresholds are declared in
func (t TelemetryTotals) PlaytimeMinutes() int64 {
	return t.PlaytimeSeconds / 60
}

// TelemetryEvent is the wire format for telemetry ingested from the
// event stream instead of the HTTP surface
type TelemetryEvent struct {
	UserID      uuid.UUID   `json:"user_id"`
	GameID      string      `json:"game_id,omitempty"`
	ConsoleType ConsoleType `json:"console_type,omitempty"`
	EventType   string      `json:"event_type"`
	Seconds     int64       `json:"seconds,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// Telemetry event types
const (
	EventHeartbeat    = "heartbeat"
	EventSessionStart = "session_start"
)

// SignedSave is a time-limited download grant for a save snapshot. The
// underlying storage path is never exposed to the client.
type SignedSave struct {
	DownloadURL string `json:"download_url"`
	ExpiresIn   int64  `json:"expires_in"`
}

// FeaturedSlots is the maximum number of unlocks a user may feature at
// once
const FeaturedSlots = 3
