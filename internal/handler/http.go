package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/arcade-sync/internal/auth"
	"github.com/arcade-sync/internal/domain"
	"github.com/arcade-sync/internal/service"
)

// SaveAPI is the save-sync surface the handler exposes
type SaveAPI interface {
	Upload(ctx context.Context, userID uuid.UUID, gameID string, snapshot []byte) ([]string, error)
	FetchLatest(ctx context.Context, userID uuid.UUID, gameID string) (*domain.SignedSave, error)
	RestoreToSandbox(ctx context.Context, userID uuid.UUID, gameID string, target service.Injector) error
	ListSaves(ctx context.Context, userID uuid.UUID) ([]domain.SaveRecord, error)
	Delete(ctx context.Context, userID, saveID uuid.UUID) error
}

// TelemetryAPI is the telemetry surface the handler exposes
type TelemetryAPI interface {
	ToggleFavorite(ctx context.Context, userID uuid.UUID, gameID string) (*service.FavoriteResult, error)
	TrackSession(ctx context.Context, userID uuid.UUID, gameID string, consoleType domain.ConsoleType) ([]string, error)
	IncrementPlaytime(ctx context.Context, userID uuid.UUID, seconds int64) (*service.PlaytimeResult, error)
	ToggleFeatured(ctx context.Context, userID, achievementID uuid.UUID) (*service.FeaturedResult, error)
	ListAchievements(ctx context.Context, userID uuid.UUID) ([]domain.AchievementStatus, error)
}

// Bridge is the websocket entry point and the lookup for the restore
// endpoint's injection target
type Bridge interface {
	ServeWS(w http.ResponseWriter, r *http.Request, userID uuid.UUID)
	SessionFor(userID uuid.UUID, gameID string) service.Injector
	ActiveSessions() int
}

// Handler provides HTTP handlers for the progress API
type Handler struct {
	saves            SaveAPI
	telemetry        TelemetryAPI
	bridge           Bridge
	jwtAuth          *auth.JWTAuth
	maxSnapshotBytes int64
	logger           *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(saves SaveAPI, telemetry TelemetryAPI, bridge Bridge, jwtAuth *auth.JWTAuth, maxSnapshotBytes int64, logger *slog.Logger) *Handler {
	return &Handler{
		saves:            saves,
		telemetry:        telemetry,
		bridge:           bridge,
		jwtAuth:          jwtAuth,
		maxSnapshotBytes: maxSnapshotBytes,
		logger:           logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Prompt  string      `json:"prompt,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint; guests may connect, so auth is optional here
	r.Group(func(r chi.Router) {
		r.Use(h.jwtAuth.Optional)
		r.Get("/ws", h.HandleWebSocket)
	})

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.jwtAuth.Optional)

		r.Post("/games/{gameID}/favorite", h.ToggleFavorite)
		r.Post("/sessions", h.TrackSession)
		r.Post("/playtime", h.IncrementPlaytime)

		r.Route("/saves", func(r chi.Router) {
			r.Get("/", h.ListSaves)
			r.Post("/{gameID}", h.UploadSave)
			r.Get("/{gameID}/latest", h.FetchLatestSave)
			r.Post("/{gameID}/restore", h.RestoreSave)
			r.Delete("/{saveID}", h.DeleteSave)
		})

		r.Route("/achievements", func(r chi.Router) {
			r.Get("/", h.ListAchievements)
			r.Post("/{achievementID}/featured", h.ToggleFeatured)
		})

		r.Get("/ws/stats", h.GetBridgeStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError maps a domain error onto the response envelope. Guests get
// the account prompt the page turns into a sign-up dialog.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	resp := APIResponse{Success: false, Error: err.Error()}

	var status int
	switch {
	case errors.Is(err, domain.ErrAuthRequired):
		status = http.StatusUnauthorized
		resp.Prompt = "create_account"
	case domain.IsNotFoundError(err):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrFeaturedLimit),
		errors.Is(err, domain.ErrSandboxIncompatible):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrStorageFailure):
		status = http.StatusBadGateway
	case errors.Is(err, domain.ErrInvalidRequest):
		status = http.StatusBadRequest
	default:
		status = http.StatusInternalServerError
		resp.Error = domain.ErrInternalError.Error()
	}

	h.writeJSON(w, status, resp)
}

// HandleWebSocket upgrades the request into a sandbox bridge session
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.bridge.ServeWS(w, r, auth.GetUserID(r.Context()))
}

// GetBridgeStats returns bridge connection statistics
func (h *Handler) GetBridgeStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"active_sessions": h.bridge.ActiveSessions(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// ToggleFavorite flips the favorite state for a game
func (h *Handler) ToggleFavorite(w http.ResponseWriter, r *http.Request) {
	result, err := h.telemetry.ToggleFavorite(r.Context(), auth.GetUserID(r.Context()), chi.URLParam(r, "gameID"))
	if err != nil {
		h.logServerError("toggle favorite", err)
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, result)
}

type sessionRequest struct {
	GameID      string             `json:"game_id"`
	ConsoleType domain.ConsoleType `json:"console_type"`
}

// TrackSession records a play-start fact
func (h *Handler) TrackSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.ErrInvalidRequest)
		return
	}

	titles, err := h.telemetry.TrackSession(r.Context(), auth.GetUserID(r.Context()), req.GameID, req.ConsoleType)
	if err != nil {
		h.logServerError("track session", err)
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]interface{}{"new_unlocks": titles})
}

type playtimeRequest struct {
	Seconds int64 `json:"seconds"`
}

// IncrementPlaytime applies a playtime heartbeat
func (h *Handler) IncrementPlaytime(w http.ResponseWriter, r *http.Request) {
	var req playtimeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.ErrInvalidRequest)
		return
	}

	result, err := h.telemetry.IncrementPlaytime(r.Context(), auth.GetUserID(r.Context()), req.Seconds)
	if err != nil {
		h.logServerError("increment playtime", err)
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, result)
}

// UploadSave accepts a raw snapshot body and persists it
func (h *Handler) UploadSave(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, h.maxSnapshotBytes)
	snapshot, err := io.ReadAll(body)
	if err != nil {
		h.writeError(w, domain.ErrInvalidRequest)
		return
	}

	titles, err := h.saves.Upload(r.Context(), auth.GetUserID(r.Context()), chi.URLParam(r, "gameID"), snapshot)
	if err != nil {
		h.logServerError("upload save", err)
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]interface{}{"new_unlocks": titles})
}

// FetchLatestSave returns a signed download URL for the latest save
func (h *Handler) FetchLatestSave(w http.ResponseWriter, r *http.Request) {
	signed, err := h.saves.FetchLatest(r.Context(), auth.GetUserID(r.Context()), chi.URLParam(r, "gameID"))
	if err != nil {
		h.logServerError("fetch latest save", err)
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, signed)
}

// RestoreSave pushes the caller's latest save into their running
// sandbox session for the game
func (h *Handler) RestoreSave(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserID(r.Context())
	if userID == uuid.Nil {
		h.writeError(w, domain.ErrAuthRequired)
		return
	}

	gameID := chi.URLParam(r, "gameID")
	target := h.bridge.SessionFor(userID, gameID)
	if target == nil {
		h.writeError(w, domain.ErrSandboxIncompatible)
		return
	}

	if err := h.saves.RestoreToSandbox(r.Context(), userID, gameID, target); err != nil {
		h.logServerError("restore save", err)
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "restored"})
}

// ListSaves returns the caller's save records
func (h *Handler) ListSaves(w http.ResponseWriter, r *http.Request) {
	saves, err := h.saves.ListSaves(r.Context(), auth.GetUserID(r.Context()))
	if err != nil {
		h.logServerError("list saves", err)
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, saves)
}

// DeleteSave removes a save blob and its record
func (h *Handler) DeleteSave(w http.ResponseWriter, r *http.Request) {
	saveID, err := uuid.Parse(chi.URLParam(r, "saveID"))
	if err != nil {
		h.writeError(w, domain.ErrInvalidRequest)
		return
	}

	if err := h.saves.Delete(r.Context(), auth.GetUserID(r.Context()), saveID); err != nil {
		h.logServerError("delete save", err)
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "deleted"})
}

// ListAchievements returns the catalog joined with the caller's unlocks
func (h *Handler) ListAchievements(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.telemetry.ListAchievements(r.Context(), auth.GetUserID(r.Context()))
	if err != nil {
		h.logServerError("list achievements", err)
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, statuses)
}

// ToggleFeatured flips the featured flag on an unlocked achievement
func (h *Handler) ToggleFeatured(w http.ResponseWriter, r *http.Request) {
	achievementID, err := uuid.Parse(chi.URLParam(r, "achievementID"))
	if err != nil {
		h.writeError(w, domain.ErrInvalidRequest)
		return
	}

	result, err := h.telemetry.ToggleFeatured(r.Context(), auth.GetUserID(r.Context()), achievementID)
	if err != nil {
		h.logServerError("toggle featured", err)
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, result)
}

// logServerError logs only errors the client cannot act on
func (h *Handler) logServerError(op string, err error) {
	switch {
	case errors.Is(err, domain.ErrAuthRequired),
		errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrFeaturedLimit),
		errors.Is(err, domain.ErrSandboxIncompatible),
		domain.IsNotFoundError(err):
		return
	}
	h.logger.Error("request failed", "op", op, "error", err)
}
