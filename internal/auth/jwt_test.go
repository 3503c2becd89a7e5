package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMiddleware_ValidTokenAttachesUser(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret", 15*time.Minute)
	userID := uuid.New()

	token, err := jwtAuth.GenerateToken(userID)
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}

	var gotUser uuid.UUID
	handler := jwtAuth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = GetUserID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotUser != userID {
		t.Fatalf("expected user %s in context, got %s", userID, gotUser)
	}
}

func TestMiddleware_MissingTokenRejected(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret", 15*time.Minute)

	handler := jwtAuth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run without a token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMiddleware_ExpiredTokenRejected(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret", -1*time.Minute)

	token, err := jwtAuth.GenerateToken(uuid.New())
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}

	handler := jwtAuth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run with an expired token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestOptional_GuestPassesThrough(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret", 15*time.Minute)

	var gotUser uuid.UUID
	handler := jwtAuth.Optional(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = GetUserID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("guests must pass through, got %d", rec.Code)
	}
	if gotUser != uuid.Nil {
		t.Fatalf("guest context must carry the nil user, got %s", gotUser)
	}
}

func TestOptional_QueryTokenAccepted(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret", 15*time.Minute)
	userID := uuid.New()

	token, err := jwtAuth.GenerateToken(userID)
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}

	var gotUser uuid.UUID
	handler := jwtAuth.Optional(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = GetUserID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/?token="+token, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if gotUser != userID {
		t.Fatalf("query token must authenticate, got %s", gotUser)
	}
}
