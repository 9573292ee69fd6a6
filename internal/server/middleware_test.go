package server

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/fleetops/tollgate/internal/auth"
	"github.com/fleetops/tollgate/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := requestIDMiddleware(inner)

	// Generated when absent.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))
	if seen == "" {
		t.Error("request ID not populated in context")
	}
	if rec.Header().Get("X-Request-ID") != seen {
		t.Errorf("response header %q does not match context value %q", rec.Header().Get("X-Request-ID"), seen)
	}

	// Propagated when supplied by the caller.
	rec = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set("X-Request-ID", "req-123")
	handler.ServeHTTP(rec, req)
	if seen != "req-123" {
		t.Errorf("got request ID %q, want req-123", seen)
	}
}

func TestAuthMiddleware(t *testing.T) {
	mgr, err := auth.NewJWTManager("", "", time.Hour)
	if err != nil {
		t.Fatalf("new jwt manager: %v", err)
	}

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFromContext(r.Context())
		if claims == nil {
			t.Error("no claims in context after auth")
		}
		w.WriteHeader(http.StatusOK)
	})
	handler := requestIDMiddleware(authMiddleware(mgr, inner))

	t.Run("missing header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/thresholds/violations", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("got %d, want 401", rec.Code)
		}
	})

	t.Run("malformed header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/v1/thresholds/violations", nil)
		req.Header.Set("Authorization", "Token abc")
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("got %d, want 401", rec.Code)
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/v1/thresholds/violations", nil)
		req.Header.Set("Authorization", "Bearer not.a.jwt")
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("got %d, want 401", rec.Code)
		}
	})

	t.Run("valid token", func(t *testing.T) {
		token := issueTestToken(t, mgr, "fc-amina", model.RoleFC)
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/v1/thresholds/violations", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("got %d, want 200", rec.Code)
		}
	})

	t.Run("health skips auth", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("got %d, want 200", rec.Code)
		}
	})
}

func TestAuthMiddleware_AnnotatesSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))

	mgr, err := auth.NewJWTManager("", "", time.Hour)
	if err != nil {
		t.Fatalf("new jwt manager: %v", err)
	}

	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	// Same nesting as the real chain: tracing outside auth, so the span is in
	// the context by the time the token is validated.
	handler := requestIDMiddleware(tracingMiddleware(authMiddleware(mgr, inner)))

	token := issueTestToken(t, mgr, "fc-amina", model.RoleFC)
	req := httptest.NewRequest("GET", "/v1/thresholds/violations", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	var gotActor, gotRole string
	for _, attr := range spans[0].Attributes() {
		switch string(attr.Key) {
		case "tollgate.actor_id":
			gotActor = attr.Value.AsString()
		case "tollgate.role":
			gotRole = attr.Value.AsString()
		}
	}
	if gotActor != "fc-amina" {
		t.Errorf("span actor_id = %q, want fc-amina", gotActor)
	}
	if gotRole != string(model.RoleFC) {
		t.Errorf("span role = %q, want %s", gotRole, model.RoleFC)
	}
}

func TestRequireRole(t *testing.T) {
	mgr, err := auth.NewJWTManager("", "", time.Hour)
	if err != nil {
		t.Fatalf("new jwt manager: %v", err)
	}

	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	approvers := requireRole(model.RoleCEO, model.RoleCompliance, model.RoleFC, model.RoleGM)
	handler := requestIDMiddleware(authMiddleware(mgr, approvers(inner)))

	cases := []struct {
		role model.Role
		want int
	}{
		{model.RoleCEO, http.StatusOK},
		{model.RoleGM, http.StatusOK},
		{model.RoleFC, http.StatusOK},
		{model.RoleCompliance, http.StatusOK},
		{model.RoleOps, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(string(tc.role), func(t *testing.T) {
			token := issueTestToken(t, mgr, string(tc.role)+"-user", tc.role)
			rec := httptest.NewRecorder()
			req := httptest.NewRequest("GET", "/v1/thresholds/violations", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Errorf("role %s: got %d, want %d", tc.role, rec.Code, tc.want)
			}
		})
	}

	t.Run("no claims", func(t *testing.T) {
		rec := httptest.NewRecorder()
		requestIDMiddleware(approvers(inner)).ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("got %d, want 401", rec.Code)
		}
	})
}

func TestRecoveryMiddleware(t *testing.T) {
	inner := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	handler := requestIDMiddleware(recoveryMiddleware(testLogger(), inner))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("got %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), model.ErrCodeInternalError) {
		t.Errorf("body missing error code: %s", rec.Body.String())
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rec := httptest.NewRecorder()
	securityHeadersMiddleware(inner).ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing X-Content-Type-Options header")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("missing X-Frame-Options header")
	}
}

func TestDecodeJSON_BodyLimit(t *testing.T) {
	var target struct {
		Message string `json:"message"`
	}
	body := `{"message": "` + strings.Repeat("a", 100) + `"}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/x", strings.NewReader(body))

	err := decodeJSON(rec, req, &target, 16)
	if err == nil {
		t.Fatal("expected error for oversized body")
	}
	handleDecodeError(rec, req, err)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("got %d, want 413", rec.Code)
	}
}

func TestDecodeJSON_UnknownField(t *testing.T) {
	var target struct {
		Message string `json:"message"`
	}
	req := httptest.NewRequest("POST", "/x", strings.NewReader(`{"message":"hi","extra":1}`))
	if err := decodeJSON(httptest.NewRecorder(), req, &target, 1024); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func issueTestToken(t *testing.T, mgr *auth.JWTManager, actorID string, role model.Role) string {
	t.Helper()
	token, _, err := mgr.IssueToken(model.Actor{
		ID:      uuid.New(),
		ActorID: actorID,
		Role:    role,
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}
