package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fleetops/tollgate/internal/auth"
	"github.com/fleetops/tollgate/internal/model"
)

// newTestServer builds a server with real middleware but no backing services.
// Good enough for routing and access control tests; handler bodies that touch
// storage are covered by the service-level integration tests.
func newTestServer(t *testing.T) (*Server, *auth.JWTManager) {
	t.Helper()
	mgr, err := auth.NewJWTManager("", "", time.Hour)
	if err != nil {
		t.Fatalf("new jwt manager: %v", err)
	}
	srv := New(ServerConfig{
		JWTMgr:              mgr,
		Logger:              testLogger(),
		Port:                0,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
	})
	return srv, mgr
}

func TestRoutes_RequireAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	paths := []struct {
		method, path string
	}{
		{"POST", "/v1/thresholds/validate-cost"},
		{"GET", "/v1/thresholds/violations"},
		{"GET", "/v1/thresholds/escalations"},
		{"GET", "/v1/thresholds/pending-approvals"},
		{"GET", "/v1/thresholds/statistics"},
		{"GET", "/v1/payouts/pending-confirmations"},
		{"POST", "/v1/payouts/auto-revert"},
		{"POST", "/v1/payouts/send-reminder"},
		{"POST", "/v1/payouts/trigger-escalation"},
	}
	for _, p := range paths {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(p.method, p.path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without token: got %d, want 401", p.method, p.path, rec.Code)
		}
	}
}

func TestRoutes_OpsCannotApprove(t *testing.T) {
	srv, mgr := newTestServer(t)
	token := issueTestToken(t, mgr, "ops-kofi", model.RoleOps)

	// Ops submits costs but sits outside every approval surface.
	paths := []struct {
		method, path string
	}{
		{"GET", "/v1/thresholds/violations"},
		{"GET", "/v1/thresholds/pending-approvals"},
		{"GET", "/v1/payouts/pending-confirmations"},
		{"POST", "/v1/payouts/auto-revert"},
		{"POST", "/v1/payouts/0c7a3ed4-92b5-4f1e-9f58-0ff41a5a2f3b/hold"},
		{"POST", "/v1/payouts/0c7a3ed4-92b5-4f1e-9f58-0ff41a5a2f3b/release"},
	}
	for _, p := range paths {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(p.method, p.path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		srv.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Errorf("%s %s as ops: got %d, want 403", p.method, p.path, rec.Code)
		}
	}
}

func TestRoutes_UnlockRestrictedToCEOAndCompliance(t *testing.T) {
	srv, mgr := newTestServer(t)

	for _, tc := range []struct {
		role model.Role
		want int
	}{
		{model.RoleFC, http.StatusForbidden},
		{model.RoleGM, http.StatusForbidden},
		{model.RoleOps, http.StatusForbidden},
	} {
		token := issueTestToken(t, mgr, string(tc.role)+"-user", tc.role)
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/v1/payouts/0c7a3ed4-92b5-4f1e-9f58-0ff41a5a2f3b/unlock", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		srv.Handler().ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Errorf("unlock as %s: got %d, want %d", tc.role, rec.Code, tc.want)
		}
	}
}

func TestRoutes_UnknownPath(t *testing.T) {
	srv, mgr := newTestServer(t)
	token := issueTestToken(t, mgr, "gm-bilal", model.RoleGM)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/nope", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("got %d, want 404", rec.Code)
	}
}

func TestRoutes_ResponseCarriesRequestID(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/thresholds/violations", nil)
	req.Header.Set("X-Request-ID", "req-42")
	srv.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Errorf("got X-Request-ID %q, want req-42", got)
	}
}
