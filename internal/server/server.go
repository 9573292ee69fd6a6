package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fleetops/tollgate/internal/auth"
	"github.com/fleetops/tollgate/internal/model"
	"github.com/fleetops/tollgate/internal/ratelimit"
	"github.com/fleetops/tollgate/internal/service/compliance"
	"github.com/fleetops/tollgate/internal/service/escalation"
	"github.com/fleetops/tollgate/internal/service/payout"
	"github.com/fleetops/tollgate/internal/storage"
)

// Server is the Tollgate HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
type ServerConfig struct {
	DB            *storage.DB
	JWTMgr        *auth.JWTManager
	EscalationSvc *escalation.Service
	PayoutSvc     *payout.Service
	ComplianceSvc *compliance.Service
	Logger        *slog.Logger

	// Limiter throttles credential guessing on /auth/token. Nil disables it.
	Limiter ratelimit.Limiter

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                  cfg.DB,
		JWTMgr:              cfg.JWTMgr,
		EscalationSvc:       cfg.EscalationSvc,
		PayoutSvc:           cfg.PayoutSvc,
		ComplianceSvc:       cfg.ComplianceSvc,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	// Role sets. Approvers are everyone who can sit in an escalation quorum
	// or work the payout queue; submitters additionally include ops.
	approvers := requireRole(model.RoleCEO, model.RoleCompliance, model.RoleFC, model.RoleGM)
	submitters := requireRole(model.RoleCEO, model.RoleCompliance, model.RoleFC, model.RoleGM, model.RoleOps)
	unlockers := requireRole(model.RoleCEO, model.RoleCompliance)

	// Token issuance is the only credential-guessing surface, so it gets an
	// IP-keyed rate limit.
	authRL := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc, func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	})

	mux := http.NewServeMux()

	// Auth (no bearer token required).
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	// Threshold validation and the escalation workflow.
	mux.Handle("POST /v1/thresholds/validate-cost", submitters(http.HandlerFunc(h.HandleValidateCost)))
	mux.Handle("GET /v1/thresholds/violations", approvers(http.HandlerFunc(h.HandleListViolations)))
	mux.Handle("GET /v1/thresholds/escalations", approvers(http.HandlerFunc(h.HandleListEscalations)))
	mux.Handle("GET /v1/thresholds/escalations/{id}", approvers(http.HandlerFunc(h.HandleGetEscalation)))
	mux.Handle("POST /v1/thresholds/escalations/{id}/approve-or-reject", approvers(http.HandlerFunc(h.HandleEscalationDecision)))
	mux.Handle("GET /v1/thresholds/pending-approvals", approvers(http.HandlerFunc(h.HandlePendingApprovals)))
	mux.Handle("GET /v1/thresholds/statistics", approvers(http.HandlerFunc(h.HandleThresholdStatistics)))

	// Payout lifecycle.
	mux.Handle("GET /v1/payouts/pending-confirmations", approvers(http.HandlerFunc(h.HandlePendingConfirmations)))
	mux.Handle("GET /v1/payouts/{id}", approvers(http.HandlerFunc(h.HandleGetPayout)))
	mux.Handle("POST /v1/payouts/{id}/mark-intent", approvers(http.HandlerFunc(h.HandleMarkIntent)))
	mux.Handle("POST /v1/payouts/{id}/approve", approvers(http.HandlerFunc(h.HandleApprovePayout)))
	mux.Handle("POST /v1/payouts/{id}/reject", approvers(http.HandlerFunc(h.HandleRejectPayout)))
	mux.Handle("POST /v1/payouts/{id}/hold", approvers(http.HandlerFunc(h.HandleHoldPayout)))
	mux.Handle("POST /v1/payouts/{id}/release", approvers(http.HandlerFunc(h.HandleReleasePayout)))
	mux.Handle("POST /v1/payouts/{id}/unlock", unlockers(http.HandlerFunc(h.HandleUnlockPayout)))
	mux.Handle("POST /v1/payouts/auto-revert", approvers(http.HandlerFunc(h.HandleAutoRevert)))

	// Compliance actions.
	mux.Handle("POST /v1/payouts/send-reminder", approvers(http.HandlerFunc(h.HandleSendReminder)))
	mux.Handle("POST /v1/payouts/trigger-escalation", approvers(http.HandlerFunc(h.HandleTriggerEscalation)))

	// Health (no auth).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Handlers returns the underlying Handlers for access to SeedBootstrapActor etc.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
