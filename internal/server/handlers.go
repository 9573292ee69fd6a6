package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/fleetops/tollgate/internal/auth"
	"github.com/fleetops/tollgate/internal/model"
	"github.com/fleetops/tollgate/internal/service/compliance"
	"github.com/fleetops/tollgate/internal/service/escalation"
	"github.com/fleetops/tollgate/internal/service/payout"
	"github.com/fleetops/tollgate/internal/storage"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db                  *storage.DB
	jwtMgr              *auth.JWTManager
	escalationSvc       *escalation.Service
	payoutSvc           *payout.Service
	complianceSvc       *compliance.Service
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
type HandlersDeps struct {
	DB                  *storage.DB
	JWTMgr              *auth.JWTManager
	EscalationSvc       *escalation.Service
	PayoutSvc           *payout.Service
	ComplianceSvc       *compliance.Service
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		db:                  d.DB,
		jwtMgr:              d.JWTMgr,
		escalationSvc:       d.EscalationSvc,
		payoutSvc:           d.PayoutSvc,
		complianceSvc:       d.ComplianceSvc,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	pg := "ok"
	status := "ok"
	if err := h.db.Ping(r.Context()); err != nil {
		pg = "unreachable"
		status = "degraded"
	}
	writeJSON(w, r, http.StatusOK, model.HealthResponse{
		Status:   status,
		Version:  h.version,
		Postgres: pg,
		Uptime:   int64(time.Since(h.startedAt).Seconds()),
	})
}

// HandleAuthToken handles POST /auth/token. Exchanges an actor_id and API key
// for a short-lived JWT.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.ActorID == "" || req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "actor_id and api_key are required")
		return
	}

	actor, err := h.db.GetActorByActorID(r.Context(), req.ActorID)
	if err != nil || actor.APIKeyHash == nil {
		// Burn the same hashing cost as a real verification so response timing
		// does not reveal whether the actor exists.
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	valid, err := auth.VerifyAPIKey(req.APIKey, *actor.APIKeyHash)
	if err != nil || !valid {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(actor)
	if err != nil {
		h.writeInternalError(w, r, "failed to issue token", err)
		return
	}

	h.auditBestEffort(r, "token_issued", "auth_token", actor.ActorID, nil, nil, map[string]any{
		"ip":         r.RemoteAddr,
		"user_agent": r.UserAgent(),
		"token_exp":  expiresAt,
	})

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// SeedBootstrapActor creates a ceo actor from the configured bootstrap API key
// when the actors table is empty. Without it a fresh deployment has no way to
// obtain a first token.
func (h *Handlers) SeedBootstrapActor(ctx context.Context, apiKey string) error {
	if apiKey == "" {
		return nil
	}
	n, err := h.db.CountActors(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	hash, err := auth.HashAPIKey(apiKey)
	if err != nil {
		return err
	}
	actor, err := h.db.CreateActor(ctx, model.Actor{
		ActorID:    "bootstrap-ceo",
		Name:       "Bootstrap CEO",
		Role:       model.RoleCEO,
		APIKeyHash: &hash,
	})
	if err != nil {
		return err
	}
	h.logger.Info("bootstrap actor created", "actor_id", actor.ActorID, "role", actor.Role)
	return nil
}

// actorFromClaims resolves the authenticated actor for handlers that need
// more than the actor_id (e.g., recording decisions by actor UUID).
func (h *Handlers) actorFromClaims(r *http.Request) (model.Actor, error) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		return model.Actor{}, errors.New("no claims in context")
	}
	return h.db.GetActorByActorID(r.Context(), claims.ActorID)
}

// writeInternalError logs the error and writes a generic 500 response.
func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg,
		"error", err,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", RequestIDFromContext(r.Context()),
	)
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg)
}

// writeStorageError maps storage sentinel errors to API error responses.
func (h *Handlers) writeStorageError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "resource not found")
	case errors.Is(err, storage.ErrDuplicateDecision):
		writeError(w, r, http.StatusConflict, model.ErrCodeStateConflict, "approver has already decided on this escalation")
	case errors.Is(err, storage.ErrEscalationExpired):
		writeError(w, r, http.StatusConflict, model.ErrCodeStateConflict, "escalation has expired")
	case errors.Is(err, storage.ErrEscalationFinalized):
		writeError(w, r, http.StatusConflict, model.ErrCodeStateConflict, "escalation is already finalized")
	case errors.Is(err, storage.ErrRoleNotRequired):
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "your role is not part of the required approval quorum")
	case errors.Is(err, storage.ErrInvalidTransition):
		writeError(w, r, http.StatusConflict, model.ErrCodeStateConflict, "payout status does not allow this transition")
	case errors.Is(err, storage.ErrStaleState):
		writeError(w, r, http.StatusConflict, model.ErrCodeStateConflict, "payout was modified concurrently, re-fetch and retry")
	default:
		h.writeInternalError(w, r, "storage operation failed", err)
	}
}

// auditBestEffort appends an audit entry outside the request transaction.
// Failure to audit is logged but never blocks the response.
func (h *Handlers) auditBestEffort(r *http.Request, operation, resourceType, resourceID string, before, after any, metadata map[string]any) {
	claims := ClaimsFromContext(r.Context())
	actorID := "anonymous"
	actorRole := "none"
	if claims != nil {
		actorID = claims.ActorID
		actorRole = string(claims.Role)
	}
	entry := storage.AuditEntry{
		RequestID:    RequestIDFromContext(r.Context()),
		ActorID:      actorID,
		ActorRole:    actorRole,
		HTTPMethod:   r.Method,
		Endpoint:     r.URL.Path,
		Operation:    operation,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		BeforeData:   before,
		AfterData:    after,
		Metadata:     metadata,
	}

	// Detached context: the audit write must survive the request being cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.db.InsertAuditEntry(ctx, entry); err != nil {
		h.logger.Error("audit write failed",
			"operation", operation,
			"resource_id", resourceID,
			"error", err,
		)
	}
}
