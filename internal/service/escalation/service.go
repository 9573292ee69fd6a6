// Package escalation provides the business logic for cost threshold
// validation and the escalation approval workflow.
//
// The HTTP handlers delegate to this service so that validation, violation
// creation, and quorum evaluation behave identically no matter which endpoint
// triggered them.
package escalation

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fleetops/tollgate/internal/model"
	"github.com/fleetops/tollgate/internal/policy"
	"github.com/fleetops/tollgate/internal/storage"
	"github.com/fleetops/tollgate/internal/telemetry"
)

const (
	decisionMaxRetries = 3
	decisionRetryDelay = 25 * time.Millisecond
)

// Service encapsulates threshold and escalation business logic.
type Service struct {
	db     *storage.DB
	policy *policy.Policy
	logger *slog.Logger

	violationsCreated metric.Int64Counter
	decisionsRecorded metric.Int64Counter
}

// New creates a new escalation Service.
func New(db *storage.DB, pol *policy.Policy, logger *slog.Logger) *Service {
	meter := telemetry.Meter("tollgate/escalation")
	violations, _ := meter.Int64Counter("tollgate.violations.created",
		metric.WithDescription("Threshold violations created"),
	)
	decisions, _ := meter.Int64Counter("tollgate.decisions.recorded",
		metric.WithDescription("Approval decisions recorded"),
	)
	return &Service{
		db:                db,
		policy:            pol,
		logger:            logger,
		violationsCreated: violations,
		decisionsRecorded: decisions,
	}
}

// ValidateCost checks a cost against the threshold table. A cost within its
// limit passes untouched. A cost over the limit creates a blocked violation
// and a pending escalation sized by the overage ratio, atomically.
func (s *Service) ValidateCost(ctx context.Context, req model.ValidateCostRequest, submittedBy string) (model.ValidateCostResponse, error) {
	ev, err := s.policy.Evaluate(req.CostType, req.Category, req.AmountCents)
	if err != nil {
		return model.ValidateCostResponse{}, err
	}

	resp := model.ValidateCostResponse{
		WithinLimit:  ev.WithinLimit,
		LimitCents:   ev.LimitCents,
		OverageCents: ev.OverageCents,
	}
	if ev.WithinLimit {
		return resp, nil
	}

	quorum := s.policy.QuorumFor(ev.OverageCents, ev.LimitCents)
	v := model.ThresholdViolation{
		CostType:     req.CostType,
		Category:     req.Category,
		AmountCents:  req.AmountCents,
		LimitCents:   ev.LimitCents,
		OverageCents: ev.OverageCents,
		Reference:    req.Reference,
		CreatedBy:    submittedBy,
	}
	e := model.EscalationRequest{
		AmountRequestedCents: req.AmountCents,
		Priority:             quorum.Priority,
		RequiredRoles:        quorum.RequiredRoles,
		ExpiresAt:            time.Now().UTC().Add(quorum.TTL),
	}

	v, e, err = s.db.CreateViolationWithEscalation(ctx, v, e)
	if err != nil {
		return model.ValidateCostResponse{}, err
	}

	s.violationsCreated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cost_type", string(req.CostType)),
		attribute.String("priority", string(quorum.Priority)),
	))
	s.logger.Info("threshold violation created",
		"violation_id", v.ID,
		"escalation_id", e.ID,
		"cost_type", req.CostType,
		"overage_cents", ev.OverageCents,
		"priority", quorum.Priority,
		"required_roles", quorum.RequiredRoles.Strings(),
	)

	resp.Violation = &v
	resp.Escalation = &e
	return resp, nil
}

// Decide records one approver's verdict, retrying on transient conflicts
// since concurrent approvers contend on the escalation row.
func (s *Service) Decide(ctx context.Context, escalationID uuid.UUID, approver model.Actor, decision model.Decision, reason *string) (model.DecisionOutcome, error) {
	var out model.DecisionOutcome
	err := storage.WithRetry(ctx, decisionMaxRetries, decisionRetryDelay, func() error {
		var err error
		out, err = s.db.RecordDecision(ctx, escalationID, approver, decision, reason)
		return err
	})
	if err != nil {
		return out, err
	}

	s.decisionsRecorded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("decision", string(decision)),
		attribute.Bool("finalized", out.Finalized),
	))
	s.logger.Info("approval decision recorded",
		"escalation_id", escalationID,
		"approver", approver.ActorID,
		"role", approver.Role,
		"decision", decision,
		"finalized", out.Finalized,
	)
	return out, nil
}

// Get returns one escalation by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (model.EscalationRequest, error) {
	return s.db.GetEscalation(ctx, id)
}

// GetWithDecisions returns one escalation with its decision ledger, so a
// reviewer can see who has already weighed in and how.
func (s *Service) GetWithDecisions(ctx context.Context, id uuid.UUID) (model.EscalationDetail, error) {
	e, err := s.db.GetEscalation(ctx, id)
	if err != nil {
		return model.EscalationDetail{}, err
	}
	ds, err := s.db.ListDecisions(ctx, id)
	if err != nil {
		return model.EscalationDetail{}, err
	}
	if ds == nil {
		ds = []model.ApprovalDecision{}
	}
	return model.EscalationDetail{Escalation: e, Decisions: ds}, nil
}

// List returns escalations matching the filter.
func (s *Service) List(ctx context.Context, f storage.EscalationFilter) ([]model.EscalationRequest, int, error) {
	return s.db.ListEscalations(ctx, f)
}

// ListViolations returns violations matching the filter.
func (s *Service) ListViolations(ctx context.Context, f storage.ViolationFilter) ([]model.ThresholdViolation, int, error) {
	return s.db.ListViolations(ctx, f)
}

// PendingForApprover returns the approval queue for a role, oldest deadline first.
func (s *Service) PendingForApprover(ctx context.Context, role model.Role) ([]model.EscalationRequest, error) {
	return s.db.ListPendingForApprover(ctx, role)
}

// Statistics returns aggregate violation and escalation counts.
func (s *Service) Statistics(ctx context.Context) (model.ThresholdStatistics, error) {
	return s.db.ThresholdStatistics(ctx)
}

// ExpireStale marks every pending escalation past its deadline as expired.
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	n, err := s.db.ExpireStale(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("expired stale escalations", "count", n)
	}
	return n, nil
}

// RunExpiryLoop periodically expires stale escalations until ctx is cancelled.
func (s *Service) RunExpiryLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ExpireStale(ctx); err != nil {
				s.logger.Error("escalation expiry sweep failed", "error", err)
			}
		}
	}
}
