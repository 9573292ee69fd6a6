// Package payout provides the business logic for the delivery agent payout
// lifecycle: intent marking, approval, rejection, unlocking, and the stale
// payout auto-revert sweep.
package payout

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fleetops/tollgate/internal/model"
	"github.com/fleetops/tollgate/internal/storage"
	"github.com/fleetops/tollgate/internal/telemetry"
)

// Service encapsulates payout lifecycle business logic.
type Service struct {
	db     *storage.DB
	logger *slog.Logger

	// cutoff is the default age past which a pending payout is auto-reverted.
	cutoff time.Duration

	transitions metric.Int64Counter
	reverted    metric.Int64Counter
}

// New creates a new payout Service. cutoff is the default auto-revert age.
func New(db *storage.DB, cutoff time.Duration, logger *slog.Logger) *Service {
	meter := telemetry.Meter("tollgate/payout")
	transitions, _ := meter.Int64Counter("tollgate.payouts.transitions",
		metric.WithDescription("Payout status transitions"),
	)
	reverted, _ := meter.Int64Counter("tollgate.payouts.auto_reverted",
		metric.WithDescription("Payouts auto-reverted by the sweep"),
	)
	return &Service{
		db:          db,
		logger:      logger,
		cutoff:      cutoff,
		transitions: transitions,
		reverted:    reverted,
	}
}

// Create inserts a new pending payout.
func (s *Service) Create(ctx context.Context, p model.Payout) (model.Payout, error) {
	return s.db.CreatePayout(ctx, p)
}

// Get returns one payout with its aging populated.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (model.Payout, error) {
	p, err := s.db.GetPayout(ctx, id)
	if err != nil {
		return model.Payout{}, err
	}
	p.AgingHours = p.Age(time.Now().UTC())
	return p, nil
}

// List returns payouts matching the filter with aging populated.
func (s *Service) List(ctx context.Context, f storage.PayoutFilter) ([]model.Payout, int, error) {
	out, total, err := s.db.ListPayouts(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	now := time.Now().UTC()
	for i := range out {
		out[i].AgingHours = out[i].Age(now)
	}
	return out, total, nil
}

// PendingConfirmations returns payouts still waiting on staff action
// (pending or intent_marked) as one queue, oldest first. A single query
// serves both statuses so limit/offset paginate the combined set. The
// filter's Status field is ignored; zone, flagged, and minimum aging apply.
func (s *Service) PendingConfirmations(ctx context.Context, f storage.PayoutFilter) ([]model.Payout, int, error) {
	f.Status = ""
	f.Statuses = []model.PayoutStatus{model.PayoutPending, model.PayoutIntentMarked}
	return s.List(ctx, f)
}

// MarkIntent moves a pending payout to intent_marked, locking it to the actor.
func (s *Service) MarkIntent(ctx context.Context, id uuid.UUID, actorID string) (model.Payout, error) {
	return s.transition(ctx, id, model.PayoutPending, model.PayoutIntentMarked, actorID, nil)
}

// Approve moves an intent_marked payout to approved.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, actorID string) (model.Payout, error) {
	return s.transition(ctx, id, model.PayoutIntentMarked, model.PayoutApproved, actorID, nil)
}

// Reject moves an intent_marked payout to rejected with a reason.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, actorID, reason string) (model.Payout, error) {
	return s.transition(ctx, id, model.PayoutIntentMarked, model.PayoutRejected, actorID, &reason)
}

// Hold parks a pending or intent_marked payout in on_hold.
func (s *Service) Hold(ctx context.Context, id uuid.UUID, actorID string) (model.Payout, error) {
	p, err := s.db.GetPayout(ctx, id)
	if err != nil {
		return model.Payout{}, err
	}
	return s.transition(ctx, id, p.Status, model.PayoutOnHold, actorID, nil)
}

// Release returns an on_hold payout to the pending queue.
func (s *Service) Release(ctx context.Context, id uuid.UUID, actorID string) (model.Payout, error) {
	return s.transition(ctx, id, model.PayoutOnHold, model.PayoutPending, actorID, nil)
}

// Unlock returns an auto_reverted or rejected payout to pending.
func (s *Service) Unlock(ctx context.Context, id uuid.UUID, actorID string) (model.Payout, error) {
	p, err := s.db.UnlockPayout(ctx, id, actorID)
	if err != nil {
		return model.Payout{}, err
	}
	s.logTransition(ctx, p, model.PayoutPending, actorID)
	return p, nil
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, from, to model.PayoutStatus, actorID string, reason *string) (model.Payout, error) {
	p, err := s.db.TransitionPayout(ctx, id, from, to, actorID, reason)
	if err != nil {
		return model.Payout{}, err
	}
	s.logTransition(ctx, p, to, actorID)
	p.AgingHours = p.Age(time.Now().UTC())
	return p, nil
}

func (s *Service) logTransition(ctx context.Context, p model.Payout, to model.PayoutStatus, actorID string) {
	s.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("to", string(to))))
	s.logger.Info("payout transition",
		"payout_id", p.ID,
		"order_id", p.OrderID,
		"status", to,
		"actor", actorID,
	)
}

// AutoRevertStale reverts pending payouts older than the cutoff, one
// compare-and-set per row. Rows a human resolved mid-sweep are counted as
// skipped, not errors. cutoffOverride <= 0 uses the configured default.
func (s *Service) AutoRevertStale(ctx context.Context, cutoffOverride time.Duration) (model.AutoRevertResult, error) {
	cutoff := s.cutoff
	if cutoffOverride > 0 {
		cutoff = cutoffOverride
	}

	ids, err := s.db.ListAutoRevertCandidates(ctx, time.Now().UTC().Add(-cutoff))
	if err != nil {
		return model.AutoRevertResult{}, err
	}

	result := model.AutoRevertResult{Errors: []model.AutoRevertError{}}
	for _, id := range ids {
		ok, err := s.db.AutoRevertPayout(ctx, id)
		switch {
		case err != nil:
			result.Errors = append(result.Errors, model.AutoRevertError{PayoutID: id, Error: err.Error()})
		case ok:
			result.RevertedCount++
		default:
			result.SkippedCount++
		}
	}

	if result.RevertedCount > 0 {
		s.reverted.Add(ctx, int64(result.RevertedCount))
	}
	s.logger.Info("auto-revert sweep finished",
		"candidates", len(ids),
		"reverted", result.RevertedCount,
		"skipped", result.SkippedCount,
		"errors", len(result.Errors),
	)
	return result, nil
}

// RunAutoRevertLoop periodically runs the auto-revert sweep until ctx is cancelled.
func (s *Service) RunAutoRevertLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.AutoRevertStale(ctx, 0); err != nil {
				s.logger.Error("auto-revert sweep failed", "error", err)
			}
		}
	}
}

// TriggerEscalation records a manual escalation for a stuck order in the
// audit log. It is advisory: no approval workflow is created, the entry
// exists so the escalation is visible to whoever works the queue next.
// Returns storage.ErrNotFound when the order has no payout.
func (s *Service) TriggerEscalation(ctx context.Context, req model.TriggerEscalationRequest, actor model.Actor, requestID string) (model.Payout, error) {
	p, err := s.db.GetPayoutByOrderID(ctx, req.OrderID)
	if err != nil {
		return model.Payout{}, err
	}

	severity := storage.SeverityWarning
	if req.Priority == model.PriorityCritical {
		severity = storage.SeverityCritical
	}
	err = s.db.InsertAuditEntry(ctx, storage.AuditEntry{
		RequestID:    requestID,
		ActorID:      actor.ActorID,
		ActorRole:    string(actor.Role),
		HTTPMethod:   "POST",
		Endpoint:     "/v1/payouts/trigger-escalation",
		Operation:    "manual_escalation",
		ResourceType: "payout",
		ResourceID:   p.ID.String(),
		Severity:     severity,
		Metadata: map[string]any{
			"order_id": req.OrderID,
			"reason":   req.Reason,
			"priority": req.Priority,
			"status":   p.Status,
		},
	})
	if err != nil {
		return model.Payout{}, err
	}
	s.logger.Warn("manual escalation triggered",
		"order_id", req.OrderID,
		"payout_id", p.ID,
		"priority", req.Priority,
		"actor", actor.ActorID,
	)
	return p, nil
}
