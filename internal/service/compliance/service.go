// Package compliance dispatches payout compliance reminders to delivery agents.
package compliance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fleetops/tollgate/internal/model"
	"github.com/fleetops/tollgate/internal/storage"
)

// maxConcurrentSends bounds the reminder fan-out.
const maxConcurrentSends = 8

// Service records compliance reminders for delivery agents.
type Service struct {
	db     *storage.DB
	logger *slog.Logger
}

// New creates a new compliance Service.
func New(db *storage.DB, logger *slog.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// SendReminders writes one reminder plus one audit entry per agent
// concurrently. Failures for individual agents are collected rather than
// aborting the batch, so one bad agent ID does not block reminders to the rest.
func (s *Service) SendReminders(ctx context.Context, req model.SendReminderRequest, actor model.Actor, requestID string) (model.SendReminderResult, error) {
	targetDate, err := time.Parse("2006-01-02", req.TargetDate)
	if err != nil {
		return model.SendReminderResult{}, err
	}

	var mu sync.Mutex
	result := model.SendReminderResult{Details: []model.ReminderFailure{}}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSends)
	for _, agentID := range req.DeliveryAgentIDs {
		g.Go(func() error {
			rem, err := s.db.InsertReminder(gctx, storage.ComplianceReminder{
				DeliveryAgentID: agentID,
				Message:         req.Message,
				TargetDate:      targetDate,
				SentBy:          actor.ActorID,
			})
			if err == nil {
				// Audit failure does not undo the reminder; log and move on.
				if auditErr := s.db.InsertAuditEntry(gctx, storage.AuditEntry{
					RequestID:    requestID,
					ActorID:      actor.ActorID,
					ActorRole:    string(actor.Role),
					HTTPMethod:   "POST",
					Endpoint:     "/v1/payouts/send-reminder",
					Operation:    "reminder_sent",
					ResourceType: "compliance_reminder",
					ResourceID:   rem.ID.String(),
					Metadata: map[string]any{
						"delivery_agent_id": agentID,
						"target_date":       req.TargetDate,
					},
				}); auditErr != nil {
					s.logger.Error("reminder audit write failed",
						"delivery_agent_id", agentID, "error", auditErr)
				}
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.ErrorCount++
				result.Details = append(result.Details, model.ReminderFailure{
					DeliveryAgentID: agentID,
					Error:           err.Error(),
				})
				return nil
			}
			result.SentCount++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	s.logger.Info("compliance reminders dispatched",
		"sent", result.SentCount,
		"failed", result.ErrorCount,
		"sent_by", actor.ActorID,
	)
	return result, nil
}

// History returns the reminders previously sent to one agent, newest first.
func (s *Service) History(ctx context.Context, deliveryAgentID string, limit int) ([]storage.ComplianceReminder, error) {
	return s.db.ListRemindersForAgent(ctx, deliveryAgentID, limit)
}
