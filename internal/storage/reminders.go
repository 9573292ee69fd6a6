package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ComplianceReminder is a persisted record of a reminder sent to a delivery
// agent about missing payout compliance proof.
type ComplianceReminder struct {
	ID              uuid.UUID `json:"id"`
	DeliveryAgentID string    `json:"delivery_agent_id"`
	Message         string    `json:"message"`
	TargetDate      time.Time `json:"target_date"`
	SentBy          string    `json:"sent_by"`
	SentAt          time.Time `json:"sent_at"`
}

// InsertReminder records one reminder and returns it.
func (db *DB) InsertReminder(ctx context.Context, r ComplianceReminder) (ComplianceReminder, error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.SentAt.IsZero() {
		r.SentAt = time.Now().UTC()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO compliance_reminders (id, delivery_agent_id, message, target_date, sent_by, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.DeliveryAgentID, r.Message, r.TargetDate, r.SentBy, r.SentAt,
	)
	if err != nil {
		return ComplianceReminder{}, fmt.Errorf("storage: insert reminder: %w", err)
	}
	return r, nil
}

// ListRemindersForAgent returns reminders sent to an agent, newest first.
func (db *DB) ListRemindersForAgent(ctx context.Context, deliveryAgentID string, limit int) ([]ComplianceReminder, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, delivery_agent_id, message, target_date, sent_by, sent_at
		 FROM compliance_reminders WHERE delivery_agent_id = $1
		 ORDER BY sent_at DESC LIMIT $2`,
		deliveryAgentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list reminders: %w", err)
	}
	defer rows.Close()

	var out []ComplianceReminder
	for rows.Next() {
		var r ComplianceReminder
		if err := rows.Scan(&r.ID, &r.DeliveryAgentID, &r.Message, &r.TargetDate, &r.SentBy, &r.SentAt); err != nil {
			return nil, fmt.Errorf("storage: scan reminder: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
