package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fleetops/tollgate/internal/model"
)

// PayoutFilter narrows ListPayouts results. Zero values mean no filter.
// Statuses, when set, takes precedence over Status so multi-status queues
// paginate as a single result set.
type PayoutFilter struct {
	Status          model.PayoutStatus
	Statuses        []model.PayoutStatus
	DeliveryAgentID string
	Zone            string
	FlaggedOnly     bool
	MinAge          time.Duration // only rows at least this old
	Limit           int
	Offset          int
}

const payoutSelect = `SELECT id, order_id, delivery_agent_id, status, amount_cents, zone,
	compliance_score, otp_submitted, photo_verified, pos_matched, flagged,
	created_at, locked_at, approved_at, rejected_at, rejection_reason, last_action_by
	FROM payouts`

func scanPayout(row pgx.Row) (model.Payout, error) {
	var p model.Payout
	err := row.Scan(
		&p.ID, &p.OrderID, &p.DeliveryAgentID, &p.Status, &p.AmountCents, &p.Zone,
		&p.ComplianceScore, &p.OTPSubmitted, &p.PhotoVerified, &p.POSMatched, &p.Flagged,
		&p.CreatedAt, &p.LockedAt, &p.ApprovedAt, &p.RejectedAt, &p.RejectionReason, &p.LastActionBy,
	)
	return p, err
}

// CreatePayout inserts a pending payout and returns it.
func (db *DB) CreatePayout(ctx context.Context, p model.Payout) (model.Payout, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.Status = model.PayoutPending

	_, err := db.pool.Exec(ctx,
		`INSERT INTO payouts (id, order_id, delivery_agent_id, status, amount_cents, zone,
		 compliance_score, otp_submitted, photo_verified, pos_matched, flagged, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.OrderID, p.DeliveryAgentID, p.Status, p.AmountCents, p.Zone,
		p.ComplianceScore, p.OTPSubmitted, p.PhotoVerified, p.POSMatched, p.Flagged, p.CreatedAt,
	)
	if err != nil {
		return model.Payout{}, fmt.Errorf("storage: create payout: %w", err)
	}
	return p, nil
}

// GetPayout retrieves a payout by ID.
func (db *DB) GetPayout(ctx context.Context, id uuid.UUID) (model.Payout, error) {
	p, err := scanPayout(db.pool.QueryRow(ctx, payoutSelect+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Payout{}, ErrNotFound
		}
		return model.Payout{}, fmt.Errorf("storage: get payout: %w", err)
	}
	return p, nil
}

// GetPayoutByOrderID retrieves a payout by its order reference.
func (db *DB) GetPayoutByOrderID(ctx context.Context, orderID string) (model.Payout, error) {
	p, err := scanPayout(db.pool.QueryRow(ctx, payoutSelect+` WHERE order_id = $1`, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Payout{}, ErrNotFound
		}
		return model.Payout{}, fmt.Errorf("storage: get payout by order: %w", err)
	}
	return p, nil
}

// ListPayouts returns payouts matching the filter, oldest first, plus the
// total count for pagination. Oldest first because the queue is worked in
// aging order.
func (db *DB) ListPayouts(ctx context.Context, f PayoutFilter) ([]model.Payout, int, error) {
	var conds []string
	var args []any
	n := 1
	if len(f.Statuses) > 0 {
		ss := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			ss[i] = string(s)
		}
		conds = append(conds, fmt.Sprintf("status = ANY($%d)", n))
		args = append(args, ss)
		n++
	} else if f.Status != "" {
		conds = append(conds, fmt.Sprintf("status = $%d", n))
		args = append(args, f.Status)
		n++
	}
	if f.DeliveryAgentID != "" {
		conds = append(conds, fmt.Sprintf("delivery_agent_id = $%d", n))
		args = append(args, f.DeliveryAgentID)
		n++
	}
	if f.Zone != "" {
		conds = append(conds, fmt.Sprintf("zone = $%d", n))
		args = append(args, f.Zone)
		n++
	}
	if f.FlaggedOnly {
		conds = append(conds, "flagged")
	}
	if f.MinAge > 0 {
		conds = append(conds, fmt.Sprintf("created_at <= $%d", n))
		args = append(args, time.Now().UTC().Add(-f.MinAge))
		n++
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM payouts`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count payouts: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	q := payoutSelect + where + fmt.Sprintf(" ORDER BY created_at ASC LIMIT $%d OFFSET $%d", n, n+1)
	args = append(args, limit, f.Offset)

	rows, err := db.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list payouts: %w", err)
	}
	defer rows.Close()

	var out []model.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("storage: scan payout: %w", err)
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

// TransitionPayout moves a payout from one status to another with a
// compare-and-set on the current status. ErrInvalidTransition means the move
// is never legal; ErrStaleState means a concurrent actor moved the row first.
func (db *DB) TransitionPayout(ctx context.Context, id uuid.UUID, from, to model.PayoutStatus, actorID string, reason *string) (model.Payout, error) {
	if !from.CanTransition(to) {
		return model.Payout{}, ErrInvalidTransition
	}

	now := time.Now().UTC()
	set := "status = $3, last_action_by = $4"
	args := []any{id, from, to, actorID}
	n := 5
	switch to {
	case model.PayoutIntentMarked:
		set += fmt.Sprintf(", locked_at = $%d", n)
		args = append(args, now)
		n++
	case model.PayoutApproved:
		set += fmt.Sprintf(", approved_at = $%d", n)
		args = append(args, now)
		n++
	case model.PayoutRejected:
		set += fmt.Sprintf(", rejected_at = $%d, rejection_reason = $%d", n, n+1)
		args = append(args, now, reason)
		n += 2
	}

	tag, err := db.pool.Exec(ctx,
		`UPDATE payouts SET `+set+` WHERE id = $1 AND status = $2`, args...)
	if err != nil {
		return model.Payout{}, fmt.Errorf("storage: transition payout: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := db.GetPayout(ctx, id); err != nil {
			return model.Payout{}, err
		}
		return model.Payout{}, ErrStaleState
	}
	return db.GetPayout(ctx, id)
}

// UnlockPayout returns a terminal payout to pending so it can be reworked.
// Only auto_reverted and rejected payouts can be unlocked; approved payouts
// have already been paid out.
func (db *DB) UnlockPayout(ctx context.Context, id uuid.UUID, actorID string) (model.Payout, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE payouts
		 SET status = $2, locked_at = NULL, approved_at = NULL, rejected_at = NULL,
		     rejection_reason = NULL, last_action_by = $3
		 WHERE id = $1 AND status = ANY($4)`,
		id, model.PayoutPending, actorID,
		[]string{string(model.PayoutAutoReverted), string(model.PayoutRejected)},
	)
	if err != nil {
		return model.Payout{}, fmt.Errorf("storage: unlock payout: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := db.GetPayout(ctx, id); err != nil {
			return model.Payout{}, err
		}
		return model.Payout{}, ErrInvalidTransition
	}
	return db.GetPayout(ctx, id)
}

// ListAutoRevertCandidates returns the IDs of pending payouts created before
// the cutoff, oldest first.
func (db *DB) ListAutoRevertCandidates(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id FROM payouts WHERE status = $1 AND created_at < $2 ORDER BY created_at ASC`,
		model.PayoutPending, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list auto-revert candidates: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: scan candidate: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// AutoRevertPayout flips a single payout from pending to auto_reverted.
// Returns false without error when the row is no longer pending, so a sweep
// that races a human action skips the row instead of clobbering it.
func (db *DB) AutoRevertPayout(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE payouts SET status = $2, last_action_by = 'auto-revert'
		 WHERE id = $1 AND status = $3`,
		id, model.PayoutAutoReverted, model.PayoutPending,
	)
	if err != nil {
		return false, fmt.Errorf("storage: auto-revert payout: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
