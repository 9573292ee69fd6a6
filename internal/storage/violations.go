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

// ViolationFilter narrows ListViolations results. Zero values mean no filter.
type ViolationFilter struct {
	Status   model.ViolationStatus
	CostType model.CostType
	Limit    int
	Offset   int
}

// CreateViolationWithEscalation inserts a blocked violation together with its
// escalation request in one transaction, so a violation can never exist
// without a pending escalation.
func (db *DB) CreateViolationWithEscalation(ctx context.Context, v model.ThresholdViolation, e model.EscalationRequest) (model.ThresholdViolation, model.EscalationRequest, error) {
	if err := v.Validate(); err != nil {
		return model.ThresholdViolation{}, model.EscalationRequest{}, err
	}

	now := time.Now().UTC()
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	v.Status = model.ViolationBlocked
	v.CreatedAt = now

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.ViolationID = v.ID
	e.Status = model.EscalationPending
	e.CreatedAt = now

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.ThresholdViolation{}, model.EscalationRequest{}, fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO threshold_violations (id, cost_type, category, amount_cents, limit_cents,
		 overage_cents, reference, status, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		v.ID, v.CostType, v.Category, v.AmountCents, v.LimitCents,
		v.OverageCents, v.Reference, v.Status, v.CreatedBy, v.CreatedAt,
	)
	if err != nil {
		return model.ThresholdViolation{}, model.EscalationRequest{}, fmt.Errorf("storage: insert violation: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO escalation_requests (id, violation_id, amount_requested_cents, priority,
		 required_roles, status, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.ViolationID, e.AmountRequestedCents, e.Priority,
		e.RequiredRoles.Strings(), e.Status, e.ExpiresAt, e.CreatedAt,
	)
	if err != nil {
		return model.ThresholdViolation{}, model.EscalationRequest{}, fmt.Errorf("storage: insert escalation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.ThresholdViolation{}, model.EscalationRequest{}, fmt.Errorf("storage: commit violation tx: %w", err)
	}
	return v, e, nil
}

// GetViolation retrieves a violation by ID.
func (db *DB) GetViolation(ctx context.Context, id uuid.UUID) (model.ThresholdViolation, error) {
	v, err := scanViolation(db.pool.QueryRow(ctx, violationSelect+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ThresholdViolation{}, ErrNotFound
		}
		return model.ThresholdViolation{}, fmt.Errorf("storage: get violation: %w", err)
	}
	return v, nil
}

const violationSelect = `SELECT id, cost_type, category, amount_cents, limit_cents, overage_cents,
	reference, status, created_by, created_at, approved_at, rejected_at, approved_amount_cents, rejection_reason
	FROM threshold_violations`

func scanViolation(row pgx.Row) (model.ThresholdViolation, error) {
	var v model.ThresholdViolation
	err := row.Scan(
		&v.ID, &v.CostType, &v.Category, &v.AmountCents, &v.LimitCents, &v.OverageCents,
		&v.Reference, &v.Status, &v.CreatedBy, &v.CreatedAt, &v.ApprovedAt, &v.RejectedAt,
		&v.ApprovedAmountCents, &v.RejectionReason,
	)
	return v, err
}

// ListViolations returns violations matching the filter, newest first,
// plus the total count for pagination.
func (db *DB) ListViolations(ctx context.Context, f ViolationFilter) ([]model.ThresholdViolation, int, error) {
	var conds []string
	var args []any
	n := 1
	if f.Status != "" {
		conds = append(conds, fmt.Sprintf("status = $%d", n))
		args = append(args, f.Status)
		n++
	}
	if f.CostType != "" {
		conds = append(conds, fmt.Sprintf("cost_type = $%d", n))
		args = append(args, f.CostType)
		n++
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM threshold_violations`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count violations: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	q := violationSelect + where + fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", n, n+1)
	args = append(args, limit, f.Offset)

	rows, err := db.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list violations: %w", err)
	}
	defer rows.Close()

	var out []model.ThresholdViolation
	for rows.Next() {
		v, err := scanViolation(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("storage: scan violation: %w", err)
		}
		out = append(out, v)
	}
	return out, total, rows.Err()
}

// ThresholdStatistics aggregates violation and escalation counts and computes
// the compliance rate (approved escalations over decided escalations).
// Expired escalations do not count as decided.
func (db *DB) ThresholdStatistics(ctx context.Context) (model.ThresholdStatistics, error) {
	stats := model.ThresholdStatistics{
		ViolationsByStatus:    map[model.ViolationStatus]int{},
		EscalationsByStatus:   map[model.EscalationStatus]int{},
		EscalationsByPriority: map[model.Priority]int{},
	}

	rows, err := db.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM threshold_violations GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("storage: violation stats: %w", err)
	}
	for rows.Next() {
		var s model.ViolationStatus
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			rows.Close()
			return stats, fmt.Errorf("storage: scan violation stats: %w", err)
		}
		stats.ViolationsByStatus[s] = n
		stats.TotalViolations += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, err
	}

	rows, err = db.pool.Query(ctx,
		`SELECT status, priority, COUNT(*) FROM escalation_requests GROUP BY status, priority`)
	if err != nil {
		return stats, fmt.Errorf("storage: escalation stats: %w", err)
	}
	for rows.Next() {
		var s model.EscalationStatus
		var p model.Priority
		var n int
		if err := rows.Scan(&s, &p, &n); err != nil {
			rows.Close()
			return stats, fmt.Errorf("storage: scan escalation stats: %w", err)
		}
		stats.EscalationsByStatus[s] += n
		stats.EscalationsByPriority[p] += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, err
	}

	approved := stats.EscalationsByStatus[model.EscalationApproved]
	stats.DecidedEscalations = approved + stats.EscalationsByStatus[model.EscalationRejected]
	if stats.DecidedEscalations > 0 {
		stats.ComplianceRate = float64(approved) / float64(stats.DecidedEscalations)
	}
	return stats, nil
}
