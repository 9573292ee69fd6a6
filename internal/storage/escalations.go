package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fleetops/tollgate/internal/model"
)

// EscalationFilter narrows ListEscalations results. Zero values mean no filter.
type EscalationFilter struct {
	Status   model.EscalationStatus
	Priority model.Priority
	Limit    int
	Offset   int
}

const escalationSelect = `SELECT id, violation_id, amount_requested_cents, priority, required_roles,
	status, expires_at, final_outcome, rejection_reason, created_at, decided_at
	FROM escalation_requests`

func scanEscalation(row pgx.Row) (model.EscalationRequest, error) {
	var e model.EscalationRequest
	var roles []string
	err := row.Scan(
		&e.ID, &e.ViolationID, &e.AmountRequestedCents, &e.Priority, &roles,
		&e.Status, &e.ExpiresAt, &e.FinalOutcome, &e.RejectionReason, &e.CreatedAt, &e.DecidedAt,
	)
	if err != nil {
		return model.EscalationRequest{}, err
	}
	e.RequiredRoles, err = model.RoleSetFromStrings(roles)
	if err != nil {
		return model.EscalationRequest{}, fmt.Errorf("storage: escalation %s: %w", e.ID, err)
	}
	return e, nil
}

// GetEscalation retrieves an escalation request by ID.
func (db *DB) GetEscalation(ctx context.Context, id uuid.UUID) (model.EscalationRequest, error) {
	e, err := scanEscalation(db.pool.QueryRow(ctx, escalationSelect+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.EscalationRequest{}, ErrNotFound
		}
		return model.EscalationRequest{}, fmt.Errorf("storage: get escalation: %w", err)
	}
	return e, nil
}

// ListEscalations returns escalations matching the filter, newest first,
// plus the total count for pagination.
func (db *DB) ListEscalations(ctx context.Context, f EscalationFilter) ([]model.EscalationRequest, int, error) {
	var conds []string
	var args []any
	n := 1
	if f.Status != "" {
		conds = append(conds, fmt.Sprintf("status = $%d", n))
		args = append(args, f.Status)
		n++
	}
	if f.Priority != "" {
		conds = append(conds, fmt.Sprintf("priority = $%d", n))
		args = append(args, f.Priority)
		n++
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM escalation_requests`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count escalations: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	q := escalationSelect + where + fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", n, n+1)
	args = append(args, limit, f.Offset)

	rows, err := db.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list escalations: %w", err)
	}
	defer rows.Close()

	var out []model.EscalationRequest
	for rows.Next() {
		e, err := scanEscalation(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("storage: scan escalation: %w", err)
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

// ListPendingForApprover returns live escalations whose required approver set
// includes the given role and where that role has not yet decided, oldest
// deadline first.
func (db *DB) ListPendingForApprover(ctx context.Context, role model.Role) ([]model.EscalationRequest, error) {
	rows, err := db.pool.Query(ctx,
		escalationSelect+`
		 WHERE status = $1
		   AND expires_at > now()
		   AND $2 = ANY(required_roles)
		   AND NOT EXISTS (
		       SELECT 1 FROM approval_decisions ad
		       WHERE ad.escalation_id = escalation_requests.id AND ad.approver_role = $2
		   )
		 ORDER BY expires_at ASC`,
		model.EscalationPending, role,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list pending for approver: %w", err)
	}
	defer rows.Close()

	var out []model.EscalationRequest
	for rows.Next() {
		e, err := scanEscalation(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan pending escalation: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListDecisions returns all recorded decisions for an escalation, oldest first.
func (db *DB) ListDecisions(ctx context.Context, escalationID uuid.UUID) ([]model.ApprovalDecision, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, escalation_id, approver_id, approver_role, decision, reason, decided_at
		 FROM approval_decisions WHERE escalation_id = $1 ORDER BY decided_at ASC`,
		escalationID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list decisions: %w", err)
	}
	defer rows.Close()

	var out []model.ApprovalDecision
	for rows.Next() {
		var d model.ApprovalDecision
		if err := rows.Scan(&d.ID, &d.EscalationID, &d.ApproverID, &d.ApproverRole,
			&d.Decision, &d.Reason, &d.DecidedAt); err != nil {
			return nil, fmt.Errorf("storage: scan decision: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// RecordDecision applies one approver's verdict to an escalation in a single
// transaction. The escalation row is locked for the duration so concurrent
// decisions serialize.
//
// Terminal escalations return ErrEscalationFinalized. A decision arriving
// past the deadline marks the escalation expired and returns
// ErrEscalationExpired; the violation stays blocked. A rejection finalizes
// immediately. An approval finalizes only once every required role has an
// approval on record.
func (db *DB) RecordDecision(ctx context.Context, escalationID uuid.UUID, approver model.Actor, decision model.Decision, reason *string) (model.DecisionOutcome, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.DecisionOutcome{}, fmt.Errorf("storage: begin decision tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()

	e, err := scanEscalation(tx.QueryRow(ctx, escalationSelect+` WHERE id = $1 FOR UPDATE`, escalationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.DecisionOutcome{}, ErrNotFound
		}
		return model.DecisionOutcome{}, fmt.Errorf("storage: lock escalation: %w", err)
	}

	if e.Status.Terminal() {
		return model.DecisionOutcome{}, ErrEscalationFinalized
	}

	if e.ExpiredAt(now) {
		if err := expireEscalation(ctx, tx, &e, now); err != nil {
			return model.DecisionOutcome{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return model.DecisionOutcome{}, fmt.Errorf("storage: commit expiry: %w", err)
		}
		return model.DecisionOutcome{Escalation: e, Finalized: true}, ErrEscalationExpired
	}

	if !e.RequiredRoles.Contains(approver.Role) {
		return model.DecisionOutcome{}, ErrRoleNotRequired
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO approval_decisions (id, escalation_id, approver_id, approver_role, decision, reason, decided_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New(), e.ID, approver.ID, approver.Role, decision, reason, now,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.DecisionOutcome{}, ErrDuplicateDecision
		}
		return model.DecisionOutcome{}, fmt.Errorf("storage: insert decision: %w", err)
	}

	if decision == model.DecisionRejected {
		if err := finalizeEscalation(ctx, tx, &e, model.EscalationRejected, reason, now); err != nil {
			return model.DecisionOutcome{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return model.DecisionOutcome{}, fmt.Errorf("storage: commit rejection: %w", err)
		}
		return model.DecisionOutcome{Escalation: e, Finalized: true}, nil
	}

	// Approval path: check whether every required role now has an approval.
	rows, err := tx.Query(ctx,
		`SELECT DISTINCT approver_role FROM approval_decisions
		 WHERE escalation_id = $1 AND decision = $2`,
		e.ID, model.DecisionApproved,
	)
	if err != nil {
		return model.DecisionOutcome{}, fmt.Errorf("storage: query approved roles: %w", err)
	}
	approved := model.NewRoleSet()
	for rows.Next() {
		var r model.Role
		if err := rows.Scan(&r); err != nil {
			rows.Close()
			return model.DecisionOutcome{}, fmt.Errorf("storage: scan approved role: %w", err)
		}
		approved[r] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return model.DecisionOutcome{}, err
	}

	if !e.RequiredRoles.Subset(approved) {
		if err := tx.Commit(ctx); err != nil {
			return model.DecisionOutcome{}, fmt.Errorf("storage: commit partial approval: %w", err)
		}
		return model.DecisionOutcome{
			Escalation:   e,
			Finalized:    false,
			MissingRoles: e.RequiredRoles.Missing(approved),
		}, nil
	}

	if err := finalizeEscalation(ctx, tx, &e, model.EscalationApproved, nil, now); err != nil {
		return model.DecisionOutcome{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.DecisionOutcome{}, fmt.Errorf("storage: commit approval: %w", err)
	}
	return model.DecisionOutcome{Escalation: e, Finalized: true}, nil
}

// finalizeEscalation moves a locked escalation to a terminal status and
// terminates its violation in the same transaction.
func finalizeEscalation(ctx context.Context, tx pgx.Tx, e *model.EscalationRequest, status model.EscalationStatus, reason *string, now time.Time) error {
	outcome := string(status)
	_, err := tx.Exec(ctx,
		`UPDATE escalation_requests
		 SET status = $2, final_outcome = $3, rejection_reason = $4, decided_at = $5
		 WHERE id = $1`,
		e.ID, status, outcome, reason, now,
	)
	if err != nil {
		return fmt.Errorf("storage: finalize escalation: %w", err)
	}

	switch status {
	case model.EscalationApproved:
		_, err = tx.Exec(ctx,
			`UPDATE threshold_violations
			 SET status = $2, approved_at = $3, approved_amount_cents = $4
			 WHERE id = $1`,
			e.ViolationID, model.ViolationApproved, now, e.AmountRequestedCents,
		)
	case model.EscalationRejected:
		_, err = tx.Exec(ctx,
			`UPDATE threshold_violations
			 SET status = $2, rejected_at = $3, rejection_reason = $4
			 WHERE id = $1`,
			e.ViolationID, model.ViolationRejected, now, reason,
		)
	}
	if err != nil {
		return fmt.Errorf("storage: terminate violation: %w", err)
	}

	e.Status = status
	e.FinalOutcome = &outcome
	e.RejectionReason = reason
	e.DecidedAt = &now
	return nil
}

// expireEscalation marks a locked escalation expired. The violation stays
// blocked: expiry denies the cost without recording a human rejection.
func expireEscalation(ctx context.Context, tx pgx.Tx, e *model.EscalationRequest, now time.Time) error {
	outcome := string(model.EscalationExpired)
	_, err := tx.Exec(ctx,
		`UPDATE escalation_requests
		 SET status = $2, final_outcome = $3, decided_at = $4
		 WHERE id = $1`,
		e.ID, model.EscalationExpired, outcome, now,
	)
	if err != nil {
		return fmt.Errorf("storage: expire escalation: %w", err)
	}
	e.Status = model.EscalationExpired
	e.FinalOutcome = &outcome
	e.DecidedAt = &now
	return nil
}

// ExpireStale marks every pending escalation past its deadline as expired.
// Returns the number of escalations expired. Violations stay blocked.
func (db *DB) ExpireStale(ctx context.Context) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE escalation_requests
		 SET status = $1, final_outcome = $1, decided_at = now()
		 WHERE status = $2 AND expires_at < now()`,
		model.EscalationExpired, model.EscalationPending,
	)
	if err != nil {
		return 0, fmt.Errorf("storage: expire stale escalations: %w", err)
	}
	return tag.RowsAffected(), nil
}
