package model

import (
	"time"

	"github.com/google/uuid"
)

// Priority is the urgency class of an escalation, derived from the
// overage-to-limit ratio at creation time.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
)

// ValidPriority reports whether p is a known priority.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium:
		return true
	}
	return false
}

// EscalationStatus is the lifecycle state of an escalation request.
type EscalationStatus string

const (
	EscalationPending  EscalationStatus = "pending_approval"
	EscalationApproved EscalationStatus = "approved"
	EscalationRejected EscalationStatus = "rejected"
	EscalationExpired  EscalationStatus = "expired"
)

// ValidEscalationStatus reports whether s is a known escalation status.
func ValidEscalationStatus(s EscalationStatus) bool {
	switch s {
	case EscalationPending, EscalationApproved, EscalationRejected, EscalationExpired:
		return true
	}
	return false
}

// Terminal reports whether the status permits no further transition.
func (s EscalationStatus) Terminal() bool {
	return s == EscalationApproved || s == EscalationRejected || s == EscalationExpired
}

// EscalationRequest is a time-boxed request for human approval of an
// over-threshold cost. RequiredRoles is fixed at creation; the request
// terminates on unanimous approval, first rejection, or expiry.
type EscalationRequest struct {
	ID                   uuid.UUID        `json:"id"`
	ViolationID          uuid.UUID        `json:"violation_id"`
	AmountRequestedCents int64            `json:"amount_requested_cents"`
	Priority             Priority         `json:"priority"`
	RequiredRoles        RoleSet          `json:"required_roles"`
	Status               EscalationStatus `json:"status"`
	ExpiresAt            time.Time        `json:"expires_at"`
	FinalOutcome         *string          `json:"final_outcome,omitempty"`
	RejectionReason      *string          `json:"rejection_reason,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
	DecidedAt            *time.Time       `json:"decided_at,omitempty"`
}

// ExpiredAt reports whether the request's deadline has passed at now.
// Expiry is lazy: a row may still read pending_approval after its deadline
// until a decision attempt or the sweep marks it expired.
func (e EscalationRequest) ExpiredAt(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Decision is an approver's verdict on an escalation.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// ValidDecision reports whether d is a known decision value.
func ValidDecision(d Decision) bool {
	return d == DecisionApproved || d == DecisionRejected
}

// ApprovalDecision is one approver's recorded verdict. At most one decision
// exists per (escalation, approver); quorum is computed by role, but the
// deciding individual is recorded for audit.
type ApprovalDecision struct {
	ID           uuid.UUID `json:"id"`
	EscalationID uuid.UUID `json:"escalation_id"`
	ApproverID   uuid.UUID `json:"approver_id"`
	ApproverRole Role      `json:"approver_role"`
	Decision     Decision  `json:"decision"`
	Reason       *string   `json:"reason,omitempty"`
	DecidedAt    time.Time `json:"decided_at"`
}

// EscalationDetail is an escalation together with its decision ledger.
type EscalationDetail struct {
	Escalation EscalationRequest  `json:"escalation"`
	Decisions  []ApprovalDecision `json:"decisions"`
}

// DecisionOutcome is the result of recording a decision.
type DecisionOutcome struct {
	Escalation   EscalationRequest `json:"escalation"`
	Finalized    bool              `json:"finalized"`
	MissingRoles []Role            `json:"missing_roles,omitempty"`
}
