package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CostType classifies a cost submitted for threshold validation.
type CostType string

const (
	CostLogistics CostType = "logistics"
	CostExpense   CostType = "expense"
	CostBonus     CostType = "bonus"
)

// ValidCostType reports whether t is a member of the closed cost type set.
func ValidCostType(t CostType) bool {
	switch t {
	case CostLogistics, CostExpense, CostBonus:
		return true
	}
	return false
}

// ViolationStatus is the lifecycle state of a threshold violation.
type ViolationStatus string

const (
	ViolationBlocked  ViolationStatus = "blocked"
	ViolationApproved ViolationStatus = "approved"
	ViolationRejected ViolationStatus = "rejected"
)

// ValidViolationStatus reports whether s is a known violation status.
func ValidViolationStatus(s ViolationStatus) bool {
	switch s {
	case ViolationBlocked, ViolationApproved, ViolationRejected:
		return true
	}
	return false
}

// Terminal reports whether the status permits no further transition.
func (s ViolationStatus) Terminal() bool {
	return s == ViolationApproved || s == ViolationRejected
}

// CanTransition reports whether a violation may move from s to next.
// The only legal moves are blocked→approved and blocked→rejected.
func (s ViolationStatus) CanTransition(next ViolationStatus) bool {
	return s == ViolationBlocked && next.Terminal()
}

// ThresholdViolation is the persisted record of a single policy breach.
// Violations are append-only audit records and are never deleted; they are
// terminated exactly once when their escalation reaches a final outcome.
type ThresholdViolation struct {
	ID                  uuid.UUID       `json:"id"`
	CostType            CostType        `json:"cost_type"`
	Category            string          `json:"category"`
	AmountCents         int64           `json:"amount_cents"`
	LimitCents          int64           `json:"limit_cents"`
	OverageCents        int64           `json:"overage_cents"`
	Reference           *string         `json:"reference,omitempty"` // order/expense id the cost belongs to
	Status              ViolationStatus `json:"status"`
	CreatedBy           string          `json:"created_by"`
	CreatedAt           time.Time       `json:"created_at"`
	ApprovedAt          *time.Time      `json:"approved_at,omitempty"`
	RejectedAt          *time.Time      `json:"rejected_at,omitempty"`
	ApprovedAmountCents *int64          `json:"approved_amount_cents,omitempty"`
	RejectionReason     *string         `json:"rejection_reason,omitempty"`
}

// Validate checks the creation-time invariants of a violation.
func (v ThresholdViolation) Validate() error {
	if !ValidCostType(v.CostType) {
		return fmt.Errorf("model: invalid cost type %q", v.CostType)
	}
	if v.OverageCents <= 0 {
		return fmt.Errorf("model: violation overage must be positive, got %d", v.OverageCents)
	}
	if v.OverageCents != v.AmountCents-v.LimitCents {
		return fmt.Errorf("model: overage %d does not equal amount %d - limit %d",
			v.OverageCents, v.AmountCents, v.LimitCents)
	}
	return nil
}
