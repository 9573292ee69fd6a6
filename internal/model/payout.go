package model

import (
	"time"

	"github.com/google/uuid"
)

// PayoutStatus is the lifecycle state of a delivery agent payout.
type PayoutStatus string

const (
	PayoutPending            PayoutStatus = "pending"
	PayoutIntentMarked       PayoutStatus = "intent_marked"
	PayoutApproved           PayoutStatus = "approved"
	PayoutRejected           PayoutStatus = "rejected"
	PayoutAutoReverted       PayoutStatus = "auto_reverted"
	PayoutOnHold             PayoutStatus = "on_hold"
	PayoutUnderInvestigation PayoutStatus = "under_investigation"
)

// ValidPayoutStatus reports whether s is a known payout status.
func ValidPayoutStatus(s PayoutStatus) bool {
	switch s {
	case PayoutPending, PayoutIntentMarked, PayoutApproved, PayoutRejected,
		PayoutAutoReverted, PayoutOnHold, PayoutUnderInvestigation:
		return true
	}
	return false
}

// Terminal reports whether the status permits no further transition
// (short of an explicit unlock by an authorized actor).
func (s PayoutStatus) Terminal() bool {
	return s == PayoutApproved || s == PayoutRejected || s == PayoutAutoReverted
}

// CanTransition reports whether a payout may move from s to next through the
// normal lifecycle. Unlock (terminal→pending) is handled separately because
// it requires elevated authorization.
func (s PayoutStatus) CanTransition(next PayoutStatus) bool {
	switch s {
	case PayoutPending:
		return next == PayoutIntentMarked || next == PayoutAutoReverted ||
			next == PayoutOnHold || next == PayoutUnderInvestigation
	case PayoutIntentMarked:
		return next == PayoutApproved || next == PayoutRejected ||
			next == PayoutOnHold || next == PayoutUnderInvestigation
	case PayoutOnHold, PayoutUnderInvestigation:
		return next == PayoutPending || next == PayoutRejected
	case PayoutApproved, PayoutRejected, PayoutAutoReverted:
		return false
	}
	return false
}

// Payout tracks the payment owed to a delivery agent for a completed order.
type Payout struct {
	ID              uuid.UUID    `json:"id"`
	OrderID         string       `json:"order_id"`
	DeliveryAgentID string       `json:"delivery_agent_id"`
	Status          PayoutStatus `json:"status"`
	AmountCents     int64        `json:"amount_cents"`
	Zone            string       `json:"zone"`
	ComplianceScore float32      `json:"compliance_score"`
	OTPSubmitted    bool         `json:"otp_submitted"`
	PhotoVerified   bool         `json:"photo_verified"`
	POSMatched      bool         `json:"pos_matched"`
	Flagged         bool         `json:"flagged"`
	CreatedAt       time.Time    `json:"created_at"`
	LockedAt        *time.Time   `json:"locked_at,omitempty"`
	ApprovedAt      *time.Time   `json:"approved_at,omitempty"`
	RejectedAt      *time.Time   `json:"rejected_at,omitempty"`
	RejectionReason *string      `json:"rejection_reason,omitempty"`
	LastActionBy    *string      `json:"last_action_by,omitempty"`

	// AgingHours is derived at read time, never stored.
	AgingHours float64 `json:"aging_hours"`
}

// Age returns the payout's age at now in fractional hours.
func (p Payout) Age(now time.Time) float64 {
	return now.Sub(p.CreatedAt).Hours()
}
