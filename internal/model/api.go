package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for paginated list endpoints.
type ListResponse struct {
	Data    any          `json:"data"`
	Total   int          `json:"total"`
	HasMore bool         `json:"has_more"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	Meta    ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeStateConflict = "STATE_CONFLICT"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	ActorID string `json:"actor_id"`
	APIKey  string `json:"api_key"`
}

// AuthTokenResponse is the response for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ValidateCostRequest is the request body for POST /v1/thresholds/validate-cost.
type ValidateCostRequest struct {
	CostType    CostType `json:"cost_type"`
	Category    string   `json:"category"`
	AmountCents int64    `json:"amount_cents"`
	Reference   *string  `json:"reference,omitempty"` // order/expense id the cost belongs to
}

// Validate checks the request fields before any evaluation.
func (r ValidateCostRequest) Validate() error {
	if !ValidCostType(r.CostType) {
		return fmt.Errorf("cost_type must be one of logistics, expense, bonus (got %q)", r.CostType)
	}
	if r.AmountCents <= 0 {
		return fmt.Errorf("amount_cents must be positive")
	}
	return nil
}

// ValidateCostResponse is the response for POST /v1/thresholds/validate-cost.
// Violation and Escalation are set only when the cost breached its limit.
type ValidateCostResponse struct {
	WithinLimit  bool                `json:"within_limit"`
	LimitCents   int64               `json:"limit_cents"`
	OverageCents int64               `json:"overage_cents"`
	Violation    *ThresholdViolation `json:"violation,omitempty"`
	Escalation   *EscalationRequest  `json:"escalation,omitempty"`
}

// EscalationDecisionRequest is the request body for
// POST /v1/thresholds/escalations/{id}/approve-or-reject.
type EscalationDecisionRequest struct {
	Decision Decision `json:"decision"`
	Reason   *string  `json:"reason,omitempty"`
}

// Validate checks the decision request.
func (r EscalationDecisionRequest) Validate() error {
	if !ValidDecision(r.Decision) {
		return fmt.Errorf("decision must be approved or rejected (got %q)", r.Decision)
	}
	if r.Decision == DecisionRejected && (r.Reason == nil || *r.Reason == "") {
		return fmt.Errorf("reason is required when rejecting")
	}
	return nil
}

// ThresholdStatistics is the response for GET /v1/thresholds/statistics.
type ThresholdStatistics struct {
	ViolationsByStatus    map[ViolationStatus]int  `json:"violations_by_status"`
	EscalationsByStatus   map[EscalationStatus]int `json:"escalations_by_status"`
	EscalationsByPriority map[Priority]int         `json:"escalations_by_priority"`
	TotalViolations       int                      `json:"total_violations"`
	DecidedEscalations    int                      `json:"decided_escalations"`
	ComplianceRate        float64                  `json:"compliance_rate"`
}

// AutoRevertRequest is the request body for POST /v1/payouts/auto-revert.
type AutoRevertRequest struct {
	CutoffHours int `json:"cutoff_hours,omitempty"` // 0 = server default
}

// AutoRevertError describes one payout that failed to revert during a sweep.
type AutoRevertError struct {
	PayoutID uuid.UUID `json:"payout_id"`
	Error    string    `json:"error"`
}

// AutoRevertResult is the response for POST /v1/payouts/auto-revert.
// Skipped counts rows that a concurrent actor resolved between the candidate
// scan and the per-row transition.
type AutoRevertResult struct {
	RevertedCount int               `json:"reverted_count"`
	SkippedCount  int               `json:"skipped_count"`
	Errors        []AutoRevertError `json:"errors"`
}

// SendReminderRequest is the request body for POST /v1/payouts/send-reminder.
type SendReminderRequest struct {
	DeliveryAgentIDs []string `json:"delivery_agent_ids"`
	Message          string   `json:"message"`
	TargetDate       string   `json:"target_date"` // YYYY-MM-DD
}

// Validate checks the reminder request.
func (r SendReminderRequest) Validate() error {
	if len(r.DeliveryAgentIDs) == 0 {
		return fmt.Errorf("delivery_agent_ids must not be empty")
	}
	if r.Message == "" {
		return fmt.Errorf("message is required")
	}
	if _, err := time.Parse("2006-01-02", r.TargetDate); err != nil {
		return fmt.Errorf("target_date must be YYYY-MM-DD")
	}
	return nil
}

// ReminderFailure describes one agent whose reminder could not be written.
type ReminderFailure struct {
	DeliveryAgentID string `json:"delivery_agent_id"`
	Error           string `json:"error"`
}

// SendReminderResult is the response for POST /v1/payouts/send-reminder.
type SendReminderResult struct {
	SentCount  int               `json:"sent_count"`
	ErrorCount int               `json:"error_count"`
	Details    []ReminderFailure `json:"details"`
}

// TriggerEscalationRequest is the request body for POST /v1/payouts/trigger-escalation.
type TriggerEscalationRequest struct {
	OrderID  string   `json:"order_id"`
	Reason   string   `json:"reason"`
	Priority Priority `json:"priority"`
}

// Validate checks the trigger request.
func (r TriggerEscalationRequest) Validate() error {
	if r.OrderID == "" {
		return fmt.Errorf("order_id is required")
	}
	if r.Reason == "" {
		return fmt.Errorf("reason is required")
	}
	if !ValidPriority(r.Priority) {
		return fmt.Errorf("priority must be one of critical, high, medium (got %q)", r.Priority)
	}
	return nil
}

// RejectPayoutRequest is the request body for POST /v1/payouts/{id}/reject.
type RejectPayoutRequest struct {
	Reason string `json:"reason"`
}

// Actor is an authenticated API principal (back-office staff).
type Actor struct {
	ID         uuid.UUID `json:"id"`
	ActorID    string    `json:"actor_id"`
	Name       string    `json:"name"`
	Role       Role      `json:"role"`
	APIKeyHash *string   `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Postgres string `json:"postgres"`
	Uptime   int64  `json:"uptime_seconds"`
}
