// Package policy holds the cost threshold table and the quorum rules that
// turn an overage into an escalation priority, approver set, and deadline.
package policy

import (
	"fmt"
	"time"

	"github.com/fleetops/tollgate/internal/model"
)

// Evaluation is the outcome of checking one cost against the threshold table.
type Evaluation struct {
	CostType     model.CostType
	Category     string
	AmountCents  int64
	LimitCents   int64
	OverageCents int64
	WithinLimit  bool
}

// Quorum describes the approval requirements derived from an overage.
type Quorum struct {
	Priority      model.Priority
	RequiredRoles model.RoleSet
	TTL           time.Duration
}

// TTLConfig carries the per-priority escalation deadlines.
type TTLConfig struct {
	Critical time.Duration
	High     time.Duration
	Medium   time.Duration
}

// Policy is the injected threshold configuration. Category limits take
// precedence over the per-type default; a type with neither is rejected.
type Policy struct {
	// CategoryLimits maps cost type -> category -> limit in cents.
	CategoryLimits map[model.CostType]map[string]int64
	// TypeDefaults maps cost type -> fallback limit in cents.
	TypeDefaults map[model.CostType]int64

	TTLs TTLConfig
}

// Default returns the built-in threshold table. Amounts are cents.
func Default() *Policy {
	return &Policy{
		CategoryLimits: map[model.CostType]map[string]int64{
			model.CostLogistics: {
				"last_mile":   250_00,
				"line_haul":   1_500_00,
				"warehousing": 800_00,
			},
			model.CostExpense: {
				"office":    500_00,
				"travel":    1_000_00,
				"marketing": 2_000_00,
			},
			model.CostBonus: {
				"delivery_agent": 300_00,
				"telesales":      400_00,
			},
		},
		TypeDefaults: map[model.CostType]int64{
			model.CostLogistics: 500_00,
			model.CostExpense:   750_00,
			model.CostBonus:     200_00,
		},
		TTLs: TTLConfig{
			Critical: 24 * time.Hour,
			High:     48 * time.Hour,
			Medium:   72 * time.Hour,
		},
	}
}

// LimitFor resolves the applicable limit for a cost type and category.
func (p *Policy) LimitFor(costType model.CostType, category string) (int64, error) {
	if cats, ok := p.CategoryLimits[costType]; ok {
		if limit, ok := cats[category]; ok {
			return limit, nil
		}
	}
	if limit, ok := p.TypeDefaults[costType]; ok {
		return limit, nil
	}
	return 0, fmt.Errorf("policy: no limit configured for cost type %q", costType)
}

// Evaluate checks a single cost against the table. Costs at or below the
// limit pass; the first cent over the limit is a violation.
func (p *Policy) Evaluate(costType model.CostType, category string, amountCents int64) (Evaluation, error) {
	if !model.ValidCostType(costType) {
		return Evaluation{}, fmt.Errorf("policy: invalid cost type %q", costType)
	}
	if amountCents <= 0 {
		return Evaluation{}, fmt.Errorf("policy: amount must be positive, got %d", amountCents)
	}
	limit, err := p.LimitFor(costType, category)
	if err != nil {
		return Evaluation{}, err
	}
	ev := Evaluation{
		CostType:    costType,
		Category:    category,
		AmountCents: amountCents,
		LimitCents:  limit,
		WithinLimit: amountCents <= limit,
	}
	if !ev.WithinLimit {
		ev.OverageCents = amountCents - limit
	}
	return ev, nil
}

// QuorumFor maps an overage to its priority, required approver roles, and
// deadline. Breakpoints are on the overage-to-limit ratio:
//
//	ratio > 1.0    critical  {fc, gm, ceo}
//	ratio >= 0.5   high      {fc, gm}
//	otherwise      medium    {fc}
//
// An overage of exactly half the limit already needs the two-role quorum.
// Comparisons are done in integer cents to avoid float drift at breakpoints.
func (p *Policy) QuorumFor(overageCents, limitCents int64) Quorum {
	switch {
	case overageCents > limitCents:
		return Quorum{
			Priority:      model.PriorityCritical,
			RequiredRoles: model.NewRoleSet(model.ApproverRoles...),
			TTL:           p.TTLs.Critical,
		}
	case 2*overageCents >= limitCents:
		return Quorum{
			Priority:      model.PriorityHigh,
			RequiredRoles: model.NewRoleSet(model.RoleFC, model.RoleGM),
			TTL:           p.TTLs.High,
		}
	default:
		return Quorum{
			Priority:      model.PriorityMedium,
			RequiredRoles: model.NewRoleSet(model.RoleFC),
			TTL:           p.TTLs.Medium,
		}
	}
}
