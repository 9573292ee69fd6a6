package escalation_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetops/tollgate/internal/model"
	"github.com/fleetops/tollgate/internal/policy"
	"github.com/fleetops/tollgate/internal/service/escalation"
	"github.com/fleetops/tollgate/internal/storage"
	"github.com/fleetops/tollgate/internal/testutil"
)

var (
	testDB  *storage.DB
	testSvc *escalation.Service
)

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create test DB: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}
	testSvc = escalation.New(testDB, policy.Default(), testutil.TestLogger())

	code := m.Run()

	testDB.Close()
	tc.Terminate()
	os.Exit(code)
}

func newApprover(t *testing.T, role model.Role) model.Actor {
	t.Helper()
	a, err := testDB.CreateActor(context.Background(), model.Actor{
		ActorID: fmt.Sprintf("%s-%s", role, uuid.New().String()[:8]),
		Name:    "Approver",
		Role:    role,
	})
	require.NoError(t, err)
	return a
}

func TestValidateCost_WithinLimit(t *testing.T) {
	resp, err := testSvc.ValidateCost(context.Background(), model.ValidateCostRequest{
		CostType:    model.CostLogistics,
		Category:    "last_mile",
		AmountCents: 200_00,
	}, "ops-tester")
	require.NoError(t, err)
	assert.True(t, resp.WithinLimit)
	assert.Nil(t, resp.Violation)
	assert.Nil(t, resp.Escalation)
	assert.Equal(t, int64(250_00), resp.LimitCents)
}

func TestValidateCost_OverLimitCreatesEscalation(t *testing.T) {
	ctx := context.Background()

	// 400 over a 250 limit: overage 150, ratio 0.6, so high priority {fc, gm}.
	resp, err := testSvc.ValidateCost(ctx, model.ValidateCostRequest{
		CostType:    model.CostLogistics,
		Category:    "last_mile",
		AmountCents: 400_00,
	}, "ops-tester")
	require.NoError(t, err)
	assert.False(t, resp.WithinLimit)
	assert.Equal(t, int64(150_00), resp.OverageCents)
	require.NotNil(t, resp.Violation)
	require.NotNil(t, resp.Escalation)

	assert.Equal(t, model.ViolationBlocked, resp.Violation.Status)
	assert.Equal(t, model.PriorityHigh, resp.Escalation.Priority)
	assert.True(t, model.NewRoleSet(model.RoleFC, model.RoleGM).Equal(resp.Escalation.RequiredRoles))
	assert.WithinDuration(t, time.Now().Add(48*time.Hour), resp.Escalation.ExpiresAt, time.Minute)

	got, err := testSvc.Get(ctx, resp.Escalation.ID)
	require.NoError(t, err)
	assert.Equal(t, resp.Violation.ID, got.ViolationID)
}

func TestValidateCost_PersistsReference(t *testing.T) {
	ctx := context.Background()
	ref := "ORD-77412"

	resp, err := testSvc.ValidateCost(ctx, model.ValidateCostRequest{
		CostType:    model.CostLogistics,
		Category:    "last_mile",
		AmountCents: 400_00,
		Reference:   &ref,
	}, "ops-tester")
	require.NoError(t, err)
	require.NotNil(t, resp.Violation)
	require.NotNil(t, resp.Violation.Reference)
	assert.Equal(t, ref, *resp.Violation.Reference)

	v, err := testDB.GetViolation(ctx, resp.Violation.ID)
	require.NoError(t, err)
	require.NotNil(t, v.Reference)
	assert.Equal(t, ref, *v.Reference)
}

func TestValidateCost_CriticalOverage(t *testing.T) {
	// 600 over a 250 limit: overage 350 > limit, so critical {fc, gm, ceo}, 24h.
	resp, err := testSvc.ValidateCost(context.Background(), model.ValidateCostRequest{
		CostType:    model.CostLogistics,
		Category:    "last_mile",
		AmountCents: 600_00,
	}, "ops-tester")
	require.NoError(t, err)
	require.NotNil(t, resp.Escalation)
	assert.Equal(t, model.PriorityCritical, resp.Escalation.Priority)
	assert.True(t, model.NewRoleSet(model.RoleFC, model.RoleGM, model.RoleCEO).Equal(resp.Escalation.RequiredRoles))
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), resp.Escalation.ExpiresAt, time.Minute)
}

func TestDecide_EndToEnd(t *testing.T) {
	ctx := context.Background()
	fc := newApprover(t, model.RoleFC)

	// Small overage: medium priority, fc alone decides.
	resp, err := testSvc.ValidateCost(ctx, model.ValidateCostRequest{
		CostType:    model.CostBonus,
		Category:    "telesales",
		AmountCents: 450_00, // limit 400, overage 50, ratio 0.125
	}, "ops-tester")
	require.NoError(t, err)
	require.NotNil(t, resp.Escalation)
	assert.Equal(t, model.PriorityMedium, resp.Escalation.Priority)

	out, err := testSvc.Decide(ctx, resp.Escalation.ID, fc, model.DecisionApproved, nil)
	require.NoError(t, err)
	assert.True(t, out.Finalized)
	assert.Equal(t, model.EscalationApproved, out.Escalation.Status)

	detail, err := testSvc.GetWithDecisions(ctx, resp.Escalation.ID)
	require.NoError(t, err)
	require.Len(t, detail.Decisions, 1)
	assert.Equal(t, model.RoleFC, detail.Decisions[0].ApproverRole)
	assert.Equal(t, fc.ID, detail.Decisions[0].ApproverID)
	assert.Equal(t, model.DecisionApproved, detail.Decisions[0].Decision)
}

func TestDecide_TwoRoleQuorumAtHalfOverage(t *testing.T) {
	ctx := context.Background()
	fc := newApprover(t, model.RoleFC)
	gm := newApprover(t, model.RoleGM)

	// 1500 against a 1000 travel limit: overage is exactly half the limit,
	// which already demands the two-role high quorum.
	resp, err := testSvc.ValidateCost(ctx, model.ValidateCostRequest{
		CostType:    model.CostExpense,
		Category:    "travel",
		AmountCents: 1_500_00,
	}, "ops-tester")
	require.NoError(t, err)
	require.NotNil(t, resp.Escalation)
	assert.Equal(t, int64(500_00), resp.OverageCents)
	assert.Equal(t, model.PriorityHigh, resp.Escalation.Priority)
	require.True(t, model.NewRoleSet(model.RoleFC, model.RoleGM).Equal(resp.Escalation.RequiredRoles))

	out, err := testSvc.Decide(ctx, resp.Escalation.ID, fc, model.DecisionApproved, nil)
	require.NoError(t, err)
	assert.False(t, out.Finalized)
	assert.Equal(t, []model.Role{model.RoleGM}, out.MissingRoles)

	out, err = testSvc.Decide(ctx, resp.Escalation.ID, gm, model.DecisionApproved, nil)
	require.NoError(t, err)
	assert.True(t, out.Finalized)
	assert.Equal(t, model.EscalationApproved, out.Escalation.Status)

	v, err := testDB.GetViolation(ctx, resp.Violation.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ViolationApproved, v.Status)
}

func TestDecide_WrongRoleRejected(t *testing.T) {
	ctx := context.Background()
	ops := newApprover(t, model.RoleOps)

	resp, err := testSvc.ValidateCost(ctx, model.ValidateCostRequest{
		CostType:    model.CostBonus,
		Category:    "telesales",
		AmountCents: 450_00,
	}, "ops-tester")
	require.NoError(t, err)
	require.NotNil(t, resp.Escalation)

	_, err = testSvc.Decide(ctx, resp.Escalation.ID, ops, model.DecisionApproved, nil)
	assert.ErrorIs(t, err, storage.ErrRoleNotRequired)
}

func TestPendingForApprover_ExcludesExpired(t *testing.T) {
	ctx := context.Background()

	resp, err := testSvc.ValidateCost(ctx, model.ValidateCostRequest{
		CostType:    model.CostExpense,
		Category:    "office",
		AmountCents: 900_00, // limit 500, overage 400, ratio 0.8 -> high
	}, "ops-tester")
	require.NoError(t, err)
	require.NotNil(t, resp.Escalation)

	pending, err := testSvc.PendingForApprover(ctx, model.RoleGM)
	require.NoError(t, err)
	found := false
	for _, e := range pending {
		if e.ID == resp.Escalation.ID {
			found = true
		}
	}
	assert.True(t, found)
}
