package payout_test

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
	"github.com/fleetops/tollgate/internal/service/payout"
	"github.com/fleetops/tollgate/internal/storage"
	"github.com/fleetops/tollgate/internal/testutil"
)

var (
	testDB  *storage.DB
	testSvc *payout.Service
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
	testSvc = payout.New(testDB, 48*time.Hour, testutil.TestLogger())

	code := m.Run()

	testDB.Close()
	tc.Terminate()
	os.Exit(code)
}

func newPayout(t *testing.T) model.Payout {
	t.Helper()
	p, err := testSvc.Create(context.Background(), model.Payout{
		OrderID:         "ORD-" + uuid.New().String()[:8],
		DeliveryAgentID: "DA-200",
		AmountCents:     90_00,
		Zone:            "south",
	})
	require.NoError(t, err)
	return p
}

func TestMarkApproveFlow(t *testing.T) {
	ctx := context.Background()
	p := newPayout(t)

	marked, err := testSvc.MarkIntent(ctx, p.ID, "fc-amina")
	require.NoError(t, err)
	assert.Equal(t, model.PayoutIntentMarked, marked.Status)

	approved, err := testSvc.Approve(ctx, p.ID, "fc-amina")
	require.NoError(t, err)
	assert.Equal(t, model.PayoutApproved, approved.Status)
	assert.NotNil(t, approved.ApprovedAt)
}

func TestRejectRequiresIntent(t *testing.T) {
	ctx := context.Background()
	p := newPayout(t)

	_, err := testSvc.Reject(ctx, p.ID, "fc-amina", "POS mismatch")
	assert.ErrorIs(t, err, storage.ErrInvalidTransition)

	_, err = testSvc.MarkIntent(ctx, p.ID, "fc-amina")
	require.NoError(t, err)

	rejected, err := testSvc.Reject(ctx, p.ID, "fc-amina", "POS mismatch")
	require.NoError(t, err)
	assert.Equal(t, model.PayoutRejected, rejected.Status)
	require.NotNil(t, rejected.RejectionReason)
	assert.Equal(t, "POS mismatch", *rejected.RejectionReason)
}

func TestAutoRevertStale_RevertsOnlyOldPending(t *testing.T) {
	ctx := context.Background()
	stale := newPayout(t)
	fresh := newPayout(t)
	worked := newPayout(t)

	_, err := testSvc.MarkIntent(ctx, worked.ID, "fc-amina")
	require.NoError(t, err)

	// Everything created so far is younger than any positive cutoff, so a
	// negative-age sweep is simulated with a tiny cutoff after a backdate.
	_, err = testDB.Pool().Exec(ctx,
		`UPDATE payouts SET created_at = now() - interval '72 hours' WHERE id = $1`, stale.ID)
	require.NoError(t, err)
	_, err = testDB.Pool().Exec(ctx,
		`UPDATE payouts SET created_at = now() - interval '72 hours' WHERE id = $1`, worked.ID)
	require.NoError(t, err)

	result, err := testSvc.AutoRevertStale(ctx, 48*time.Hour)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.RevertedCount, 1)
	assert.Empty(t, result.Errors)

	got, err := testSvc.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PayoutAutoReverted, got.Status)

	// The fresh pending payout and the intent_marked payout are untouched.
	got, err = testSvc.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PayoutPending, got.Status)

	got, err = testSvc.Get(ctx, worked.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PayoutIntentMarked, got.Status)
}

func TestAutoRevertStale_SecondSweepIsNoop(t *testing.T) {
	ctx := context.Background()
	stale := newPayout(t)

	_, err := testDB.Pool().Exec(ctx,
		`UPDATE payouts SET created_at = now() - interval '72 hours' WHERE id = $1`, stale.ID)
	require.NoError(t, err)

	first, err := testSvc.AutoRevertStale(ctx, 48*time.Hour)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, first.RevertedCount, 1)

	second, err := testSvc.AutoRevertStale(ctx, 48*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, second.RevertedCount)
	assert.Equal(t, 0, second.SkippedCount)
}

func TestUnlockAfterAutoRevert(t *testing.T) {
	ctx := context.Background()
	p := newPayout(t)

	_, err := testDB.Pool().Exec(ctx,
		`UPDATE payouts SET created_at = now() - interval '72 hours' WHERE id = $1`, p.ID)
	require.NoError(t, err)
	_, err = testSvc.AutoRevertStale(ctx, 48*time.Hour)
	require.NoError(t, err)

	unlocked, err := testSvc.Unlock(ctx, p.ID, "gm-bilal")
	require.NoError(t, err)
	assert.Equal(t, model.PayoutPending, unlocked.Status)

	// Unlocked payouts rejoin the normal flow.
	_, err = testSvc.MarkIntent(ctx, p.ID, "fc-amina")
	require.NoError(t, err)
}

func TestHoldAndRelease(t *testing.T) {
	ctx := context.Background()
	p := newPayout(t)

	held, err := testSvc.Hold(ctx, p.ID, "compliance-dina")
	require.NoError(t, err)
	assert.Equal(t, model.PayoutOnHold, held.Status)

	// A held payout cannot be worked until it is released.
	_, err = testSvc.MarkIntent(ctx, p.ID, "fc-amina")
	assert.ErrorIs(t, err, storage.ErrStaleState)

	released, err := testSvc.Release(ctx, p.ID, "compliance-dina")
	require.NoError(t, err)
	assert.Equal(t, model.PayoutPending, released.Status)

	_, err = testSvc.MarkIntent(ctx, p.ID, "fc-amina")
	require.NoError(t, err)

	// Terminal payouts cannot be parked.
	approved, err := testSvc.Approve(ctx, p.ID, "fc-amina")
	require.NoError(t, err)
	_, err = testSvc.Hold(ctx, approved.ID, "compliance-dina")
	assert.ErrorIs(t, err, storage.ErrInvalidTransition)
}

func TestPendingConfirmationsIncludesAging(t *testing.T) {
	ctx := context.Background()
	p := newPayout(t)

	out, total, err := testSvc.PendingConfirmations(ctx, storage.PayoutFilter{Limit: 1000})
	require.NoError(t, err)
	assert.Greater(t, total, 0)

	found := false
	for _, got := range out {
		if got.ID == p.ID {
			found = true
			assert.GreaterOrEqual(t, got.AgingHours, 0.0)
		}
	}
	assert.True(t, found)
}

func TestPendingConfirmations_PaginatesAcrossStatuses(t *testing.T) {
	ctx := context.Background()
	zone := "zone-" + uuid.New().String()[:8]

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		p, err := testSvc.Create(ctx, model.Payout{
			OrderID:         "ORD-" + uuid.New().String()[:8],
			DeliveryAgentID: "DA-201",
			AmountCents:     90_00,
			Zone:            zone,
		})
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}
	// One of the three is already being worked; it still belongs to the queue.
	_, err := testSvc.MarkIntent(ctx, ids[1], "fc-amina")
	require.NoError(t, err)

	page1, total, err := testSvc.PendingConfirmations(ctx, storage.PayoutFilter{
		Zone: zone, Limit: 2, Offset: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page1, 2)

	page2, total, err := testSvc.PendingConfirmations(ctx, storage.PayoutFilter{
		Zone: zone, Limit: 2, Offset: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page2, 1)

	// The two pages cover all three rows with no duplicates.
	seen := map[uuid.UUID]bool{}
	for _, p := range append(page1, page2...) {
		assert.False(t, seen[p.ID], "payout %s returned twice", p.ID)
		seen[p.ID] = true
	}
	for _, id := range ids {
		assert.True(t, seen[id], "payout %s missing from the paged queue", id)
	}
}

func TestTriggerEscalationWritesAudit(t *testing.T) {
	ctx := context.Background()
	p := newPayout(t)
	actor := model.Actor{ActorID: "ops-kofi", Role: model.RoleOps}

	got, err := testSvc.TriggerEscalation(ctx, model.TriggerEscalationRequest{
		OrderID:  p.OrderID,
		Reason:   "payout stuck 3 days",
		Priority: model.PriorityHigh,
	}, actor, uuid.New().String())
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	// Unknown orders are a 404-class failure, not an audit entry.
	_, err = testSvc.TriggerEscalation(ctx, model.TriggerEscalationRequest{
		OrderID:  "ORD-DOES-NOT-EXIST",
		Reason:   "payout stuck 3 days",
		Priority: model.PriorityCritical,
	}, actor, uuid.New().String())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
