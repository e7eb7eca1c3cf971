package network

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// activateSubscription flips the subscription of id to active and unpaid.
func (h *harness) activateSubscription(id string) {
	h.t.Helper()
	sub, err := h.mem.Subscriptions().Get(h.ctx, id)
	require.NoError(h.t, err)
	sub.Active = true
	_, err = h.mem.Subscriptions().Update(h.ctx, sub)
	require.NoError(h.t, err)
}

func TestInitiateSubscriptionRules(t *testing.T) {
	h := newHarness(t)
	admin := h.register("admin")
	m := h.register("member")

	_, err := h.svc.InitiateSubscription(h.ctx, admin.Account.ID)
	assert.ErrorIs(t, err, ErrIsAdmin)

	_, err = h.svc.InitiateSubscription(h.ctx, m.Account.ID)
	assert.ErrorIs(t, err, ErrSubscriptionNotDue, "inactive subscriptions are not due")

	h.activateSubscription(m.Account.ID)
	ref, err := h.svc.InitiateSubscription(h.ctx, m.Account.ID)
	require.NoError(t, err)
	require.NotNil(t, ref.Credit)
	assert.Equal(t, admin.Account.ID, ref.Credit.OwnerID)
	assert.Equal(t, int64(500), ref.Debit.Amount)
	assert.Equal(t, ReasonSubscription, ref.Debit.Reason)

	again, err := h.svc.InitiateSubscription(h.ctx, m.Account.ID)
	require.NoError(t, err)
	assert.Equal(t, ref.PairID, again.PairID)
}

func TestSubscriptionGatesPlacementPayment(t *testing.T) {
	h := newHarness(t)
	n := h.seedNetwork()
	h.activate(n.left.Account.ID)
	h.activateSubscription(n.left.Account.ID)

	_, err := h.svc.InitiatePayment(h.ctx, n.left.Account.ID)
	assert.ErrorIs(t, err, ErrSubscriptionRequired)
}

func TestApproveSubscriptionSchedulesRenewals(t *testing.T) {
	h := newHarness(t)
	admin := h.register("admin")
	m := h.register("member")
	h.activateSubscription(m.Account.ID)

	ref, err := h.svc.InitiateSubscription(h.ctx, m.Account.ID)
	require.NoError(t, err)

	_, err = h.svc.ApproveSubscription(h.ctx, m.Account.ID, ref.Credit.ID)
	assert.ErrorIs(t, err, ErrNotEntryOwner)

	got, err := h.svc.ApproveSubscription(h.ctx, admin.Account.ID, ref.Credit.ID)
	require.NoError(t, err)
	assert.True(t, got.Subscription.Paid)
	assert.Equal(t, 1, got.Subscription.Renewals)
	require.NotNil(t, got.Subscription.Date)
	first := *got.Subscription.Date
	due, ok := got.Subscription.DueAt()
	require.True(t, ok)
	assert.Equal(t, first.AddDate(0, 1, 0), due)
	assert.Equal(t, int64(500), got.Wallet.Balance)
	assert.Equal(t, StatusSuccess, h.entry(ref.Debit.ID).Status)
	assert.Equal(t, StatusSuccess, h.entry(ref.Credit.ID).Status)

	_, err = h.svc.ApproveSubscription(h.ctx, admin.Account.ID, ref.Credit.ID)
	assert.ErrorIs(t, err, ErrAlreadyApproved)

	_, err = h.svc.InitiateSubscription(h.ctx, m.Account.ID)
	assert.ErrorIs(t, err, ErrSubscriptionNotDue, "paid until next month")

	h.clock.Advance(32 * 24 * time.Hour)
	renew, err := h.svc.InitiateSubscription(h.ctx, m.Account.ID)
	require.NoError(t, err)
	got, err = h.svc.ApproveSubscription(h.ctx, admin.Account.ID, renew.Credit.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Subscription.Renewals)
	due, ok = got.Subscription.DueAt()
	require.True(t, ok)
	assert.True(t, due.After(h.clock.Now().Add(27*24*time.Hour)), "renewal stamps the next due date")
	assert.Equal(t, int64(1000), got.Wallet.Balance)
}

func TestApproveSubscriptionRejectsPlacementEntries(t *testing.T) {
	h := newHarness(t)
	n := h.seedNetwork()
	h.activate(n.left.Account.ID)
	ref := h.initiate(n.left.Account.ID)

	_, err := h.svc.ApproveSubscription(h.ctx, n.lead.Account.ID, ref.Credit.ID)
	assert.ErrorIs(t, err, ErrWrongEntry)
}
