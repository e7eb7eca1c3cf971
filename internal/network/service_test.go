package network

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRegisterFirstAccountIsAdmin(t *testing.T) {
	h := newHarness(t)
	admin := h.register("admin")
	member := h.register("member")

	assert.Equal(t, RoleAdmin, admin.Account.Role)
	assert.Equal(t, RoleMember, member.Account.Role)
	assert.Empty(t, member.Account.TierID)
	assert.Equal(t, StateAchieved, member.Tracker.State)
	assert.NotNil(t, member.Tracker.UpgradeDate)
	assert.Zero(t, member.Wallet.Balance)
	assert.False(t, member.Subscription.Active)
	assert.Equal(t, int64(500), member.Subscription.Amount)
	assert.Equal(t, "member@example.org", member.Account.Email)
}

func TestRegisterValidation(t *testing.T) {
	h := newHarness(t)
	h.register("taken")

	cases := map[string]Registration{
		"missing email":  {FirstName: "A", LastName: "B", Handle: "h1"},
		"bad email":      {Email: "not an email", FirstName: "A", LastName: "B", Handle: "h2"},
		"missing name":   {Email: "a@example.org", Handle: "h3"},
		"missing handle": {Email: "a@example.org", FirstName: "A", LastName: "B"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.svc.Register(h.ctx, in)
			assert.Equal(t, KindValidation, KindOf(err))
		})
	}

	before, err := h.mem.Accounts().Count(h.ctx)
	require.NoError(t, err)
	_, err = h.svc.Register(h.ctx, Registration{Email: "x@example.org", FirstName: "X", LastName: "Y", Handle: "taken"})
	require.ErrorIs(t, err, ErrHandleTaken)
	after, err := h.mem.Accounts().Count(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after, "the half-created account is removed")
}

func TestMemberReadModels(t *testing.T) {
	h := newHarness(t)
	n := h.seedNetwork()
	h.activate(n.left.Account.ID)
	ref := h.initiate(n.left.Account.ID)

	m, err := h.svc.Member(h.ctx, n.lead.Account.ID)
	require.NoError(t, err)
	require.NotNil(t, m.Tier)
	assert.Equal(t, "tier-1", m.Tier.ID)
	assert.Equal(t, 1, m.Tracker.Count)

	kids, err := h.svc.Downlines(h.ctx, n.lead.Account.ID)
	require.NoError(t, err)
	require.Len(t, kids, 1)
	assert.Equal(t, n.left.Account.ID, kids[0].AccountID)

	pending, err := h.svc.Entries(h.ctx, n.lead.Account.ID, EntryFilter{Status: StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ref.Credit.ID, pending[0].ID)

	_, err = h.svc.Entry(h.ctx, n.right.Account.ID, ref.Credit.ID)
	assert.ErrorIs(t, err, ErrEntryNotFound, "entries are private to their owner")
	e, err := h.svc.Entry(h.ctx, n.lead.Account.ID, ref.Credit.ID)
	require.NoError(t, err)
	assert.Equal(t, EntryCredit, e.Type)

	notes, err := h.svc.Notifications(h.ctx, n.lead.Account.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, notes)
	assert.Equal(t, KindPaymentAwaiting, notes[0].Kind, "newest first")
	require.NoError(t, h.svc.MarkNotificationRead(h.ctx, n.lead.Account.ID, notes[0].ID))
	err = h.svc.MarkNotificationRead(h.ctx, n.lead.Account.ID, "missing")
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestUpdatePayout(t *testing.T) {
	h := newHarness(t)
	m := h.register("m")

	_, err := h.svc.UpdatePayout(h.ctx, m.Account.ID, Payout{BankName: "Bank"})
	assert.Equal(t, KindValidation, KindOf(err))

	w, err := h.svc.UpdatePayout(h.ctx, m.Account.ID, Payout{BankName: " Bank ", AccountName: "M", AccountNumber: "0001"})
	require.NoError(t, err)
	assert.Equal(t, "Bank", w.Payout.BankName)
	assert.Zero(t, w.Balance)
}

type failingNotifier struct{}

func (failingNotifier) Notify(context.Context, Notification) error {
	return errors.New("broker down")
}

func TestNotificationFailuresAreLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	h := newHarness(t, WithNotifier(failingNotifier{}), WithLogger(zap.New(core)))
	h.register("admin")

	entries := logs.FilterMessage("notification dropped").All()
	require.Len(t, entries, 1)
	assert.Equal(t, KindWelcome, entries[0].ContextMap()["kind"])
}

func TestStoreErrClassification(t *testing.T) {
	assert.Same(t, ErrAccountNotFound, storeErr(ErrNotFound, ErrAccountNotFound))
	assert.Equal(t, KindInternal, KindOf(storeErr(errors.New("boom"), ErrAccountNotFound)))
	assert.ErrorIs(t, storeErr(context.Canceled, ErrAccountNotFound), context.Canceled)
	assert.NoError(t, storeErr(nil, ErrAccountNotFound))
	assert.Equal(t, "internal", CodeOf(errors.New("x")))
	assert.Equal(t, "no_upline", CodeOf(ErrNoUpline))
}
