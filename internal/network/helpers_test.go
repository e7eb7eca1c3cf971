package network

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testClock ticks one millisecond on every read so records created in sequence keep
// their order.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	mem   *InMemory
	clock *testClock
	svc   *Service
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	return newHarnessWithStore(t, NewInMemory(), opts...)
}

func newHarnessWithStore(t *testing.T, mem *InMemory, opts ...Option) *harness {
	t.Helper()
	return newHarnessOver(t, mem, mem, opts...)
}

// newHarnessOver runs the service over store while mem stays reachable for setup.
func newHarnessOver(t *testing.T, mem *InMemory, store Store, opts ...Option) *harness {
	t.Helper()
	ctx := context.Background()
	tiers, err := DefaultCatalogue()
	require.NoError(t, err)
	require.NoError(t, SeedTiers(ctx, mem.Tiers(), tiers))
	clock := newTestClock()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return &harness{t: t, ctx: ctx, mem: mem, clock: clock, svc: NewService(store, opts...)}
}

func (h *harness) register(handle string) Member {
	h.t.Helper()
	m, err := h.svc.Register(h.ctx, Registration{
		Email:     handle + "@example.org",
		FirstName: "First",
		LastName:  "Last",
		Handle:    handle,
	})
	require.NoError(h.t, err)
	return m
}

func (h *harness) activate(id string) Activation {
	h.t.Helper()
	a, err := h.svc.Activate(h.ctx, id)
	require.NoError(h.t, err)
	return a
}

func (h *harness) initiate(id string) PairRef {
	h.t.Helper()
	ref, err := h.svc.InitiatePayment(h.ctx, id)
	require.NoError(h.t, err)
	require.NotNil(h.t, ref.Credit)
	return ref
}

func (h *harness) approve(uplineID string, ref PairRef) Approval {
	h.t.Helper()
	a, err := h.svc.ApprovePayment(h.ctx, uplineID, ref.Credit.ID)
	require.NoError(h.t, err)
	return a
}

// join activates id, pays the upline and has it approved.
func (h *harness) join(id string) string {
	h.t.Helper()
	act := h.activate(id)
	ref := h.initiate(id)
	h.approve(act.Upline.AccountID, ref)
	return act.Upline.AccountID
}

// joinTogether activates every id before any payment is approved, so none of them
// is an open tier-1 candidate while the others are placed. It returns the uplines
// in order.
func (h *harness) joinTogether(ids ...string) []string {
	h.t.Helper()
	uplines := make([]string, len(ids))
	refs := make([]PairRef, len(ids))
	for i, id := range ids {
		uplines[i] = h.activate(id).Upline.AccountID
	}
	for i, id := range ids {
		refs[i] = h.initiate(id)
	}
	for i := range ids {
		h.approve(uplines[i], refs[i])
	}
	return uplines
}

func (h *harness) account(id string) Account {
	h.t.Helper()
	a, err := h.mem.Accounts().Get(h.ctx, id)
	require.NoError(h.t, err)
	return a
}

func (h *harness) profile(id string) Profile {
	h.t.Helper()
	p, err := h.mem.Profiles().Get(h.ctx, id)
	require.NoError(h.t, err)
	return p
}

func (h *harness) tracker(id string) Tracker {
	h.t.Helper()
	tr, err := h.mem.Trackers().Get(h.ctx, id)
	require.NoError(h.t, err)
	return tr
}

func (h *harness) wallet(id string) Wallet {
	h.t.Helper()
	w, err := h.mem.Wallets().Get(h.ctx, id)
	require.NoError(h.t, err)
	return w
}

func (h *harness) entry(id string) Entry {
	h.t.Helper()
	e, err := h.mem.Entries().Get(h.ctx, id)
	require.NoError(h.t, err)
	return e
}

// fixture is an admin, a tier-1 member placed under it and two registered accounts
// that have not activated yet.
type fixture struct {
	admin, lead, left, right Member
}

func (h *harness) seedNetwork() fixture {
	h.t.Helper()
	n := fixture{
		admin: h.register("admin"),
		lead:  h.register("lead"),
	}
	h.join(n.lead.Account.ID)
	n.left = h.register("left")
	n.right = h.register("right")
	return n
}
