package network

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety. It backs tests and
// single-process development runs.
type InMemory struct {
	mu            sync.RWMutex
	accounts      map[string]Account
	profiles      map[string]Profile
	handles       map[string]string
	tiers         map[string]Tier
	trackers      map[string]Tracker
	wallets       map[string]Wallet
	entries       map[string]Entry
	pending       map[PendingKey]string
	subscriptions map[string]Subscription
	notifications map[string][]Notification
	cooldowns     map[string]time.Time
	now           func() time.Time
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		accounts:      make(map[string]Account),
		profiles:      make(map[string]Profile),
		handles:       make(map[string]string),
		tiers:         make(map[string]Tier),
		trackers:      make(map[string]Tracker),
		wallets:       make(map[string]Wallet),
		entries:       make(map[string]Entry),
		pending:       make(map[PendingKey]string),
		subscriptions: make(map[string]Subscription),
		notifications: make(map[string][]Notification),
		cooldowns:     make(map[string]time.Time),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (m *InMemory) Accounts() AccountStore           { return memAccounts{m} }
func (m *InMemory) Profiles() ProfileStore           { return memProfiles{m} }
func (m *InMemory) Tiers() TierStore                 { return memTiers{m} }
func (m *InMemory) Trackers() TrackerStore           { return memTrackers{m} }
func (m *InMemory) Wallets() WalletStore             { return memWallets{m} }
func (m *InMemory) Entries() EntryStore              { return memEntries{m} }
func (m *InMemory) Subscriptions() SubscriptionStore { return memSubscriptions{m} }
func (m *InMemory) Notifications() NotificationStore { return memNotifications{m} }
func (m *InMemory) Cooldowns() CooldownStore         { return memCooldowns{m} }

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneRevision(r Revision) Revision {
	return Revision{Version: r.Version, Applied: slices.Clone(r.Applied)}
}

func (a Account) clone() Account {
	a.DeletedAt = cloneTime(a.DeletedAt)
	a.Revision = cloneRevision(a.Revision)
	return a
}

func (p Profile) clone() Profile {
	p.Parents = slices.Clone(p.Parents)
	p.DeletedAt = cloneTime(p.DeletedAt)
	p.Revision = cloneRevision(p.Revision)
	return p
}

func (t Tracker) clone() Tracker {
	t.UpgradeDate = cloneTime(t.UpgradeDate)
	t.DeletedAt = cloneTime(t.DeletedAt)
	if t.Advance != nil {
		adv := *t.Advance
		t.Advance = &adv
	}
	t.Revision = cloneRevision(t.Revision)
	return t
}

func (w Wallet) clone() Wallet {
	w.Revision = cloneRevision(w.Revision)
	return w
}

func (s Subscription) clone() Subscription {
	s.Date = cloneTime(s.Date)
	s.DeletedAt = cloneTime(s.DeletedAt)
	s.Revision = cloneRevision(s.Revision)
	return s
}

// --- accounts ---

type memAccounts struct{ m *InMemory }

func (s memAccounts) Create(ctx context.Context, a Account) (Account, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.accounts[a.ID]; ok {
		return Account{}, ErrDuplicate
	}
	now := s.m.now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	a.Version = 1
	s.m.accounts[a.ID] = a.clone()
	return a.clone(), nil
}

func (s memAccounts) Get(ctx context.Context, id string) (Account, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	a, ok := s.m.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a.clone(), nil
}

func (s memAccounts) Update(ctx context.Context, a Account) (Account, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	cur, ok := s.m.accounts[a.ID]
	if !ok {
		return Account{}, ErrNotFound
	}
	if cur.Version != a.Version {
		return Account{}, ErrVersionConflict
	}
	a.CreatedAt = cur.CreatedAt
	a.UpdatedAt = s.m.now()
	a.Version++
	s.m.accounts[a.ID] = a.clone()
	return a.clone(), nil
}

func (s memAccounts) Delete(ctx context.Context, id string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.accounts[id]; !ok {
		return ErrNotFound
	}
	delete(s.m.accounts, id)
	return nil
}

func (s memAccounts) Count(ctx context.Context) (int, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	return len(s.m.accounts), nil
}

func (s memAccounts) List(ctx context.Context, f AccountFilter) ([]Account, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	var out []Account
	for _, a := range s.m.accounts {
		if f.Role != "" && a.Role != f.Role {
			continue
		}
		if f.LiveOnly && !a.Live() {
			continue
		}
		if !f.CreatedBefore.IsZero() && !a.CreatedAt.Before(f.CreatedBefore) {
			continue
		}
		out = append(out, a.clone())
	}
	sortAccounts(out)
	return out, nil
}

func (s memAccounts) Candidates(ctx context.Context, f CandidateFilter) ([]Candidate, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	var accts []Account
	for _, a := range s.m.accounts {
		if !a.Live() || (f.Role != "" && a.Role != f.Role) {
			continue
		}
		if !f.AnyTier && a.TierID != f.TierID {
			continue
		}
		accts = append(accts, a)
	}
	sortAccounts(accts)
	out := make([]Candidate, 0, len(accts))
	for _, a := range accts {
		t, ok := s.m.trackers[a.ID]
		if !ok || t.DeletedAt != nil {
			continue
		}
		out = append(out, Candidate{Account: a.clone(), Tracker: t.clone()})
	}
	return out, nil
}

func sortAccounts(accts []Account) {
	sort.Slice(accts, func(i, j int) bool {
		if !accts[i].CreatedAt.Equal(accts[j].CreatedAt) {
			return accts[i].CreatedAt.Before(accts[j].CreatedAt)
		}
		return accts[i].ID < accts[j].ID
	})
}

// --- profiles ---

type memProfiles struct{ m *InMemory }

func (s memProfiles) Create(ctx context.Context, p Profile) (Profile, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.profiles[p.AccountID]; ok {
		return Profile{}, ErrDuplicate
	}
	if _, ok := s.m.handles[p.Handle]; ok {
		return Profile{}, ErrDuplicate
	}
	now := s.m.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	p.Version = 1
	s.m.profiles[p.AccountID] = p.clone()
	s.m.handles[p.Handle] = p.AccountID
	return p.clone(), nil
}

func (s memProfiles) Get(ctx context.Context, accountID string) (Profile, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	p, ok := s.m.profiles[accountID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p.clone(), nil
}

func (s memProfiles) Update(ctx context.Context, p Profile) (Profile, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	cur, ok := s.m.profiles[p.AccountID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	if cur.Version != p.Version {
		return Profile{}, ErrVersionConflict
	}
	if p.Handle != cur.Handle {
		if owner, taken := s.m.handles[p.Handle]; taken && owner != p.AccountID {
			return Profile{}, ErrDuplicate
		}
		delete(s.m.handles, cur.Handle)
		s.m.handles[p.Handle] = p.AccountID
	}
	p.CreatedAt = cur.CreatedAt
	p.UpdatedAt = s.m.now()
	p.Version++
	s.m.profiles[p.AccountID] = p.clone()
	return p.clone(), nil
}

func (s memProfiles) Delete(ctx context.Context, accountID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	p, ok := s.m.profiles[accountID]
	if !ok {
		return ErrNotFound
	}
	delete(s.m.handles, p.Handle)
	delete(s.m.profiles, accountID)
	return nil
}

func (s memProfiles) Children(ctx context.Context, accountID string) ([]Profile, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	var out []Profile
	for _, p := range s.m.profiles {
		if p.ParentID == accountID && p.DeletedAt == nil {
			out = append(out, p.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].AccountID < out[j].AccountID
	})
	return out, nil
}

// --- tiers ---

type memTiers struct{ m *InMemory }

func (s memTiers) List(ctx context.Context) ([]Tier, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	out := make([]Tier, 0, len(s.m.tiers))
	for _, t := range s.m.tiers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out, nil
}

func (s memTiers) Get(ctx context.Context, id string) (Tier, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	t, ok := s.m.tiers[id]
	if !ok {
		return Tier{}, ErrNotFound
	}
	return t, nil
}

func (s memTiers) Upsert(ctx context.Context, t Tier) (Tier, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for id, existing := range s.m.tiers {
		if existing.Rank == t.Rank && id != t.ID {
			return Tier{}, ErrDuplicate
		}
	}
	t.UpdatedAt = s.m.now()
	s.m.tiers[t.ID] = t
	return t, nil
}

// --- trackers ---

type memTrackers struct{ m *InMemory }

func (s memTrackers) Create(ctx context.Context, t Tracker) (Tracker, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.trackers[t.AccountID]; ok {
		return Tracker{}, ErrDuplicate
	}
	now := s.m.now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	t.Version = 1
	s.m.trackers[t.AccountID] = t.clone()
	return t.clone(), nil
}

func (s memTrackers) Get(ctx context.Context, accountID string) (Tracker, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	t, ok := s.m.trackers[accountID]
	if !ok {
		return Tracker{}, ErrNotFound
	}
	return t.clone(), nil
}

func (s memTrackers) Update(ctx context.Context, t Tracker) (Tracker, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	cur, ok := s.m.trackers[t.AccountID]
	if !ok {
		return Tracker{}, ErrNotFound
	}
	if cur.Version != t.Version {
		return Tracker{}, ErrVersionConflict
	}
	t.CreatedAt = cur.CreatedAt
	t.UpdatedAt = s.m.now()
	t.Version++
	s.m.trackers[t.AccountID] = t.clone()
	return t.clone(), nil
}

func (s memTrackers) Delete(ctx context.Context, accountID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.trackers[accountID]; !ok {
		return ErrNotFound
	}
	delete(s.m.trackers, accountID)
	return nil
}

func (s memTrackers) UpgradeDue(ctx context.Context, before time.Time) ([]Tracker, error) {
	return s.filter(func(t Tracker) bool {
		return t.DeletedAt == nil && t.UpgradeDate != nil && t.UpgradeDate.Before(before)
	}), nil
}

func (s memTrackers) Stalled(ctx context.Context, paidCount int) ([]Tracker, error) {
	return s.filter(func(t Tracker) bool {
		return t.DeletedAt == nil && t.State == StateUnachieved && !t.UplinePaid && t.PaidCount == paidCount
	}), nil
}

func (s memTrackers) Unsettled(ctx context.Context) ([]Tracker, error) {
	return s.filter(func(t Tracker) bool { return t.Advance != nil }), nil
}

func (s memTrackers) filter(keep func(Tracker) bool) []Tracker {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	var out []Tracker
	for _, t := range s.m.trackers {
		if keep(t) {
			out = append(out, t.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].AccountID < out[j].AccountID
	})
	return out
}

// --- wallets ---

type memWallets struct{ m *InMemory }

func (s memWallets) Create(ctx context.Context, w Wallet) (Wallet, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.wallets[w.AccountID]; ok {
		return Wallet{}, ErrDuplicate
	}
	now := s.m.now()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now
	w.Version = 1
	s.m.wallets[w.AccountID] = w.clone()
	return w.clone(), nil
}

func (s memWallets) Get(ctx context.Context, accountID string) (Wallet, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	w, ok := s.m.wallets[accountID]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	return w.clone(), nil
}

func (s memWallets) Update(ctx context.Context, w Wallet) (Wallet, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	cur, ok := s.m.wallets[w.AccountID]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	if cur.Version != w.Version {
		return Wallet{}, ErrVersionConflict
	}
	w.CreatedAt = cur.CreatedAt
	w.UpdatedAt = s.m.now()
	w.Version++
	s.m.wallets[w.AccountID] = w.clone()
	return w.clone(), nil
}

func (s memWallets) Delete(ctx context.Context, accountID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.wallets[accountID]; !ok {
		return ErrNotFound
	}
	delete(s.m.wallets, accountID)
	return nil
}

// --- entries ---

type memEntries struct{ m *InMemory }

func pendingKeyOf(e Entry) PendingKey {
	return PendingKey{OwnerID: e.OwnerID, RefID: e.RefID, Type: e.Type, Reason: e.Reason}
}

func (s memEntries) Create(ctx context.Context, e Entry) (Entry, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.entries[e.ID]; ok {
		return Entry{}, ErrDuplicate
	}
	if e.Status == StatusPending {
		if _, ok := s.m.pending[pendingKeyOf(e)]; ok {
			return Entry{}, ErrDuplicate
		}
		s.m.pending[pendingKeyOf(e)] = e.ID
	}
	now := s.m.now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	e.Version = 1
	e.Applied = nil
	s.m.entries[e.ID] = e
	return e, nil
}

func (s memEntries) Get(ctx context.Context, id string) (Entry, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	e, ok := s.m.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (s memEntries) Update(ctx context.Context, e Entry) (Entry, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	cur, ok := s.m.entries[e.ID]
	if !ok {
		return Entry{}, ErrNotFound
	}
	if cur.Version != e.Version {
		return Entry{}, ErrVersionConflict
	}
	// Only the status moves; everything else is fixed at creation.
	next := cur
	next.Status = e.Status
	next.UpdatedAt = s.m.now()
	next.Version++
	if cur.Status == StatusPending && next.Status != StatusPending {
		delete(s.m.pending, pendingKeyOf(cur))
	}
	s.m.entries[e.ID] = next
	return next, nil
}

func (s memEntries) Pair(ctx context.Context, pairID string) ([]Entry, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	var out []Entry
	for _, e := range s.m.entries {
		if e.PairID == pairID {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out, nil
}

func (s memEntries) FindPending(ctx context.Context, k PendingKey) (Entry, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	id, ok := s.m.pending[k]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return s.m.entries[id], nil
}

func (s memEntries) List(ctx context.Context, f EntryFilter) ([]Entry, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	out := s.match(f)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s memEntries) Count(ctx context.Context, f EntryFilter) (int, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	return len(s.match(f)), nil
}

func (s memEntries) match(f EntryFilter) []Entry {
	var out []Entry
	for _, e := range s.m.entries {
		if f.OwnerID != "" && e.OwnerID != f.OwnerID {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if len(f.Reasons) > 0 && !slices.Contains(f.Reasons, e.Reason) {
			continue
		}
		if !f.CreatedBefore.IsZero() && !e.CreatedAt.Before(f.CreatedBefore) {
			continue
		}
		out = append(out, e)
	}
	sortEntries(out)
	return out
}

func sortEntries(out []Entry) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
}

// --- subscriptions ---

type memSubscriptions struct{ m *InMemory }

func (s memSubscriptions) Create(ctx context.Context, sub Subscription) (Subscription, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.subscriptions[sub.AccountID]; ok {
		return Subscription{}, ErrDuplicate
	}
	now := s.m.now()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	sub.Version = 1
	s.m.subscriptions[sub.AccountID] = sub.clone()
	return sub.clone(), nil
}

func (s memSubscriptions) Get(ctx context.Context, accountID string) (Subscription, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	sub, ok := s.m.subscriptions[accountID]
	if !ok {
		return Subscription{}, ErrNotFound
	}
	return sub.clone(), nil
}

func (s memSubscriptions) Update(ctx context.Context, sub Subscription) (Subscription, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	cur, ok := s.m.subscriptions[sub.AccountID]
	if !ok {
		return Subscription{}, ErrNotFound
	}
	if cur.Version != sub.Version {
		return Subscription{}, ErrVersionConflict
	}
	sub.CreatedAt = cur.CreatedAt
	sub.UpdatedAt = s.m.now()
	sub.Version++
	s.m.subscriptions[sub.AccountID] = sub.clone()
	return sub.clone(), nil
}

func (s memSubscriptions) Delete(ctx context.Context, accountID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.subscriptions[accountID]; !ok {
		return ErrNotFound
	}
	delete(s.m.subscriptions, accountID)
	return nil
}

func (s memSubscriptions) Paying(ctx context.Context) ([]Subscription, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	var out []Subscription
	for _, sub := range s.m.subscriptions {
		if sub.Active && sub.Paid && sub.DeletedAt == nil {
			out = append(out, sub.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

// --- notifications ---

type memNotifications struct{ m *InMemory }

func (s memNotifications) Create(ctx context.Context, n Notification) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.notifications[n.AccountID] = append(s.m.notifications[n.AccountID], n)
	return nil
}

func (s memNotifications) List(ctx context.Context, accountID string, limit int) ([]Notification, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	all := s.m.notifications[accountID]
	out := make([]Notification, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s memNotifications) MarkRead(ctx context.Context, accountID, id string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for i, n := range s.m.notifications[accountID] {
		if n.ID == id {
			s.m.notifications[accountID][i].Read = true
			return nil
		}
	}
	return ErrNotFound
}

func (s memNotifications) DeleteByAccount(ctx context.Context, accountID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	delete(s.m.notifications, accountID)
	return nil
}

// --- cooldowns ---

type memCooldowns struct{ m *InMemory }

func (s memCooldowns) Put(ctx context.Context, c Cooldown) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.cooldowns[c.CandidateID] = c.ExpiresAt
	return nil
}

func (s memCooldowns) Active(ctx context.Context, now time.Time) ([]string, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	var out []string
	for id, until := range s.m.cooldowns {
		if until.After(now) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s memCooldowns) Prune(ctx context.Context, now time.Time) (int, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	n := 0
	for id, until := range s.m.cooldowns {
		if !until.After(now) {
			delete(s.m.cooldowns, id)
			n++
		}
	}
	return n, nil
}
