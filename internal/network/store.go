package network

import (
	"context"
	"errors"
	"time"
)

// Store-level failures. The core translates them; callers outside the core see *Error.
var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrDuplicate       = errors.New("duplicate")
)

// Store describes the record collections the core needs. Implementations guarantee
// atomic single-record writes only; Update methods compare the record Version with
// the stored one, fail with ErrVersionConflict on mismatch and return the record with
// its Version advanced.
type Store interface {
	Accounts() AccountStore
	Profiles() ProfileStore
	Tiers() TierStore
	Trackers() TrackerStore
	Wallets() WalletStore
	Entries() EntryStore
	Subscriptions() SubscriptionStore
	Notifications() NotificationStore
	Cooldowns() CooldownStore
}

// AccountFilter narrows account listings. Zero values match everything.
type AccountFilter struct {
	Role          Role
	LiveOnly      bool
	CreatedBefore time.Time
}

// CandidateFilter selects placement candidates. AnyTier ignores TierID.
type CandidateFilter struct {
	TierID  string
	AnyTier bool
	Role    Role
}

// Candidate joins a live account with its live tracker.
type Candidate struct {
	Account Account
	Tracker Tracker
}

// AccountStore manages accounts.
type AccountStore interface {
	Create(ctx context.Context, a Account) (Account, error)
	Get(ctx context.Context, id string) (Account, error)
	Update(ctx context.Context, a Account) (Account, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
	// List returns accounts oldest first.
	List(ctx context.Context, f AccountFilter) ([]Account, error)
	// Candidates returns live accounts with live trackers, oldest first.
	Candidates(ctx context.Context, f CandidateFilter) ([]Candidate, error)
}

// ProfileStore manages tree nodes. Handles are unique; Create reports ErrDuplicate.
type ProfileStore interface {
	Create(ctx context.Context, p Profile) (Profile, error)
	Get(ctx context.Context, accountID string) (Profile, error)
	Update(ctx context.Context, p Profile) (Profile, error)
	Delete(ctx context.Context, accountID string) error
	// Children returns live profiles whose parent is accountID, oldest first.
	Children(ctx context.Context, accountID string) ([]Profile, error)
}

// TierStore manages the tier catalogue.
type TierStore interface {
	// List returns tiers ordered by rank.
	List(ctx context.Context) ([]Tier, error)
	Get(ctx context.Context, id string) (Tier, error)
	Upsert(ctx context.Context, t Tier) (Tier, error)
}

// TrackerStore manages progress trackers.
type TrackerStore interface {
	Create(ctx context.Context, t Tracker) (Tracker, error)
	Get(ctx context.Context, accountID string) (Tracker, error)
	Update(ctx context.Context, t Tracker) (Tracker, error)
	Delete(ctx context.Context, accountID string) error
	// UpgradeDue returns live trackers whose upgrade date is before the given time.
	UpgradeDue(ctx context.Context, before time.Time) ([]Tracker, error)
	// Stalled returns live unachieved trackers with upline_paid false and exactly
	// paidCount paid placements.
	Stalled(ctx context.Context, paidCount int) ([]Tracker, error)
	// Unsettled returns trackers carrying an advance not yet applied to the account.
	Unsettled(ctx context.Context) ([]Tracker, error)
}

// WalletStore manages wallets.
type WalletStore interface {
	Create(ctx context.Context, w Wallet) (Wallet, error)
	Get(ctx context.Context, accountID string) (Wallet, error)
	Update(ctx context.Context, w Wallet) (Wallet, error)
	Delete(ctx context.Context, accountID string) error
}

// PendingKey identifies the single pending entry allowed per owner, counterpart,
// side and reason.
type PendingKey struct {
	OwnerID string
	RefID   string
	Type    EntryType
	Reason  Reason
}

// EntryFilter narrows entry listings. Zero values match everything.
type EntryFilter struct {
	OwnerID       string
	Status        EntryStatus
	Reasons       []Reason
	CreatedBefore time.Time
	Limit         int
}

// EntryStore manages ledger entries. Create reports ErrDuplicate when a pending entry
// with the same PendingKey exists.
type EntryStore interface {
	Create(ctx context.Context, e Entry) (Entry, error)
	Get(ctx context.Context, id string) (Entry, error)
	Update(ctx context.Context, e Entry) (Entry, error)
	Pair(ctx context.Context, pairID string) ([]Entry, error)
	FindPending(ctx context.Context, k PendingKey) (Entry, error)
	// List returns matching entries oldest first.
	List(ctx context.Context, f EntryFilter) ([]Entry, error)
	Count(ctx context.Context, f EntryFilter) (int, error)
}

// SubscriptionStore manages subscriptions.
type SubscriptionStore interface {
	Create(ctx context.Context, s Subscription) (Subscription, error)
	Get(ctx context.Context, accountID string) (Subscription, error)
	Update(ctx context.Context, s Subscription) (Subscription, error)
	Delete(ctx context.Context, accountID string) error
	// Paying returns live subscriptions that are active and paid.
	Paying(ctx context.Context) ([]Subscription, error)
}

// NotificationStore keeps delivered notifications.
type NotificationStore interface {
	Create(ctx context.Context, n Notification) error
	// List returns the newest notifications first.
	List(ctx context.Context, accountID string, limit int) ([]Notification, error)
	MarkRead(ctx context.Context, accountID, id string) error
	DeleteByAccount(ctx context.Context, accountID string) error
}

// CooldownStore keeps reassignment cooldowns.
type CooldownStore interface {
	Put(ctx context.Context, c Cooldown) error
	// Active returns candidate ids whose cooldown has not expired at now.
	Active(ctx context.Context, now time.Time) ([]string, error)
	// Prune drops cooldowns expired at now and reports how many were removed.
	Prune(ctx context.Context, now time.Time) (int, error)
}
