package network

import "time"

// Role decides which policy row applies to an account.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// TrackerState is the quota state of a progress tracker.
type TrackerState string

const (
	StateUnachieved TrackerState = "unachieved"
	StateAchieved   TrackerState = "achieved"
)

// EntryType is the side of a ledger pair.
type EntryType string

const (
	EntryCredit EntryType = "credit"
	EntryDebit  EntryType = "debit"
)

// EntryStatus is the lifecycle of a ledger entry: pending -> success | failure.
type EntryStatus string

const (
	StatusPending EntryStatus = "pending"
	StatusSuccess EntryStatus = "success"
	StatusFailure EntryStatus = "failure"
)

// Reason tags a ledger entry so concurrent pairs between the same accounts stay distinct.
type Reason string

const (
	ReasonMemberPayment    Reason = "member payment"
	ReasonAllocatedPayment Reason = "allocated member payment"
	ReasonSubscription     Reason = "subscription"
	ReasonRootAdmin        Reason = "root admin"
)

// Revision carries the optimistic-concurrency version of a record and the markers of
// the most recent saga steps applied to it.
type Revision struct {
	Version int64    `json:"version"`
	Applied []string `json:"-"`
}

func (r *Revision) revision() *Revision { return r }

// Tier is static reference data. Amounts are minor units.
type Tier struct {
	ID            string    `json:"id" yaml:"id"`
	Rank          int       `json:"rank" yaml:"rank"`
	Name          string    `json:"name" yaml:"name"`
	MembersNumber int       `json:"members_number" yaml:"members_number"`
	AdminCount    int       `json:"admin_count" yaml:"admin_count"`
	MemberAmount  int64     `json:"member_amount" yaml:"member_amount"`
	UpgradeAmount int64     `json:"upgrade_amount" yaml:"upgrade_amount"`
	NextUpgrade   int64     `json:"next_upgrade" yaml:"next_upgrade"`
	UpdatedAt     time.Time `json:"updated_at" yaml:"-"`
}

// Account is the identity record. TierID is empty until the first approved payment.
type Account struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Role      Role       `json:"role"`
	TierID    string     `json:"tier_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	Revision
}

// Live reports whether the account carries no tombstone.
func (a Account) Live() bool { return a.DeletedAt == nil }

// Profile is the tree node of an account.
type Profile struct {
	AccountID string     `json:"account_id"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	Handle    string     `json:"handle"`
	ParentID  string     `json:"parent_id,omitempty"`
	Parents   []string   `json:"parents"`
	Placing   string     `json:"-"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	Revision
}

// Advance is a tier change decided on a tracker and not yet settled onto its account.
type Advance struct {
	From string `json:"from"`
	To   string `json:"to,omitempty"`
	Exit bool   `json:"exit,omitempty"`
}

// Tracker holds the per-account placement counters.
type Tracker struct {
	AccountID   string       `json:"account_id"`
	Count       int          `json:"count"`
	PaidCount   int          `json:"paid_count"`
	State       TrackerState `json:"state"`
	UplinePaid  bool         `json:"upline_paid"`
	UpgradeDate *time.Time   `json:"upgrade_date,omitempty"`
	Advance     *Advance     `json:"-"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	DeletedAt   *time.Time   `json:"deleted_at,omitempty"`
	Revision
}

// Payout holds externally supplied withdrawal details.
type Payout struct {
	BankName      string `json:"bank_name"`
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
}

// Wallet is the running balance of an account.
type Wallet struct {
	AccountID string    `json:"account_id"`
	Balance   int64     `json:"balance"`
	Payout    Payout    `json:"payout"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Revision
}

// Entry is one side of a ledger pair. Only Status changes after creation.
type Entry struct {
	ID        string      `json:"id"`
	PairID    string      `json:"pair_id"`
	OwnerID   string      `json:"owner_id"`
	RefID     string      `json:"ref_id"`
	Type      EntryType   `json:"type"`
	Status    EntryStatus `json:"status"`
	Reason    Reason      `json:"reason"`
	Amount    int64       `json:"amount"`
	TierID    string      `json:"tier_id,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	Revision
}

// Subscription gates participation once an account reaches the trigger tier.
type Subscription struct {
	AccountID string     `json:"account_id"`
	Active    bool       `json:"is_active"`
	Paid      bool       `json:"subscription_paid"`
	Amount    int64      `json:"amount"`
	Date      *time.Time `json:"subscription_date,omitempty"`
	Renewals  int        `json:"renewals"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	Revision
}

// DueAt is when the next subscription payment is owed. The first payment stamps the
// payment time, later renewals stamp the next due time directly. Cycles are one month.
func (s Subscription) DueAt() (time.Time, bool) {
	if s.Date == nil {
		return time.Time{}, false
	}
	if s.Renewals <= 1 {
		return s.Date.AddDate(0, 1, 0), true
	}
	return *s.Date, true
}

// Notification is a fire-and-forget message for one account.
type Notification struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// Cooldown keeps a candidate out of reassignment until ExpiresAt.
type Cooldown struct {
	CandidateID string    `json:"candidate_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Member is the read model joining every record owned by an account.
type Member struct {
	Account      Account      `json:"account"`
	Profile      Profile      `json:"profile"`
	Tier         *Tier        `json:"tier,omitempty"`
	Tracker      Tracker      `json:"tracker"`
	Wallet       Wallet       `json:"wallet"`
	Subscription Subscription `json:"subscription"`
}

// PairRef identifies a ledger pair. Credit is nil for single-sided admin entries.
type PairRef struct {
	PairID string `json:"pair_id"`
	Debit  Entry  `json:"debit"`
	Credit *Entry `json:"credit,omitempty"`
}
