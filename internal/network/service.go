package network

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"tiernet.org/internal/ids"
)

// Settings are the tunable business constants of the network.
type Settings struct {
	SubscriptionAmount int64
	DefaultEntryAmount int64
	SubscriptionTier   int
	PaymentTimeout     time.Duration
	UpgradeGrace       time.Duration
	DormantGrace       time.Duration
	ReassignCooldown   time.Duration
}

// DefaultSettings mirrors the production defaults.
func DefaultSettings() Settings {
	return Settings{
		SubscriptionAmount: 500,
		DefaultEntryAmount: 1000,
		SubscriptionTier:   5,
		PaymentTimeout:     60 * time.Minute,
		UpgradeGrace:       60 * time.Minute,
		DormantGrace:       48 * time.Hour,
		ReassignCooldown:   10 * time.Minute,
	}
}

// Service runs the tree assignment engine, the payment and subscription state
// machines and the reconciliation sweeps over a Store.
type Service struct {
	store    Store
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
	settings Settings
	attempts int
}

// Option configures Service.
type Option func(*Service)

// WithNotifier routes notifications to n instead of the store.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSettings overrides the business constants.
func WithSettings(cfg Settings) Option {
	return func(s *Service) { s.settings = cfg }
}

// WithAttempts bounds compare-and-swap retries per record write.
func WithAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.attempts = n
		}
	}
}

// NewService constructs a Service.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		logger:   zap.NewNop(),
		now:      func() time.Time { return time.Now().UTC() },
		settings: DefaultSettings(),
		attempts: 8,
	}
	s.notifier = StoreNotifier{Store: store.Notifications()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Settings returns the active business constants.
func (s *Service) Settings() Settings { return s.settings }

// storeErr maps store failures onto the error taxonomy.
func storeErr(err error, missing *Error) error {
	if err == nil {
		return nil
	}
	var e *Error
	switch {
	case errors.As(err, &e):
		return err
	case errors.Is(err, ErrNotFound):
		return missing
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("store: %w", err)
}

func (s *Service) ladder(ctx context.Context) (*Ladder, error) {
	tiers, err := s.store.Tiers().List(ctx)
	if err != nil {
		return nil, storeErr(err, ErrTierNotFound)
	}
	if len(tiers) == 0 {
		return nil, ErrTierNotFound
	}
	return NewLadder(tiers), nil
}

func (s *Service) account(ctx context.Context, id string) (Account, error) {
	if strings.TrimSpace(id) == "" {
		return Account{}, Invalid("account id is required")
	}
	a, err := s.store.Accounts().Get(ctx, id)
	return a, storeErr(err, ErrAccountNotFound)
}

func (s *Service) profile(ctx context.Context, id string) (Profile, error) {
	p, err := s.store.Profiles().Get(ctx, id)
	return p, storeErr(err, ErrAccountNotFound)
}

func (s *Service) tracker(ctx context.Context, id string) (Tracker, error) {
	t, err := s.store.Trackers().Get(ctx, id)
	return t, storeErr(err, ErrAccountNotFound)
}

func (s *Service) wallet(ctx context.Context, id string) (Wallet, error) {
	w, err := s.store.Wallets().Get(ctx, id)
	return w, storeErr(err, ErrAccountNotFound)
}

func (s *Service) subscription(ctx context.Context, id string) (Subscription, error) {
	sub, err := s.store.Subscriptions().Get(ctx, id)
	return sub, storeErr(err, ErrAccountNotFound)
}

// Registration is the input of Register.
type Registration struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Handle    string `json:"handle"`
}

func (r Registration) normalize() (Registration, error) {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
	r.Handle = strings.TrimSpace(r.Handle)
	switch {
	case r.Email == "":
		return r, Invalid("email is required")
	case r.FirstName == "" || r.LastName == "":
		return r, Invalid("first_name and last_name are required")
	case r.Handle == "":
		return r, Invalid("handle is required")
	case len(r.Handle) > 64 || len(r.Email) > 254:
		return r, Invalid("handle or email too long")
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return r, Invalid("email is invalid")
	}
	return r, nil
}

// Register creates every record owned by a new account. The first account of the
// network becomes its admin. A fresh tracker is achieved so the account may activate.
func (s *Service) Register(ctx context.Context, in Registration) (Member, error) {
	in, err := in.normalize()
	if err != nil {
		return Member{}, err
	}
	existing, err := s.store.Accounts().Count(ctx)
	if err != nil {
		return Member{}, storeErr(err, ErrAccountNotFound)
	}
	role := RoleMember
	if existing == 0 {
		role = RoleAdmin
	}

	now := s.now()
	acct, err := s.store.Accounts().Create(ctx, Account{
		ID:        ids.NewAt(now),
		Email:     in.Email,
		Role:      role,
		CreatedAt: now,
	})
	if err != nil {
		return Member{}, storeErr(err, ErrAccountNotFound)
	}
	prof, err := s.store.Profiles().Create(ctx, Profile{
		AccountID: acct.ID,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Handle:    in.Handle,
		Parents:   []string{},
		CreatedAt: now,
	})
	if errors.Is(err, ErrDuplicate) {
		if derr := s.store.Accounts().Delete(ctx, acct.ID); derr != nil {
			s.logger.Warn("register cleanup failed", zap.String("account_id", acct.ID), zap.Error(derr))
		}
		return Member{}, ErrHandleTaken
	}
	if err != nil {
		return Member{}, storeErr(err, ErrAccountNotFound)
	}
	tracker, err := s.store.Trackers().Create(ctx, Tracker{
		AccountID:   acct.ID,
		State:       StateAchieved,
		UpgradeDate: &now,
		CreatedAt:   now,
	})
	if err != nil {
		return Member{}, storeErr(err, ErrAccountNotFound)
	}
	wallet, err := s.store.Wallets().Create(ctx, Wallet{AccountID: acct.ID, CreatedAt: now})
	if err != nil {
		return Member{}, storeErr(err, ErrAccountNotFound)
	}
	sub, err := s.store.Subscriptions().Create(ctx, Subscription{
		AccountID: acct.ID,
		Amount:    s.settings.SubscriptionAmount,
		CreatedAt: now,
	})
	if err != nil {
		return Member{}, storeErr(err, ErrAccountNotFound)
	}

	s.logger.Info("account registered", zap.String("account_id", acct.ID), zap.String("role", string(role)))
	s.notify(ctx, acct.ID, KindWelcome, "Welcome to the network")
	return Member{
		Account:      acct,
		Profile:      prof,
		Tracker:      tracker,
		Wallet:       wallet,
		Subscription: sub,
	}, nil
}

// Member returns the joined read model of one account.
func (s *Service) Member(ctx context.Context, id string) (Member, error) {
	acct, err := s.account(ctx, id)
	if err != nil {
		return Member{}, err
	}
	m := Member{Account: acct}
	if m.Profile, err = s.profile(ctx, id); err != nil {
		return Member{}, err
	}
	if m.Tracker, err = s.tracker(ctx, id); err != nil {
		return Member{}, err
	}
	if m.Wallet, err = s.wallet(ctx, id); err != nil {
		return Member{}, err
	}
	if m.Subscription, err = s.subscription(ctx, id); err != nil {
		return Member{}, err
	}
	if acct.TierID != "" {
		ladder, err := s.ladder(ctx)
		if err != nil {
			return Member{}, err
		}
		m.Tier = ladder.Get(acct.TierID)
	}
	return m, nil
}

// Downlines returns the live accounts currently placed under id.
func (s *Service) Downlines(ctx context.Context, id string) ([]Profile, error) {
	if _, err := s.account(ctx, id); err != nil {
		return nil, err
	}
	kids, err := s.store.Profiles().Children(ctx, id)
	return kids, storeErr(err, ErrAccountNotFound)
}

// Entries lists ledger entries owned by ownerID.
func (s *Service) Entries(ctx context.Context, ownerID string, f EntryFilter) ([]Entry, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, Invalid("account id is required")
	}
	f.OwnerID = ownerID
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}
	out, err := s.store.Entries().List(ctx, f)
	return out, storeErr(err, ErrEntryNotFound)
}

// Entry returns one ledger entry owned by ownerID.
func (s *Service) Entry(ctx context.Context, ownerID, id string) (Entry, error) {
	e, err := s.store.Entries().Get(ctx, id)
	if err != nil {
		return Entry{}, storeErr(err, ErrEntryNotFound)
	}
	if e.OwnerID != ownerID {
		return Entry{}, ErrEntryNotFound
	}
	return e, nil
}

// Wallet returns the wallet of id.
func (s *Service) Wallet(ctx context.Context, id string) (Wallet, error) {
	if _, err := s.account(ctx, id); err != nil {
		return Wallet{}, err
	}
	return s.wallet(ctx, id)
}

// UpdatePayout replaces the payout details of a wallet. The balance is untouched.
func (s *Service) UpdatePayout(ctx context.Context, id string, p Payout) (Wallet, error) {
	p.BankName = strings.TrimSpace(p.BankName)
	p.AccountName = strings.TrimSpace(p.AccountName)
	p.AccountNumber = strings.TrimSpace(p.AccountNumber)
	if p.BankName == "" || p.AccountName == "" || p.AccountNumber == "" {
		return Wallet{}, Invalid("bank_name, account_name and account_number are required")
	}
	return s.updateWallet(ctx, id, "", func(w *Wallet) error {
		w.Payout = p
		return nil
	})
}

// Notifications returns the newest notifications of id.
func (s *Service) Notifications(ctx context.Context, id string, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	out, err := s.store.Notifications().List(ctx, id, limit)
	return out, storeErr(err, ErrAccountNotFound)
}

// MarkNotificationRead flags one notification of id as read.
func (s *Service) MarkNotificationRead(ctx context.Context, id, notificationID string) error {
	err := s.store.Notifications().MarkRead(ctx, id, notificationID)
	return storeErr(err, newError(KindNotFound, "notification_not_found", "notification not found"))
}

// Tiers returns the catalogue in rank order.
func (s *Service) Tiers(ctx context.Context) ([]Tier, error) {
	ladder, err := s.ladder(ctx)
	if err != nil {
		return nil, err
	}
	return ladder.Tiers(), nil
}

// UpsertTier edits one tier of the catalogue. Ranks stay contiguous.
func (s *Service) UpsertTier(ctx context.Context, t Tier) (Tier, error) {
	if err := validateTier(t); err != nil {
		return Tier{}, err
	}
	tiers, err := s.store.Tiers().List(ctx)
	if err != nil {
		return Tier{}, storeErr(err, ErrTierNotFound)
	}
	if t.Rank > len(tiers)+1 {
		return Tier{}, Invalid("rank %d would leave a gap after rank %d", t.Rank, len(tiers))
	}
	saved, err := s.store.Tiers().Upsert(ctx, t)
	if errors.Is(err, ErrDuplicate) {
		return Tier{}, Invalid("rank %d already belongs to another tier", t.Rank)
	}
	if err != nil {
		return Tier{}, storeErr(err, ErrTierNotFound)
	}
	s.logger.Info("tier updated", zap.String("tier_id", saved.ID), zap.Int("rank", saved.Rank))
	return saved, nil
}
