package network

import (
	"context"

	"go.uber.org/zap"
)

// SubscriptionApproval is the state after a subscription payment is approved.
type SubscriptionApproval struct {
	Subscription Subscription `json:"subscription"`
	Wallet       Wallet       `json:"wallet"`
}

// InitiateSubscription opens the subscription payment from accountID to the admin.
// Only an active subscription that is unpaid or past due can be paid.
func (s *Service) InitiateSubscription(ctx context.Context, accountID string) (PairRef, error) {
	acct, err := s.account(ctx, accountID)
	if err != nil {
		return PairRef{}, err
	}
	if acct.Role == RoleAdmin {
		return PairRef{}, ErrIsAdmin
	}
	sub, err := s.subscription(ctx, accountID)
	if err != nil {
		return PairRef{}, err
	}
	if !sub.Active {
		return PairRef{}, ErrSubscriptionNotDue
	}

	pending, err := s.store.Entries().List(ctx, EntryFilter{
		OwnerID: accountID,
		Status:  StatusPending,
		Reasons: []Reason{ReasonSubscription},
	})
	if err != nil {
		return PairRef{}, storeErr(err, ErrEntryNotFound)
	}
	for _, e := range pending {
		if e.Type == EntryDebit {
			return s.completePair(ctx, e, ReasonSubscription)
		}
	}

	if due, ok := sub.DueAt(); sub.Paid && ok && due.After(s.now()) {
		return PairRef{}, ErrSubscriptionNotDue
	}
	admin, err := s.rootAdmin(ctx)
	if err != nil {
		return PairRef{}, err
	}
	amount := sub.Amount
	if amount <= 0 {
		amount = s.settings.SubscriptionAmount
	}
	ref, created, err := s.openPair(ctx, pairSpec{
		PayerID:      accountID,
		PayeeID:      admin.ID,
		DebitReason:  ReasonSubscription,
		CreditReason: ReasonSubscription,
		Amount:       amount,
	})
	if err != nil {
		return PairRef{}, err
	}
	if created {
		s.logger.Info("subscription initiated",
			zap.String("pair_id", ref.PairID),
			zap.String("account_id", accountID),
			zap.Int64("amount", amount))
		s.notify(ctx, accountID, KindSubscriptionInitiated, "Subscription payment initialized")
		s.notify(ctx, admin.ID, KindPaymentAwaiting, "Pending subscription approval from a member")
	}
	return ref, nil
}

// rootAdmin returns the oldest live admin.
func (s *Service) rootAdmin(ctx context.Context) (Account, error) {
	admins, err := s.store.Accounts().List(ctx, AccountFilter{Role: RoleAdmin, LiveOnly: true})
	if err != nil {
		return Account{}, storeErr(err, ErrNoAdmin)
	}
	if len(admins) == 0 {
		return Account{}, ErrNoAdmin
	}
	return admins[0], nil
}

// ApproveSubscription settles the pending subscription pair whose credit entryID is
// held by approverID.
func (s *Service) ApproveSubscription(ctx context.Context, approverID, entryID string) (SubscriptionApproval, error) {
	credit, err := s.store.Entries().Get(ctx, entryID)
	if err != nil {
		return SubscriptionApproval{}, storeErr(err, ErrEntryNotFound)
	}
	if credit.Type != EntryCredit || credit.Reason != ReasonSubscription {
		return SubscriptionApproval{}, ErrWrongEntry
	}
	if credit.OwnerID != approverID {
		return SubscriptionApproval{}, ErrNotEntryOwner
	}
	switch credit.Status {
	case StatusSuccess:
		return SubscriptionApproval{}, ErrAlreadyApproved
	case StatusFailure:
		return SubscriptionApproval{}, ErrEntryFailed
	}
	debit, err := s.counterpart(ctx, credit)
	if err != nil {
		return SubscriptionApproval{}, err
	}
	if debit.Status == StatusFailure {
		return SubscriptionApproval{}, ErrEntryFailed
	}
	return s.settleSubscription(ctx, credit, debit)
}

func (s *Service) settleSubscription(ctx context.Context, credit, debit Entry) (SubscriptionApproval, error) {
	pair := credit.PairID
	now := s.now()
	sub, err := s.updateSubscription(ctx, debit.OwnerID, step(pair, "subscription"), func(sub *Subscription) error {
		if sub.Date == nil {
			sub.Date = &now
		} else {
			next := now.AddDate(0, 1, 0)
			sub.Date = &next
		}
		sub.Paid = true
		sub.Renewals++
		return nil
	})
	if err != nil {
		return SubscriptionApproval{}, err
	}
	wallet, err := s.updateWallet(ctx, credit.OwnerID, step(pair, "wallet"), func(w *Wallet) error {
		w.Balance += credit.Amount
		return nil
	})
	if err != nil {
		return SubscriptionApproval{}, err
	}
	if _, err := s.flip(ctx, debit.ID, StatusSuccess); err != nil {
		return SubscriptionApproval{}, err
	}
	if _, err := s.flip(ctx, credit.ID, StatusSuccess); err != nil {
		return SubscriptionApproval{}, err
	}

	s.logger.Info("subscription approved",
		zap.String("pair_id", pair),
		zap.String("account_id", debit.OwnerID),
		zap.Int("renewals", sub.Renewals))
	s.notify(ctx, debit.OwnerID, KindSubscriptionApproved, "Your subscription payment has been approved")
	return SubscriptionApproval{Subscription: sub, Wallet: wallet}, nil
}

// failPair expires every pending side of a pair, credit first.
func (s *Service) failPair(ctx context.Context, pairID string) error {
	pair, err := s.store.Entries().Pair(ctx, pairID)
	if err != nil {
		return storeErr(err, ErrEntryNotFound)
	}
	creditFirst := make([]Entry, 0, len(pair))
	for _, e := range pair {
		if e.Type == EntryCredit {
			creditFirst = append(creditFirst, e)
		}
	}
	for _, e := range pair {
		if e.Type == EntryDebit {
			creditFirst = append(creditFirst, e)
		}
	}
	for _, e := range creditFirst {
		if e.Status != StatusPending {
			continue
		}
		if _, err := s.flip(ctx, e.ID, StatusFailure); err != nil {
			return err
		}
	}
	return nil
}
