package network

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"tiernet.org/internal/ids"
)

// Approval is the upline state after a placement payment is approved.
type Approval struct {
	Tracker Tracker `json:"tracker"`
	Wallet  Wallet  `json:"wallet"`
}

// pairSpec describes a ledger pair. The payer owns the debit, the payee the credit.
type pairSpec struct {
	PayerID      string
	PayeeID      string
	DebitReason  Reason
	CreditReason Reason
	Amount       int64
}

// InitiatePayment opens the placement payment from accountID to its upline. A pending
// pair for the same upline is returned instead of a new one. Admin accounts advance
// at once without a counterpart.
func (s *Service) InitiatePayment(ctx context.Context, accountID string) (PairRef, error) {
	acct, err := s.account(ctx, accountID)
	if err != nil {
		return PairRef{}, err
	}
	if acct.Role == RoleAdmin {
		return s.advanceAdmin(ctx, acct)
	}
	prof, err := s.profile(ctx, accountID)
	if err != nil {
		return PairRef{}, err
	}
	if prof.ParentID == "" {
		return PairRef{}, ErrNoUpline
	}

	if pending, err := s.store.Entries().FindPending(ctx, PendingKey{
		OwnerID: accountID,
		RefID:   prof.ParentID,
		Type:    EntryDebit,
		Reason:  ReasonAllocatedPayment,
	}); err == nil {
		return s.completePair(ctx, pending, ReasonMemberPayment)
	} else if !errors.Is(err, ErrNotFound) {
		return PairRef{}, storeErr(err, ErrEntryNotFound)
	}

	tracker, err := s.tracker(ctx, accountID)
	if err != nil {
		return PairRef{}, err
	}
	if tracker.State != StateAchieved {
		return PairRef{}, ErrQuotaNotReached
	}
	sub, err := s.subscription(ctx, accountID)
	if err != nil {
		return PairRef{}, err
	}
	if sub.Active && !sub.Paid {
		return PairRef{}, ErrSubscriptionRequired
	}
	ladder, err := s.ladder(ctx)
	if err != nil {
		return PairRef{}, err
	}
	amount := s.settings.DefaultEntryAmount
	if tier := ladder.Get(acct.TierID); tier != nil {
		amount = tier.NextUpgrade
	}

	ref, created, err := s.openPair(ctx, pairSpec{
		PayerID:      accountID,
		PayeeID:      prof.ParentID,
		DebitReason:  ReasonAllocatedPayment,
		CreditReason: ReasonMemberPayment,
		Amount:       amount,
	})
	if err != nil {
		return PairRef{}, err
	}
	if created {
		s.logger.Info("payment initiated",
			zap.String("pair_id", ref.PairID),
			zap.String("payer_id", accountID),
			zap.String("payee_id", prof.ParentID),
			zap.Int64("amount", amount))
		s.notify(ctx, accountID, KindPaymentInitiated, "Payment to allocated member initialized")
		s.notify(ctx, prof.ParentID, KindPaymentAwaiting, "Pending payment approval from a member")
	}
	return ref, nil
}

// openPair creates the debit then the credit of a pair, resuming a pending debit left
// by an earlier call.
func (s *Service) openPair(ctx context.Context, spec pairSpec) (PairRef, bool, error) {
	entries := s.store.Entries()
	key := PendingKey{OwnerID: spec.PayerID, RefID: spec.PayeeID, Type: EntryDebit, Reason: spec.DebitReason}
	debit, err := entries.FindPending(ctx, key)
	created := false
	if errors.Is(err, ErrNotFound) {
		now := s.now()
		debit, err = entries.Create(ctx, Entry{
			ID:        ids.NewAt(now),
			PairID:    ids.NewAt(now),
			OwnerID:   spec.PayerID,
			RefID:     spec.PayeeID,
			Type:      EntryDebit,
			Status:    StatusPending,
			Reason:    spec.DebitReason,
			Amount:    spec.Amount,
			CreatedAt: now,
		})
		created = err == nil
		if errors.Is(err, ErrDuplicate) {
			debit, err = entries.FindPending(ctx, key)
		}
	}
	if err != nil {
		return PairRef{}, false, storeErr(err, ErrEntryNotFound)
	}
	ref, err := s.completePair(ctx, debit, spec.CreditReason)
	return ref, created, err
}

// completePair makes sure the credit side of debit exists.
func (s *Service) completePair(ctx context.Context, debit Entry, creditReason Reason) (PairRef, error) {
	entries := s.store.Entries()
	ref := PairRef{PairID: debit.PairID, Debit: debit}
	if credit, err := s.counterpart(ctx, debit); err == nil {
		ref.Credit = &credit
		return ref, nil
	} else if !errors.Is(err, ErrPairedEntryMissing) {
		return PairRef{}, err
	}

	credit, err := entries.Create(ctx, Entry{
		ID:        ids.NewAt(s.now()),
		PairID:    debit.PairID,
		OwnerID:   debit.RefID,
		RefID:     debit.OwnerID,
		Type:      EntryCredit,
		Status:    StatusPending,
		Reason:    creditReason,
		Amount:    debit.Amount,
		CreatedAt: debit.CreatedAt,
	})
	if errors.Is(err, ErrDuplicate) {
		credit, err = entries.FindPending(ctx, PendingKey{
			OwnerID: debit.RefID,
			RefID:   debit.OwnerID,
			Type:    EntryCredit,
			Reason:  creditReason,
		})
		if err == nil && credit.PairID != debit.PairID {
			// An older pair between the same accounts is still being expired.
			return PairRef{}, ErrContention
		}
	}
	if err != nil {
		return PairRef{}, storeErr(err, ErrEntryNotFound)
	}
	ref.Credit = &credit
	return ref, nil
}

// counterpart returns the other side of e's pair.
func (s *Service) counterpart(ctx context.Context, e Entry) (Entry, error) {
	pair, err := s.store.Entries().Pair(ctx, e.PairID)
	if err != nil {
		return Entry{}, storeErr(err, ErrEntryNotFound)
	}
	for _, other := range pair {
		if other.ID != e.ID && other.Type != e.Type {
			return other, nil
		}
	}
	return Entry{}, ErrPairedEntryMissing
}

// ApprovePayment settles the pending placement payment whose credit entryID is held
// by approverID.
func (s *Service) ApprovePayment(ctx context.Context, approverID, entryID string) (Approval, error) {
	credit, err := s.store.Entries().Get(ctx, entryID)
	if err != nil {
		return Approval{}, storeErr(err, ErrEntryNotFound)
	}
	if credit.Type != EntryCredit || credit.Reason != ReasonMemberPayment {
		return Approval{}, ErrWrongEntry
	}
	if credit.OwnerID != approverID {
		return Approval{}, ErrNotEntryOwner
	}
	switch credit.Status {
	case StatusSuccess:
		return Approval{}, ErrAlreadyApproved
	case StatusFailure:
		return Approval{}, ErrEntryFailed
	}
	debit, err := s.counterpart(ctx, credit)
	if err != nil {
		return Approval{}, err
	}
	if debit.Status == StatusFailure {
		return Approval{}, ErrEntryFailed
	}
	return s.settlePlacement(ctx, credit, debit)
}

// settlePlacement is the approval saga. Each write carries a marker so a re-run after
// a partial failure skips what already landed; the ledger flips come last.
func (s *Service) settlePlacement(ctx context.Context, credit, debit Entry) (Approval, error) {
	pair := credit.PairID
	uplineID, downlineID := credit.OwnerID, debit.OwnerID

	ladder, err := s.ladder(ctx)
	if err != nil {
		return Approval{}, err
	}
	upline, err := s.account(ctx, uplineID)
	if err != nil {
		return Approval{}, err
	}
	pol := PolicyFor(upline.Role)
	uplineTier := ladder.Get(upline.TierID)

	down, err := s.updateAccount(ctx, downlineID, step(pair, "downline-account"), func(a *Account) error {
		cur := ladder.Get(a.TierID)
		switch {
		case cur == nil:
			a.TierID = ladder.Rank(1).ID
		case cur.Rank <= 1:
			if next := ladder.Next(cur); next != nil {
				a.TierID = next.ID
			}
		}
		a.DeletedAt = nil
		return nil
	})
	if err != nil {
		return Approval{}, err
	}
	downTier := ladder.Get(down.TierID)

	if _, err := s.updateProfile(ctx, downlineID, step(pair, "downline-profile"), func(p *Profile) error {
		if !pol.KeepsDownline && p.ParentID == uplineID {
			p.ParentID = ""
		}
		p.DeletedAt = nil
		if n := len(p.Parents); n == 0 || p.Parents[n-1] != uplineID {
			p.Parents = append(p.Parents, uplineID)
		}
		return nil
	}); err != nil {
		return Approval{}, err
	}

	if PolicyFor(down.Role).Subscribes && rankOf(downTier) == s.settings.SubscriptionTier {
		activated := false
		if _, err := s.updateSubscription(ctx, downlineID, step(pair, "subscription"), func(sub *Subscription) error {
			if sub.Active {
				return errUnchanged
			}
			sub.Active = true
			sub.Paid = false
			sub.Amount = s.settings.SubscriptionAmount
			sub.Date = nil
			activated = true
			return nil
		}); err != nil {
			return Approval{}, err
		}
		if activated {
			s.notify(ctx, downlineID, KindSubscriptionActivated, "Your subscription is now required")
		}
	}

	if _, err := s.updateTracker(ctx, downlineID, step(pair, "downline-tracker"), func(t *Tracker) error {
		t.UplinePaid = rankOf(downTier) > 1
		t.State = StateUnachieved
		t.UpgradeDate = nil
		t.DeletedAt = nil
		return nil
	}); err != nil {
		return Approval{}, err
	}

	amount := credit.Amount
	if uplineTier != nil {
		amount = uplineTier.MemberAmount
	}
	wallet, err := s.updateWallet(ctx, uplineID, step(pair, "wallet"), func(w *Wallet) error {
		w.Balance += amount
		return nil
	})
	if err != nil {
		return Approval{}, err
	}

	gap := tierGap(uplineTier, downTier)
	if _, err := s.updateTracker(ctx, uplineID, step(pair, "upline-tracker"), func(t *Tracker) error {
		creditPlacement(t, pol, uplineTier, ladder, gap, s.now())
		return nil
	}); err != nil {
		return Approval{}, err
	}
	if _, err := s.settleAdvance(ctx, uplineID); err != nil {
		return Approval{}, err
	}

	if _, err := s.flip(ctx, debit.ID, StatusSuccess); err != nil {
		return Approval{}, err
	}
	if _, err := s.flip(ctx, credit.ID, StatusSuccess); err != nil {
		return Approval{}, err
	}

	tracker, err := s.tracker(ctx, uplineID)
	if err != nil {
		return Approval{}, err
	}
	s.logger.Info("payment approved",
		zap.String("pair_id", pair),
		zap.String("upline_id", uplineID),
		zap.String("downline_id", downlineID),
		zap.Int("gap", gap),
		zap.Int("paid_count", tracker.PaidCount))
	s.notify(ctx, downlineID, KindPaymentApproved, "Your payment has been approved")
	s.notify(ctx, uplineID, KindPaymentReceived, "You received a member payment")
	return Approval{Tracker: tracker, Wallet: wallet}, nil
}

// advanceAdmin is the root-of-tree shortcut: an admin that met its quota advances one
// tier at once and records a single debit. The debit is written first as a pending
// intent so an interrupted advance is finished by the next call or the stale sweep.
func (s *Service) advanceAdmin(ctx context.Context, acct Account) (PairRef, error) {
	entries := s.store.Entries()
	key := PendingKey{OwnerID: acct.ID, RefID: acct.ID, Type: EntryDebit, Reason: ReasonRootAdmin}
	intent, err := entries.FindPending(ctx, key)
	if err == nil {
		return s.completeAdminAdvance(ctx, intent)
	}
	if !errors.Is(err, ErrNotFound) {
		return PairRef{}, storeErr(err, ErrEntryNotFound)
	}

	tracker, err := s.tracker(ctx, acct.ID)
	if err != nil {
		return PairRef{}, err
	}
	if tracker.State != StateAchieved {
		return PairRef{}, ErrQuotaNotReached
	}
	ladder, err := s.ladder(ctx)
	if err != nil {
		return PairRef{}, err
	}
	next := ladder.Next(ladder.Get(acct.TierID))
	if next == nil {
		return PairRef{}, ErrMaxTier
	}

	now := s.now()
	intent, err = entries.Create(ctx, Entry{
		ID:        ids.NewAt(now),
		PairID:    ids.NewAt(now),
		OwnerID:   acct.ID,
		RefID:     acct.ID,
		Type:      EntryDebit,
		Status:    StatusPending,
		Reason:    ReasonRootAdmin,
		Amount:    next.MemberAmount,
		TierID:    next.ID,
		CreatedAt: now,
	})
	if errors.Is(err, ErrDuplicate) {
		intent, err = entries.FindPending(ctx, key)
	}
	if err != nil {
		return PairRef{}, storeErr(err, ErrEntryNotFound)
	}
	return s.completeAdminAdvance(ctx, intent)
}

func (s *Service) completeAdminAdvance(ctx context.Context, intent Entry) (PairRef, error) {
	ladder, err := s.ladder(ctx)
	if err != nil {
		return PairRef{}, err
	}
	target := ladder.Get(intent.TierID)
	if target == nil {
		return PairRef{}, ErrTierNotFound
	}
	adminID := intent.OwnerID
	if _, err := s.updateAccount(ctx, adminID, step(intent.PairID, "admin-tier"), func(a *Account) error {
		if rankOf(ladder.Get(a.TierID)) >= target.Rank {
			return errUnchanged
		}
		a.TierID = target.ID
		return nil
	}); err != nil {
		return PairRef{}, err
	}
	if _, err := s.updateTracker(ctx, adminID, step(intent.PairID, "admin-tracker"), func(t *Tracker) error {
		t.UplinePaid = true
		t.State = StateUnachieved
		t.Count = 0
		t.PaidCount = 0
		t.UpgradeDate = nil
		return nil
	}); err != nil {
		return PairRef{}, err
	}
	debit, err := s.flip(ctx, intent.ID, StatusSuccess)
	if err != nil {
		return PairRef{}, err
	}
	s.logger.Info("admin advanced", zap.String("account_id", adminID), zap.String("tier_id", target.ID))
	s.notify(ctx, adminID, KindTierAdvanced, "You have advanced to "+target.Name)
	return PairRef{PairID: intent.PairID, Debit: debit}, nil
}
