package network

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// SweepKind names one reconciliation rule.
type SweepKind string

const (
	SweepStalePayments SweepKind = "stale-payments"
	SweepUpgrades      SweepKind = "upgrades"
	SweepSubscriptions SweepKind = "subscriptions"
	SweepDormant       SweepKind = "dormant"
	SweepQuota         SweepKind = "quota"
)

// SweepKinds lists every sweep in the order an operator would run them.
var SweepKinds = []SweepKind{
	SweepStalePayments,
	SweepUpgrades,
	SweepSubscriptions,
	SweepQuota,
	SweepDormant,
}

// ParseSweepKind validates a sweep name.
func ParseSweepKind(s string) (SweepKind, error) {
	for _, k := range SweepKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", Invalid("unknown sweep %q", s)
}

// Outcome is what a sweep did to one item.
type Outcome string

const (
	OutcomeRepaired Outcome = "repaired"
	OutcomeFailed   Outcome = "failed"
	OutcomeResumed  Outcome = "resumed"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeError    Outcome = "error"
)

// Item is the outcome of a sweep on one account or ledger pair.
type Item struct {
	AccountID string  `json:"account_id"`
	Ref       string  `json:"ref,omitempty"`
	Outcome   Outcome `json:"outcome"`
	Detail    string  `json:"detail,omitempty"`
}

// Report summarises one sweep run.
type Report struct {
	Kind     SweepKind `json:"kind"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Items    []Item    `json:"items"`
}

// Counts tallies items per outcome.
func (r Report) Counts() map[string]int {
	out := make(map[string]int, 5)
	for _, it := range r.Items {
		out[string(it.Outcome)]++
	}
	return out
}

// Sweep runs one reconciliation rule against the current time. Item failures are
// recorded in the report and do not stop the sweep; the returned error only reports
// that the candidate set could not be loaded.
func (s *Service) Sweep(ctx context.Context, kind SweepKind) (Report, error) {
	rep := Report{Kind: kind, Started: s.now(), Items: []Item{}}
	var err error
	switch kind {
	case SweepStalePayments:
		err = s.sweepStalePayments(ctx, &rep)
	case SweepUpgrades:
		err = s.sweepUpgrades(ctx, &rep)
	case SweepSubscriptions:
		err = s.sweepSubscriptions(ctx, &rep)
	case SweepDormant:
		err = s.sweepDormant(ctx, &rep)
	case SweepQuota:
		err = s.sweepQuota(ctx, &rep)
	default:
		return rep, Invalid("unknown sweep %q", kind)
	}
	rep.Finished = s.now()
	return rep, err
}

func (s *Service) record(rep *Report, it Item, err error) {
	if err != nil {
		it.Outcome = OutcomeError
		it.Detail = err.Error()
		s.logger.Warn("sweep item failed",
			zap.String("sweep", string(rep.Kind)),
			zap.String("account_id", it.AccountID),
			zap.String("ref", it.Ref),
			zap.Error(err))
	}
	if it.Outcome == "" {
		return
	}
	rep.Items = append(rep.Items, it)
}

// --- stale payments ---

func (s *Service) sweepStalePayments(ctx context.Context, rep *Report) error {
	cutoff := s.now().Add(-s.settings.PaymentTimeout)
	stale, err := s.store.Entries().List(ctx, EntryFilter{Status: StatusPending, CreatedBefore: cutoff})
	if err != nil {
		return storeErr(err, ErrEntryNotFound)
	}
	seen := make(map[string]bool, len(stale))
	for _, e := range stale {
		if seen[e.PairID] {
			continue
		}
		seen[e.PairID] = true
		outcome, err := s.expirePair(ctx, e)
		s.record(rep, Item{AccountID: e.OwnerID, Ref: e.PairID, Outcome: outcome}, err)
	}
	return nil
}

// expirePair settles a pending pair that outlived the payment timeout. A pair whose
// approval already started is finished; anything else fails and its placement is
// undone.
func (s *Service) expirePair(ctx context.Context, e Entry) (Outcome, error) {
	if e.Reason == ReasonRootAdmin {
		if _, err := s.completeAdminAdvance(ctx, e); err != nil {
			return "", err
		}
		return OutcomeResumed, nil
	}

	pair, err := s.store.Entries().Pair(ctx, e.PairID)
	if err != nil {
		return "", storeErr(err, ErrEntryNotFound)
	}
	var debit, credit *Entry
	failed, settled := false, false
	for i := range pair {
		switch pair[i].Type {
		case EntryDebit:
			debit = &pair[i]
		case EntryCredit:
			credit = &pair[i]
		}
		switch pair[i].Status {
		case StatusFailure:
			failed = true
		case StatusSuccess:
			settled = true
		}
	}
	if debit == nil || credit == nil {
		if err := s.failPair(ctx, e.PairID); err != nil {
			return "", err
		}
		return OutcomeFailed, nil
	}

	if !failed {
		started, err := s.approvalStarted(ctx, *debit)
		if err != nil {
			return "", err
		}
		if settled || started {
			if debit.Reason == ReasonSubscription {
				_, err = s.settleSubscription(ctx, *credit, *debit)
			} else {
				_, err = s.settlePlacement(ctx, *credit, *debit)
			}
			if err != nil {
				return "", err
			}
			return OutcomeResumed, nil
		}
	}

	if debit.Reason == ReasonAllocatedPayment {
		if err := s.releasePlacement(ctx, e.PairID, credit.OwnerID, debit.OwnerID); err != nil {
			return "", err
		}
	}
	if err := s.failPair(ctx, e.PairID); err != nil {
		return "", err
	}
	s.logger.Info("payment expired",
		zap.String("pair_id", e.PairID),
		zap.String("payer_id", debit.OwnerID),
		zap.String("payee_id", credit.OwnerID))
	s.notify(ctx, debit.OwnerID, KindPaymentExpired, "Your pending payment has expired")
	return OutcomeFailed, nil
}

// approvalStarted reports whether the first approval step of debit's pair landed.
func (s *Service) approvalStarted(ctx context.Context, debit Entry) (bool, error) {
	if debit.Reason == ReasonSubscription {
		sub, err := s.subscription(ctx, debit.OwnerID)
		if err != nil {
			return false, err
		}
		return hasMarker(&sub.Revision, step(debit.PairID, "subscription")), nil
	}
	acct, err := s.store.Accounts().Get(ctx, debit.OwnerID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, storeErr(err, ErrAccountNotFound)
	}
	return hasMarker(&acct.Revision, step(debit.PairID, "downline-account")), nil
}

// releasePlacement undoes the placement behind an expired pair: the upline gives the
// slot back when the tier gap allows it and the downline leaves the upline.
func (s *Service) releasePlacement(ctx context.Context, run, uplineID, downlineID string) error {
	prof, err := s.store.Profiles().Get(ctx, downlineID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return storeErr(err, ErrAccountNotFound)
	}
	if prof.ParentID != uplineID {
		return nil
	}
	if err := s.releaseSlot(ctx, run, uplineID, downlineID); err != nil {
		return err
	}
	_, err = s.updateProfile(ctx, downlineID, step(run, "detach"), func(p *Profile) error {
		if p.ParentID == uplineID {
			p.ParentID = ""
		}
		return nil
	})
	return err
}

// releaseSlot decrements the upline placement count once per run when the upline sits
// within one rank of the downline. Counts never drop below the paid placements.
func (s *Service) releaseSlot(ctx context.Context, run, uplineID, downlineID string) error {
	ladder, err := s.ladder(ctx)
	if err != nil {
		return err
	}
	up, err := s.store.Accounts().Get(ctx, uplineID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return storeErr(err, ErrAccountNotFound)
	}
	down, err := s.account(ctx, downlineID)
	if err != nil {
		return err
	}
	if !releasable(tierGap(ladder.Get(up.TierID), ladder.Get(down.TierID))) {
		return nil
	}
	_, err = s.updateTracker(ctx, uplineID, step(run, "release"), func(t *Tracker) error {
		if t.Count > t.PaidCount {
			t.Count--
		}
		return nil
	})
	if errors.Is(err, ErrAccountNotFound) {
		return nil
	}
	return err
}

// --- upgrades ---

func (s *Service) sweepUpgrades(ctx context.Context, rep *Report) error {
	now := s.now()
	due, err := s.store.Trackers().UpgradeDue(ctx, now.Add(-s.settings.UpgradeGrace))
	if err != nil {
		return storeErr(err, ErrAccountNotFound)
	}
	cooling, err := s.store.Cooldowns().Active(ctx, now)
	if err != nil {
		return storeErr(err, ErrAccountNotFound)
	}
	exclude := make(map[string]bool, len(cooling))
	for _, id := range cooling {
		exclude[id] = true
	}
	for _, t := range due {
		outcome, err := s.forceAdvance(ctx, t, exclude)
		s.record(rep, Item{AccountID: t.AccountID, Outcome: outcome}, err)
	}
	if n, err := s.store.Cooldowns().Prune(ctx, now); err != nil {
		s.logger.Warn("cooldown prune failed", zap.Error(err))
	} else if n > 0 {
		s.logger.Debug("cooldowns pruned", zap.Int("count", n))
	}
	return nil
}

// forceAdvance moves an account that sat on its upgrade date past the grace period:
// it leaves its upline, is placed one tier up and exits the live tree. An approved
// payment to the new upline later revives it.
func (s *Service) forceAdvance(ctx context.Context, t Tracker, exclude map[string]bool) (Outcome, error) {
	acct, err := s.account(ctx, t.AccountID)
	if err != nil {
		return "", err
	}
	if !PolicyFor(acct.Role).Sweepable {
		return OutcomeSkipped, nil
	}
	run := "upgrade/" + acct.ID + "/" + strconv.FormatInt(t.UpgradeDate.Unix(), 10)
	detach := step(run, "detach")

	prof, err := s.profile(ctx, acct.ID)
	if err != nil {
		return "", err
	}
	previous := prof.ParentID
	if !hasMarker(&prof.Revision, detach) {
		if prof.ParentID != "" && prof.Placing == "" {
			if err := s.releaseSlot(ctx, run, prof.ParentID, acct.ID); err != nil {
				return "", err
			}
		}
		prof, err = s.updateProfile(ctx, acct.ID, detach, func(p *Profile) error {
			if p.Placing == "" {
				p.ParentID = ""
			}
			return nil
		})
		if err != nil {
			return "", err
		}
	}

	uplineID := prof.ParentID
	if uplineID == "" || prof.Placing != "" {
		ladder, err := s.ladder(ctx)
		if err != nil {
			return "", err
		}
		target := ladder.Next(ladder.Get(acct.TierID))
		if target != nil {
			uplineID, err = s.place(ctx, acct, target, exclude)
			switch {
			case errors.Is(err, ErrNoAvailableUpline):
				s.logger.Warn("no upline for reassignment", zap.String("account_id", acct.ID))
				uplineID = ""
			case err != nil:
				return "", err
			}
		}
		if uplineID != "" {
			if up, err := s.account(ctx, uplineID); err == nil && PolicyFor(up.Role).Bounded {
				until := s.now().Add(s.settings.ReassignCooldown)
				if err := s.store.Cooldowns().Put(ctx, Cooldown{CandidateID: uplineID, ExpiresAt: until}); err != nil {
					s.logger.Warn("cooldown not stored", zap.String("candidate_id", uplineID), zap.Error(err))
				}
				exclude[uplineID] = true
			}
			s.notify(ctx, uplineID, KindPlacementAssigned, "A new member has been placed under you")
		}
	}

	now := s.now()
	tombstone := step(run, "tombstone")
	if _, err := s.updateProfile(ctx, acct.ID, tombstone, func(p *Profile) error {
		p.DeletedAt = &now
		return nil
	}); err != nil {
		return "", err
	}
	if _, err := s.updateAccount(ctx, acct.ID, tombstone, func(a *Account) error {
		a.DeletedAt = &now
		return nil
	}); err != nil {
		return "", err
	}
	if _, err := s.updateTracker(ctx, acct.ID, tombstone, func(t *Tracker) error {
		t.DeletedAt = &now
		return nil
	}); err != nil {
		return "", err
	}
	s.logger.Info("account reassigned",
		zap.String("account_id", acct.ID),
		zap.String("previous_upline_id", previous),
		zap.String("upline_id", uplineID))
	s.notify(ctx, acct.ID, KindAccountReassigned, "Your upgrade window passed and you were reassigned")
	return OutcomeRepaired, nil
}

// --- subscriptions ---

func (s *Service) sweepSubscriptions(ctx context.Context, rep *Report) error {
	paying, err := s.store.Subscriptions().Paying(ctx)
	if err != nil {
		return storeErr(err, ErrAccountNotFound)
	}
	now := s.now()
	for _, sub := range paying {
		due, ok := sub.DueAt()
		if !ok || !due.Before(now) {
			continue
		}
		outcome, err := s.lapse(ctx, sub, due)
		s.record(rep, Item{AccountID: sub.AccountID, Outcome: outcome}, err)
	}
	return nil
}

func (s *Service) lapse(ctx context.Context, sub Subscription, due time.Time) (Outcome, error) {
	acct, err := s.account(ctx, sub.AccountID)
	if err != nil {
		return "", err
	}
	if !PolicyFor(acct.Role).Subscribes {
		return OutcomeSkipped, nil
	}
	run := "lapse/" + strconv.FormatInt(due.Unix(), 10)

	pending, err := s.store.Entries().List(ctx, EntryFilter{
		OwnerID: acct.ID,
		Status:  StatusPending,
		Reasons: []Reason{ReasonSubscription},
	})
	if err != nil {
		return "", storeErr(err, ErrEntryNotFound)
	}
	for _, e := range pending {
		if err := s.failPair(ctx, e.PairID); err != nil {
			return "", err
		}
	}

	now := s.now()
	tombstone := step(run, "tombstone")
	if _, err := s.updateProfile(ctx, acct.ID, tombstone, func(p *Profile) error {
		p.DeletedAt = &now
		return nil
	}); err != nil {
		return "", err
	}
	if _, err := s.updateAccount(ctx, acct.ID, tombstone, func(a *Account) error {
		a.DeletedAt = &now
		return nil
	}); err != nil {
		return "", err
	}
	if _, err := s.updateSubscription(ctx, acct.ID, step(run, "unpaid"), func(sub *Subscription) error {
		sub.Paid = false
		return nil
	}); err != nil {
		return "", err
	}
	s.logger.Info("subscription lapsed", zap.String("account_id", acct.ID), zap.Time("due", due))
	s.notify(ctx, acct.ID, KindSubscriptionLapsed, "Your subscription lapsed")
	return OutcomeRepaired, nil
}

// --- dormant accounts ---

func (s *Service) sweepDormant(ctx context.Context, rep *Report) error {
	cutoff := s.now().Add(-s.settings.DormantGrace)
	accts, err := s.store.Accounts().List(ctx, AccountFilter{CreatedBefore: cutoff})
	if err != nil {
		return storeErr(err, ErrAccountNotFound)
	}
	for _, a := range accts {
		if !PolicyFor(a.Role).Sweepable {
			continue
		}
		outcome, err := s.purge(ctx, a)
		s.record(rep, Item{AccountID: a.ID, Outcome: outcome}, err)
	}
	return nil
}

// purge deletes an account that never completed a payment. Accounts with any success
// or pending entry, any live downline or a placement in flight are kept.
func (s *Service) purge(ctx context.Context, a Account) (Outcome, error) {
	entries := s.store.Entries()
	for _, status := range []EntryStatus{StatusSuccess, StatusPending} {
		n, err := entries.Count(ctx, EntryFilter{OwnerID: a.ID, Status: status})
		if err != nil {
			return "", storeErr(err, ErrEntryNotFound)
		}
		if n > 0 {
			return "", nil
		}
	}
	kids, err := s.store.Profiles().Children(ctx, a.ID)
	if err != nil {
		return "", storeErr(err, ErrAccountNotFound)
	}
	if len(kids) > 0 {
		return "", nil
	}
	prof, err := s.store.Profiles().Get(ctx, a.ID)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return "", storeErr(err, ErrAccountNotFound)
	case prof.Placing != "":
		return "", nil
	case prof.ParentID != "":
		if err := s.releaseSlot(ctx, "purge/"+a.ID, prof.ParentID, a.ID); err != nil {
			return "", err
		}
	}

	if err := s.store.Notifications().DeleteByAccount(ctx, a.ID); err != nil {
		return "", storeErr(err, ErrAccountNotFound)
	}
	deletes := []func(context.Context, string) error{
		s.store.Subscriptions().Delete,
		s.store.Wallets().Delete,
		s.store.Trackers().Delete,
		s.store.Profiles().Delete,
		s.store.Accounts().Delete,
	}
	for _, del := range deletes {
		if err := del(ctx, a.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return "", storeErr(err, ErrAccountNotFound)
		}
	}
	s.logger.Info("dormant account purged", zap.String("account_id", a.ID), zap.Time("created_at", a.CreatedAt))
	return OutcomeRepaired, nil
}

// --- quota correction ---

func (s *Service) sweepQuota(ctx context.Context, rep *Report) error {
	ladder, err := s.ladder(ctx)
	if err != nil {
		return err
	}
	stalled, err := s.store.Trackers().Stalled(ctx, 2)
	if err != nil {
		return storeErr(err, ErrAccountNotFound)
	}
	for _, t := range stalled {
		outcome, err := s.correctQuota(ctx, t, ladder)
		s.record(rep, Item{AccountID: t.AccountID, Outcome: outcome}, err)
	}

	unsettled, err := s.store.Trackers().Unsettled(ctx)
	if err != nil {
		return storeErr(err, ErrAccountNotFound)
	}
	for _, t := range unsettled {
		done, err := s.settleAdvance(ctx, t.AccountID)
		outcome := OutcomeSkipped
		if done {
			outcome = OutcomeResumed
		}
		s.record(rep, Item{AccountID: t.AccountID, Outcome: outcome}, err)
	}
	return nil
}

// correctQuota advances a member holding two paid placements without an upline
// payment as if its quota were reached.
func (s *Service) correctQuota(ctx context.Context, t Tracker, ladder *Ladder) (Outcome, error) {
	acct, err := s.account(ctx, t.AccountID)
	if err != nil {
		return "", err
	}
	tier := ladder.Get(acct.TierID)
	if !acct.Live() || !PolicyFor(acct.Role).Sweepable || tier == nil {
		return OutcomeSkipped, nil
	}
	if _, err := s.updateTracker(ctx, acct.ID, "quota/"+tier.ID, func(t *Tracker) error {
		if t.State != StateUnachieved || t.PaidCount != 2 || t.UplinePaid {
			return errUnchanged
		}
		reachQuota(t, tier, ladder, s.now())
		return nil
	}); err != nil {
		return "", err
	}
	if _, err := s.settleAdvance(ctx, acct.ID); err != nil {
		return "", err
	}
	return OutcomeRepaired, nil
}
