package network

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// creditPlacement applies one approved payment from a downline gap tiers below the
// upline. Reaching the quota records the resulting tier change as an Advance, which
// settleAdvance later applies to the account.
func creditPlacement(t *Tracker, pol Policy, tier *Tier, ladder *Ladder, gap int, now time.Time) {
	if !pol.CountsPaid(gap) {
		return
	}
	quota := pol.Quota(tier)
	if quota == 0 || t.PaidCount < quota {
		t.PaidCount++
	}
	if t.Count < t.PaidCount {
		t.Count = t.PaidCount
	}
	if quota == 0 || t.PaidCount < quota {
		return
	}
	switch pol.Role {
	case RoleAdmin:
		t.State = StateAchieved
		t.UpgradeDate = &now
		t.UplinePaid = true
		t.Count = 0
		t.PaidCount = 0
	default:
		if t.State == StateUnachieved {
			reachQuota(t, tier, ladder, now)
		}
	}
}

// reachQuota moves a member tracker past its tier quota. Tier 1 only becomes eligible
// to activate upward; the top tier leaves the network; any other tier advances
// immediately.
func reachQuota(t *Tracker, tier *Tier, ladder *Ladder, now time.Time) {
	switch {
	case tier.Rank == 1:
		t.State = StateAchieved
		t.Count = 0
		t.PaidCount = 0
		t.UpgradeDate = &now
		t.UplinePaid = false
	case ladder.IsTop(tier):
		t.State = StateAchieved
		t.Count = 0
		t.PaidCount = 0
		t.UplinePaid = false
		t.Advance = &Advance{From: tier.ID, Exit: true}
	default:
		next := ladder.Next(tier)
		t.State = StateUnachieved
		t.Count = 0
		t.PaidCount = 0
		t.UpgradeDate = nil
		t.UplinePaid = false
		t.Advance = &Advance{From: tier.ID, To: next.ID}
	}
}

// settleAdvance applies a pending Advance of accountID to its account and then clears
// it. The account write compares on the source tier so it lands once. An exit also
// tombstones the profile, and the tracker in the write that clears the Advance.
func (s *Service) settleAdvance(ctx context.Context, accountID string) (bool, error) {
	t, err := s.tracker(ctx, accountID)
	if err != nil {
		return false, err
	}
	if t.Advance == nil {
		return false, nil
	}
	adv := *t.Advance
	now := s.now()
	if _, err := s.updateAccount(ctx, accountID, "", func(a *Account) error {
		if adv.Exit {
			if a.DeletedAt != nil {
				return errUnchanged
			}
			a.DeletedAt = &now
			return nil
		}
		if a.TierID != adv.From {
			return errUnchanged
		}
		a.TierID = adv.To
		return nil
	}); err != nil {
		return false, err
	}
	if adv.Exit {
		if _, err := s.updateProfile(ctx, accountID, "", func(p *Profile) error {
			if p.DeletedAt != nil {
				return errUnchanged
			}
			p.DeletedAt = &now
			return nil
		}); err != nil {
			return false, err
		}
	}
	if _, err := s.updateTracker(ctx, accountID, "", func(t *Tracker) error {
		if t.Advance == nil || *t.Advance != adv {
			return errUnchanged
		}
		t.Advance = nil
		if adv.Exit && t.DeletedAt == nil {
			t.DeletedAt = &now
		}
		return nil
	}); err != nil {
		return false, err
	}

	if adv.Exit {
		s.logger.Info("account completed top tier", zap.String("account_id", accountID), zap.String("tier_id", adv.From))
		s.notify(ctx, accountID, KindTierAdvanced, "You have completed the final tier")
	} else {
		s.logger.Info("tier advanced", zap.String("account_id", accountID), zap.String("from", adv.From), zap.String("to", adv.To))
		s.notify(ctx, accountID, KindTierAdvanced, "You have advanced to the next tier")
	}
	return true, nil
}
