package network

import (
	"context"
	"errors"
	"sort"
	"strconv"

	"go.uber.org/zap"
)

// Activation is the result of placing an account under an upline.
type Activation struct {
	Account      Account `json:"account"`
	Upline       Profile `json:"upline"`
	UplineWallet Wallet  `json:"upline_wallet"`
}

var errSlotTaken = errors.New("placement slot taken")

// Activate places accountID under an upline one tier above its own. An account that
// already has a live upline gets it back unchanged.
func (s *Service) Activate(ctx context.Context, accountID string) (Activation, error) {
	acct, err := s.account(ctx, accountID)
	if err != nil {
		return Activation{}, err
	}
	if acct.Role == RoleAdmin {
		return Activation{}, ErrIsAdmin
	}
	prof, err := s.profile(ctx, accountID)
	if err != nil {
		return Activation{}, err
	}
	if prof.ParentID != "" && prof.Placing == "" {
		return s.activation(ctx, acct, prof.ParentID)
	}

	tracker, err := s.tracker(ctx, accountID)
	if err != nil {
		return Activation{}, err
	}
	ladder, err := s.ladder(ctx)
	if err != nil {
		return Activation{}, err
	}
	current := ladder.Get(acct.TierID)
	if current != nil && tracker.State != StateAchieved {
		return Activation{}, ErrQuotaNotReached
	}
	target := ladder.Next(current)
	if target == nil {
		return Activation{}, ErrMaxTier
	}

	uplineID, err := s.place(ctx, acct, target, nil)
	if err != nil {
		return Activation{}, err
	}
	s.logger.Info("account placed",
		zap.String("account_id", acct.ID),
		zap.String("upline_id", uplineID),
		zap.String("tier_id", target.ID))
	s.notify(ctx, uplineID, KindPlacementAssigned, "A new member has been placed under you")
	return s.activation(ctx, acct, uplineID)
}

func (s *Service) activation(ctx context.Context, acct Account, uplineID string) (Activation, error) {
	up, err := s.profile(ctx, uplineID)
	if err != nil {
		return Activation{}, err
	}
	w, err := s.wallet(ctx, uplineID)
	if err != nil {
		return Activation{}, err
	}
	return Activation{Account: acct, Upline: up, UplineWallet: w}, nil
}

// place runs the placement saga for acct: record the chosen candidate on the profile,
// claim one slot on the candidate tracker, then attach. An interrupted run resumes on
// the recorded candidate. Member candidates listed in exclude are skipped.
func (s *Service) place(ctx context.Context, acct Account, target *Tier, exclude map[string]bool) (string, error) {
	skip := make(map[string]bool, len(exclude))
	for id := range exclude {
		skip[id] = true
	}
	for attempt := 0; attempt < s.attempts; attempt++ {
		prof, err := s.profile(ctx, acct.ID)
		if err != nil {
			return "", err
		}
		candidate := prof.Placing
		if candidate == "" {
			candidate, err = s.selectUpline(ctx, acct.ID, target, skip)
			if err != nil {
				return "", err
			}
			prof, err = s.updateProfile(ctx, acct.ID, "", func(p *Profile) error {
				if p.Placing != "" {
					candidate = p.Placing
					return errUnchanged
				}
				p.Placing = candidate
				return nil
			})
			if err != nil {
				return "", err
			}
		}

		key := "place/" + acct.ID + "/" + strconv.Itoa(len(prof.Parents))
		err = s.claimSlot(ctx, candidate, target, key)
		if errors.Is(err, errSlotTaken) || errors.Is(err, ErrAccountNotFound) {
			skip[candidate] = true
			if _, err := s.updateProfile(ctx, acct.ID, "", func(p *Profile) error {
				if p.Placing != candidate {
					return errUnchanged
				}
				p.Placing = ""
				return nil
			}); err != nil {
				return "", err
			}
			continue
		}
		if err != nil {
			return "", err
		}

		if _, err := s.updateProfile(ctx, acct.ID, key, func(p *Profile) error {
			p.ParentID = candidate
			p.Parents = append(p.Parents, candidate)
			p.Placing = ""
			return nil
		}); err != nil {
			return "", err
		}
		return candidate, nil
	}
	return "", ErrContention
}

// claimSlot increments the candidate placement count once per key. Bounded roles are
// re-checked against the quota at the moment of the write.
func (s *Service) claimSlot(ctx context.Context, candidateID string, target *Tier, key string) error {
	cand, err := s.account(ctx, candidateID)
	if err != nil {
		return err
	}
	pol := PolicyFor(cand.Role)
	_, err = s.updateTracker(ctx, candidateID, key, func(t *Tracker) error {
		if pol.Bounded {
			if target == nil || cand.TierID != target.ID {
				return errSlotTaken
			}
			if !open(*t, target) {
				return errSlotTaken
			}
		}
		t.Count++
		return nil
	})
	return err
}

// open reports whether a member tracker can still receive a placement at tier.
func open(t Tracker, tier *Tier) bool {
	return t.DeletedAt == nil &&
		t.State == StateUnachieved &&
		t.UpgradeDate == nil &&
		t.Count < tier.MembersNumber
}

// selectUpline picks the least loaded open member at target, oldest first, falling
// back to admins by the same order. A nil target goes straight to the admins.
func (s *Service) selectUpline(ctx context.Context, selfID string, target *Tier, skip map[string]bool) (string, error) {
	var eligible []Candidate
	if target != nil {
		members, err := s.store.Accounts().Candidates(ctx, CandidateFilter{TierID: target.ID, Role: RoleMember})
		if err != nil {
			return "", storeErr(err, ErrAccountNotFound)
		}
		for _, c := range members {
			if c.Account.ID == selfID || skip[c.Account.ID] || !open(c.Tracker, target) {
				continue
			}
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		admins, err := s.store.Accounts().Candidates(ctx, CandidateFilter{AnyTier: true, Role: RoleAdmin})
		if err != nil {
			return "", storeErr(err, ErrAccountNotFound)
		}
		for _, c := range admins {
			if c.Account.ID == selfID {
				continue
			}
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return "", ErrNoAvailableUpline
	}
	// Candidates arrive oldest first; a stable sort keeps that as the tie-break.
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Tracker.Count < eligible[j].Tracker.Count
	})
	return eligible[0].Account.ID, nil
}
