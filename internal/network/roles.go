package network

// Policy is the per-role strategy row consulted by every state transition.
type Policy struct {
	Role Role
	// Quota is the paid placements this role must collect at tier t. Zero means the
	// role has no quota at that tier.
	Quota func(t *Tier) int
	// Bounded reports whether placement count is capped by the tier quota. Only
	// bounded roles keep count <= quota; unbounded admin trackers count past it.
	Bounded bool
	// CountsPaid reports whether an approval from a downline gap tiers below counts.
	CountsPaid func(gap int) bool
	// KeepsDownline reports whether approving a payment leaves the payer attached.
	KeepsDownline bool
	// Sweepable reports whether reconciliation may detach or purge the account.
	Sweepable bool
	// Subscribes reports whether reaching the trigger tier activates a subscription.
	Subscribes bool
}

var policies = map[Role]Policy{
	RoleMember: {
		Role: RoleMember,
		Quota: func(t *Tier) int {
			if t == nil {
				return 0
			}
			return t.MembersNumber
		},
		Bounded:    true,
		CountsPaid: func(int) bool { return true },
		Sweepable:  true,
		Subscribes: true,
	},
	RoleAdmin: {
		Role: RoleAdmin,
		Quota: func(t *Tier) int {
			if t == nil {
				return 0
			}
			return t.AdminCount
		},
		// Admins skip approvals from downlines ranked below them.
		CountsPaid:    func(gap int) bool { return gap < 1 },
		KeepsDownline: true,
	},
}

// PolicyFor returns the policy row for r, defaulting to the member row.
func PolicyFor(r Role) Policy {
	if p, ok := policies[r]; ok {
		return p
	}
	return policies[RoleMember]
}

// releasable reports whether an unfulfilled placement may be handed back to the
// upline. Placements made across more than one tier are not returned.
func releasable(gap int) bool { return gap <= 1 }

// tierGap is upline rank minus downline rank, an untiered account counting as rank 0.
func tierGap(upline, downline *Tier) int {
	return rankOf(upline) - rankOf(downline)
}

func rankOf(t *Tier) int {
	if t == nil {
		return 0
	}
	return t.Rank
}
