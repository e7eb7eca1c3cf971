package network

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogue(t *testing.T) {
	tiers, err := DefaultCatalogue()
	require.NoError(t, err)
	require.Len(t, tiers, 10)

	for i, tier := range tiers {
		n := i + 1
		assert.Equal(t, n, tier.Rank)
		assert.Equal(t, 1<<n, tier.MembersNumber, "rank %d", n)
		assert.Equal(t, (1<<(n+1))-2, tier.AdminCount, "rank %d", n)
		assert.Equal(t, int64(1000)<<(n-1), tier.MemberAmount, "rank %d", n)
		assert.Equal(t, tier.MemberAmount, tier.UpgradeAmount)
		if n < 10 {
			assert.Equal(t, tiers[i+1].MemberAmount, tier.NextUpgrade, "next upgrade pays the upline tier")
		}
	}
	assert.Equal(t, int64(512000), tiers[9].NextUpgrade)
}

func TestParseCatalogueRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"gap": `tiers:
  - {id: a, rank: 1, name: A, members_number: 2, admin_count: 2, member_amount: 1, upgrade_amount: 1, next_upgrade: 1}
  - {id: c, rank: 3, name: C, members_number: 2, admin_count: 2, member_amount: 1, upgrade_amount: 1, next_upgrade: 1}
`,
		"duplicate id": `tiers:
  - {id: a, rank: 1, name: A, members_number: 2, admin_count: 2, member_amount: 1, upgrade_amount: 1, next_upgrade: 1}
  - {id: a, rank: 2, name: B, members_number: 2, admin_count: 2, member_amount: 1, upgrade_amount: 1, next_upgrade: 1}
`,
		"unknown field": `tiers:
  - {id: a, rank: 1, colour: red, members_number: 2, admin_count: 2, member_amount: 1, upgrade_amount: 1, next_upgrade: 1}
`,
		"zero amount": `tiers:
  - {id: a, rank: 1, name: A, members_number: 2, admin_count: 2, member_amount: 0, upgrade_amount: 1, next_upgrade: 1}
`,
		"empty": `tiers: []`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCatalogue(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestLadder(t *testing.T) {
	tiers, err := DefaultCatalogue()
	require.NoError(t, err)
	l := NewLadder(tiers)

	assert.Equal(t, "tier-1", l.Next(nil).ID)
	assert.Equal(t, "tier-4", l.Next(l.Get("tier-3")).ID)
	assert.Nil(t, l.Next(l.Rank(10)))
	assert.True(t, l.IsTop(l.Get("tier-10")))
	assert.False(t, l.IsTop(nil))
	assert.Nil(t, l.Get(""))
	assert.Nil(t, l.Rank(0))
}

func TestUpsertTierKeepsRanksContiguous(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.UpsertTier(h.ctx, Tier{ID: "tier-12", Rank: 12, Name: "Twelve", MembersNumber: 1, AdminCount: 1, MemberAmount: 1, UpgradeAmount: 1, NextUpgrade: 1})
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = h.svc.UpsertTier(h.ctx, Tier{ID: "other", Rank: 3, Name: "Clash", MembersNumber: 1, AdminCount: 1, MemberAmount: 1, UpgradeAmount: 1, NextUpgrade: 1})
	assert.Equal(t, KindValidation, KindOf(err))

	saved, err := h.svc.UpsertTier(h.ctx, Tier{ID: "tier-11", Rank: 11, Name: "Level 11", MembersNumber: 2048, AdminCount: 4094, MemberAmount: 1024000, UpgradeAmount: 1024000, NextUpgrade: 1024000})
	require.NoError(t, err)
	assert.Equal(t, 11, saved.Rank)

	tiers, err := h.svc.Tiers(h.ctx)
	require.NoError(t, err)
	assert.Len(t, tiers, 11)
}
