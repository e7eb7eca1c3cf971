package network

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed tiers.yaml
var defaultTiers []byte

type catalogueFile struct {
	Tiers []Tier `yaml:"tiers"`
}

// DefaultCatalogue returns the built-in ten tier catalogue.
func DefaultCatalogue() ([]Tier, error) {
	return ParseCatalogue(bytes.NewReader(defaultTiers))
}

// LoadCatalogue reads a catalogue from path, or the built-in one when path is empty.
func LoadCatalogue(path string) ([]Tier, error) {
	if path == "" {
		return DefaultCatalogue()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseCatalogue(f)
}

// ParseCatalogue decodes and validates a YAML tier catalogue. Ranks must run 1..N.
func ParseCatalogue(r io.Reader) ([]Tier, error) {
	var file catalogueFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode tiers: %w", err)
	}
	tiers := file.Tiers
	if len(tiers) == 0 {
		return nil, fmt.Errorf("decode tiers: catalogue is empty")
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Rank < tiers[j].Rank })
	seen := make(map[string]bool, len(tiers))
	for i, t := range tiers {
		if err := validateTier(t); err != nil {
			return nil, err
		}
		if t.Rank != i+1 {
			return nil, fmt.Errorf("tier %q: ranks must be contiguous from 1, got %d at position %d", t.ID, t.Rank, i+1)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("tier %q: duplicate id", t.ID)
		}
		seen[t.ID] = true
	}
	return tiers, nil
}

func validateTier(t Tier) error {
	switch {
	case t.ID == "":
		return Invalid("tier id is required")
	case t.Rank < 1:
		return Invalid("tier %q: rank must be >= 1", t.ID)
	case t.MembersNumber < 1:
		return Invalid("tier %q: members_number must be >= 1", t.ID)
	case t.AdminCount < 1:
		return Invalid("tier %q: admin_count must be >= 1", t.ID)
	case t.MemberAmount <= 0 || t.UpgradeAmount <= 0 || t.NextUpgrade <= 0:
		return Invalid("tier %q: amounts must be > 0", t.ID)
	}
	return nil
}

// SeedTiers upserts every tier of the catalogue.
func SeedTiers(ctx context.Context, store TierStore, tiers []Tier) error {
	for _, t := range tiers {
		if _, err := store.Upsert(ctx, t); err != nil {
			return fmt.Errorf("seed tier %s: %w", t.ID, err)
		}
	}
	return nil
}

// Ladder is an ordered, indexed view over the tier catalogue.
type Ladder struct {
	ranks []Tier
	byID  map[string]int
}

// NewLadder indexes tiers, which must be ordered by rank.
func NewLadder(tiers []Tier) *Ladder {
	l := &Ladder{ranks: tiers, byID: make(map[string]int, len(tiers))}
	for i, t := range tiers {
		l.byID[t.ID] = i
	}
	return l
}

// Get returns the tier with id, nil for the empty id or an unknown one.
func (l *Ladder) Get(id string) *Tier {
	i, ok := l.byID[id]
	if !ok {
		return nil
	}
	t := l.ranks[i]
	return &t
}

// Rank returns the tier at rank r, nil when out of range.
func (l *Ladder) Rank(r int) *Tier {
	if r < 1 || r > len(l.ranks) {
		return nil
	}
	t := l.ranks[r-1]
	return &t
}

// Next returns the tier above t, the first tier for an untiered account, or nil at the top.
func (l *Ladder) Next(t *Tier) *Tier {
	return l.Rank(rankOf(t) + 1)
}

// IsTop reports whether t is the highest tier.
func (l *Ladder) IsTop(t *Tier) bool {
	return t != nil && t.Rank == len(l.ranks)
}

// Tiers returns the catalogue in rank order.
func (l *Ladder) Tiers() []Tier {
	out := make([]Tier, len(l.ranks))
	copy(out, l.ranks)
	return out
}
