package templates

import (
	"time"

	"github.com/bluesky-social/banter/engage"
	"github.com/bluesky-social/banter/engage/cooldown"
)

const (
	DefaultCooldown   = 5 * time.Minute
	DefaultMaxTracked = 100
)

// Picks a template from a group, biased away from recently used ones. Each scheduler owns its own
// Selector (and so its own cooldown table); the Catalog is shared read-only.
type Selector struct {
	Catalog Catalog

	// per-template-name cooldown window
	Cooldown time.Duration

	// once more names than this are tracked, the oldest half is evicted
	MaxTracked int

	rng       engage.Rand
	now       func() time.Time
	cooldowns *cooldown.Tracker
}

func NewSelector(catalog Catalog, rng engage.Rand, now func() time.Time) *Selector {
	if now == nil {
		now = time.Now
	}
	return &Selector{
		Catalog:    catalog,
		Cooldown:   DefaultCooldown,
		MaxTracked: DefaultMaxTracked,
		rng:        rng,
		now:        now,
		cooldowns:  cooldown.NewTracker(),
	}
}

func (s *Selector) Select(group string, ctx Context) (*Variation, bool) {
	return s.SelectFrom(group, s.Catalog[group], ctx)
}

// Runs selection over an explicit set of variations, eg the templates of a special interaction.
// Returns false when no template survives; callers fall back to a default.
func (s *Selector) SelectFrom(group string, vars []Variation, ctx Context) (*Variation, bool) {
	now := s.now()
	var eligible []*Variation
	for i := range vars {
		v := &vars[i]
		if s.cooldowns.OnCooldown(v.Name, now, s.Cooldown) {
			continue
		}
		if len(v.Conditions) > 0 && !MatchAll(v.Conditions, ctx) {
			continue
		}
		if !engage.Chance(s.rng, v.EffectiveProbability()) {
			continue
		}
		eligible = append(eligible, v)
	}
	if len(eligible) == 0 {
		return nil, false
	}
	s.rng.Shuffle(len(eligible), func(i, j int) {
		eligible[i], eligible[j] = eligible[j], eligible[i]
	})
	chosen := eligible[0]
	s.markUsed(chosen.Name, now)
	return chosen, true
}

func (s *Selector) markUsed(name string, now time.Time) {
	s.cooldowns.Record(name, now)
	if s.cooldowns.Len() > s.MaxTracked {
		s.cooldowns.EvictOldest(s.cooldowns.Len() / 2)
	}
}

func (s *Selector) OnCooldown(name string) bool {
	return s.cooldowns.OnCooldown(name, s.now(), s.Cooldown)
}

// Number of template names currently tracked in the cooldown table.
func (s *Selector) Tracked() int {
	return s.cooldowns.Len()
}
