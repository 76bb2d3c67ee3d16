package ratelimit

import (
	"strings"
	"time"

	"github.com/bluesky-social/banter/engage"
	"github.com/bluesky-social/banter/engage/cooldown"
	"github.com/bluesky-social/banter/engage/templates"
)

const DefaultSpecialCooldown = 24 * time.Hour

// A per-handle rule which swaps in its own templates and topics when it fires.
type SpecialInteraction struct {
	Handle      string
	Topics      []string
	Templates   []templates.Variation
	Probability float64
	Cooldown    time.Duration
}

// Independent gate layered on top of the general Limiter, keyed by handle.
type SpecialGate struct {
	rules map[string]SpecialInteraction
	fired *cooldown.Tracker
}

func NewSpecialGate(rules []SpecialInteraction) *SpecialGate {
	g := &SpecialGate{
		rules: make(map[string]SpecialInteraction, len(rules)),
		fired: cooldown.NewTracker(),
	}
	for _, r := range rules {
		if r.Cooldown <= 0 {
			r.Cooldown = DefaultSpecialCooldown
		}
		r.Handle = NormalizeHandle(r.Handle)
		g.rules[r.Handle] = r
	}
	return g
}

// Handles are case-insensitive; rules and lookups use the lower-cased form.
func NormalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
}

func (g *SpecialGate) Rule(handle string) (SpecialInteraction, bool) {
	r, ok := g.rules[NormalizeHandle(handle)]
	return r, ok
}

func (g *SpecialGate) CanFire(handle string, now time.Time, window time.Duration) bool {
	return !g.fired.OnCooldown(NormalizeHandle(handle), now, window)
}

// Cooldown check, then an independent Bernoulli trial against the rule probability.
func (g *SpecialGate) Admit(rule SpecialInteraction, now time.Time, rng engage.Rand) bool {
	if !g.CanFire(rule.Handle, now, rule.Cooldown) {
		return false
	}
	return engage.Chance(rng, rule.Probability)
}

func (g *SpecialGate) Record(handle string, now time.Time) {
	g.fired.Record(NormalizeHandle(handle), now)
}
