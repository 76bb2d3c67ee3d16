// Tracks the last event time per key and answers "has the window elapsed since then".
package cooldown

import (
	"time"
)

// Not safe for concurrent use; each tracker belongs to a single control loop.
type Tracker struct {
	last map[string]time.Time

	// keys in first-insertion order, used for bounded eviction
	order []string
}

func NewTracker() *Tracker {
	return &Tracker{
		last: make(map[string]time.Time),
	}
}

// A key which was never recorded is not on cooldown.
func (t *Tracker) OnCooldown(key string, now time.Time, window time.Duration) bool {
	last, ok := t.last[key]
	if !ok {
		return false
	}
	return now.Sub(last) < window
}

// Stamps the key with now. Timestamps never move backwards for a key.
func (t *Tracker) Record(key string, now time.Time) {
	prev, ok := t.last[key]
	if !ok {
		t.order = append(t.order, key)
	} else if now.Before(prev) {
		return
	}
	t.last[key] = now
}

func (t *Tracker) Last(key string) (time.Time, bool) {
	v, ok := t.last[key]
	return v, ok
}

func (t *Tracker) Len() int {
	return len(t.last)
}

func (t *Tracker) Delete(key string) {
	if _, ok := t.last[key]; !ok {
		return
	}
	delete(t.last, key)
	for i, k := range t.order {
		if k == key {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// Removes the n keys which were first inserted earliest. Re-recording a key does not change its
// position; this is insertion order, not LRU.
func (t *Tracker) EvictOldest(n int) {
	if n <= 0 {
		return
	}
	if n > len(t.order) {
		n = len(t.order)
	}
	for _, k := range t.order[:n] {
		delete(t.last, k)
	}
	t.order = append([]string(nil), t.order[n:]...)
}

// Deletes every key whose last event is before cutoff, returning the deleted keys.
func (t *Tracker) PurgeBefore(cutoff time.Time) []string {
	var purged []string
	kept := t.order[:0]
	for _, k := range t.order {
		if t.last[k].Before(cutoff) {
			delete(t.last, k)
			purged = append(purged, k)
			continue
		}
		kept = append(kept, k)
	}
	t.order = kept
	return purged
}
