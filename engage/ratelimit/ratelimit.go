// Per-user, per-thread and global reply limits, plus the special-interaction gate.
package ratelimit

import (
	"time"

	"github.com/bluesky-social/banter/engage"
	"github.com/bluesky-social/banter/engage/cooldown"

	"github.com/RussellLuo/slidingwindow"
)

// State older than this is dropped by Sweep.
const RetentionHorizon = 24 * time.Hour

// Reply limits for a single scheduler instance. Not safe for concurrent use: the owning control
// loop is the only writer.
type Limiter struct {
	limits engage.Limits

	userCounts   map[string]int
	userLast     *cooldown.Tracker
	threadCounts map[string]int

	// nil when MaxRepliesPerDay is zero
	global *slidingwindow.Limiter
}

func NewLimiter(limits engage.Limits) *Limiter {
	l := &Limiter{
		limits:       limits,
		userCounts:   make(map[string]int),
		userLast:     cooldown.NewTracker(),
		threadCounts: make(map[string]int),
	}
	if limits.MaxRepliesPerDay > 0 {
		l.global, _ = slidingwindow.NewLimiter(RetentionHorizon, limits.MaxRepliesPerDay, func() (slidingwindow.Window, slidingwindow.StopFunc) {
			return slidingwindow.NewLocalWindow()
		})
	}
	return l
}

// True iff the user is under the per-user cap AND the last reply to them is at least
// MinTimeBetweenReplies old.
func (l *Limiter) CanReplyToUser(userID string, now time.Time) bool {
	if l.userCounts[userID] >= l.limits.MaxRepliesPerUser {
		return false
	}
	return !l.userLast.OnCooldown(userID, now, l.limits.MinTimeBetweenReplies)
}

// Thread limits are count-only.
func (l *Limiter) CanReplyInThread(conversationID string) bool {
	return l.threadCounts[conversationID] < l.limits.MaxRepliesPerThread
}

// Takes one slot from the global daily quota, if one is configured. The quota counts admitted
// attempts, so a slot is spent even if generation later fails.
func (l *Limiter) ReserveGlobal(now time.Time) bool {
	if l.global == nil {
		return true
	}
	return l.global.AllowN(now, 1)
}

func (l *Limiter) RecordReply(userID, conversationID string, now time.Time) {
	l.userCounts[userID]++
	l.threadCounts[conversationID]++
	l.userLast.Record(userID, now)
}

// Drops all state for users idle past the retention horizon, and clears thread counters
// unconditionally (they carry no timestamp). Returns the number of users dropped.
func (l *Limiter) Sweep(now time.Time) int {
	purged := l.userLast.PurgeBefore(now.Add(-RetentionHorizon))
	for _, u := range purged {
		delete(l.userCounts, u)
	}
	clear(l.threadCounts)
	return len(purged)
}

func (l *Limiter) UserCount(userID string) int {
	return l.userCounts[userID]
}

func (l *Limiter) ThreadCount(conversationID string) int {
	return l.threadCounts[conversationID]
}

// Number of users with tracked state.
func (l *Limiter) TrackedUsers() int {
	return l.userLast.Len()
}
