package engage

import (
	"fmt"
	"time"
)

// Immutable snapshot of the engagement limits, loaded once at startup.
type Limits struct {
	MaxRepliesPerThread   int
	MaxRepliesPerUser     int
	MinTimeBetweenReplies time.Duration
	CheckInterval         time.Duration
	ReplyProbability      float64

	// Maximum number of messages to reconstruct from a thread. Historically this reused
	// MaxRepliesPerThread; it is a separate setting now.
	MaxThreadDepth int

	// Optional global cap on replies in any 24 hour window. Zero disables it.
	MaxRepliesPerDay int64
}

func DefaultLimits() Limits {
	return Limits{
		MaxRepliesPerThread:   3,
		MaxRepliesPerUser:     5,
		MinTimeBetweenReplies: 300_000 * time.Millisecond,
		CheckInterval:         5 * time.Minute,
		ReplyProbability:      0.5,
		MaxThreadDepth:        10,
	}
}

func (l Limits) Validate() error {
	if l.MaxRepliesPerThread < 0 {
		return &ConfigError{Field: "maxRepliesPerThread", Err: fmt.Errorf("must not be negative: %d", l.MaxRepliesPerThread)}
	}
	if l.MaxRepliesPerUser < 0 {
		return &ConfigError{Field: "maxRepliesPerUser", Err: fmt.Errorf("must not be negative: %d", l.MaxRepliesPerUser)}
	}
	if l.MinTimeBetweenReplies < 0 {
		return &ConfigError{Field: "minTimeBetweenReplies", Err: fmt.Errorf("must not be negative: %s", l.MinTimeBetweenReplies)}
	}
	if l.CheckInterval <= 0 {
		return &ConfigError{Field: "checkIntervalMinutes", Err: fmt.Errorf("must be positive: %s", l.CheckInterval)}
	}
	if l.ReplyProbability < 0 || l.ReplyProbability > 1 {
		return &ConfigError{Field: "replyProbability", Err: fmt.Errorf("must be within [0,1]: %v", l.ReplyProbability)}
	}
	if l.MaxThreadDepth < 1 {
		return &ConfigError{Field: "maxThreadDepth", Err: fmt.Errorf("must be at least 1: %d", l.MaxThreadDepth)}
	}
	if l.MaxRepliesPerDay < 0 {
		return &ConfigError{Field: "maxRepliesPerDay", Err: fmt.Errorf("must not be negative: %d", l.MaxRepliesPerDay)}
	}
	return nil
}
