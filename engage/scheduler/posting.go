package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bluesky-social/banter/engage"
	"github.com/bluesky-social/banter/engage/cachestore"
	"github.com/bluesky-social/banter/engage/oracle"
	"github.com/bluesky-social/banter/engage/templates"

	"github.com/spaolacci/murmur3"
)

const (
	PostingCacheName = "posting"
	LastPostKey      = "lastPostTime"
	RecentPostsKey   = "recentPosts"

	DefaultPostGroup = "post"
	DefaultMinDelay  = 90 * time.Minute
	DefaultMaxDelay  = 180 * time.Minute
	FailureBackoff   = 5 * time.Minute

	recentPostsKept = 50
)

var ErrDuplicatePost = errors.New("generated text repeats a recent post")

// compact hash of post text, for the recent-post list
func textHash(s string) string {
	return fmt.Sprintf("%016x", murmur3.Sum64([]byte(s)))
}

// Publishes top-level posts on a randomized timer.
//
// Fire is guarded by a busy flag, so overlapping timer firings never post concurrently; a firing
// which finds the flag set does nothing. Everything else is only touched by the firing which holds
// the flag.
type Poster struct {
	Group     string
	MinDelay  time.Duration
	MaxDelay  time.Duration
	MaxLength int

	// optional topics; one is picked at random for each post
	Topics []string

	Selector  *templates.Selector
	Generator Generator
	Sender    Sender
	Cache     cachestore.CacheStore
	Logger    *slog.Logger

	rng      engage.Rand
	now      func() time.Time
	busy     atomic.Bool
	restored bool
	lastPost time.Time
	delay    time.Duration
}

func NewPoster(catalog templates.Catalog, rng engage.Rand, now func() time.Time) *Poster {
	if rng == nil {
		rng = engage.NewRand()
	}
	if now == nil {
		now = time.Now
	}
	return &Poster{
		Group:     DefaultPostGroup,
		MinDelay:  DefaultMinDelay,
		MaxDelay:  DefaultMaxDelay,
		MaxLength: DefaultMaxLength,
		Selector:  templates.NewSelector(catalog, rng, now),
		Logger:    slog.Default().With("loop", "posting"),
		rng:       rng,
		now:       now,
	}
}

func (p *Poster) Validate() error {
	if p.MinDelay <= 0 {
		return &engage.ConfigError{Field: "postMinDelay", Err: fmt.Errorf("must be positive: %s", p.MinDelay)}
	}
	if p.MaxDelay < p.MinDelay {
		return &engage.ConfigError{Field: "postMaxDelay", Err: fmt.Errorf("%s is less than minimum %s", p.MaxDelay, p.MinDelay)}
	}
	return nil
}

// Uniform in [MinDelay, MaxDelay], at second granularity.
func (p *Poster) randomDelay() time.Duration {
	span := int((p.MaxDelay - p.MinDelay) / time.Second)
	if span <= 0 {
		return p.MinDelay
	}
	return p.MinDelay + time.Duration(p.rng.IntN(span+1))*time.Second
}

func (p *Poster) restore(ctx context.Context) {
	if p.restored || p.Cache == nil {
		return
	}
	last, ok, err := cachestore.GetTime(ctx, p.Cache, PostingCacheName, LastPostKey)
	if err != nil {
		p.Logger.Warn("failed to restore last post time", "err", err)
		return
	}
	p.restored = true
	if ok && last.After(p.lastPost) {
		p.Logger.Info("restored last post time", "lastPostTime", last)
		p.lastPost = last
	}
}

// Runs one timer firing and returns how long to wait before the next one.
//
// If the chosen delay has already passed since the last post, a post is made now. A failed post
// backs off for FailureBackoff. A firing which overlaps another is skipped.
func (p *Poster) Fire(ctx context.Context) time.Duration {
	if !p.busy.CompareAndSwap(false, true) {
		postOutcomes.WithLabelValues("busy").Inc()
		p.Logger.Debug("posting already in progress, skipping")
		return p.MinDelay
	}
	defer p.busy.Store(false)

	p.restore(ctx)
	if p.delay == 0 {
		p.delay = p.randomDelay()
	}
	now := p.now()
	if !p.lastPost.IsZero() {
		if elapsed := now.Sub(p.lastPost); elapsed < p.delay {
			postOutcomes.WithLabelValues("waiting").Inc()
			return p.delay - elapsed
		}
	}

	start := time.Now()
	err := p.post(ctx, now)
	tickDuration.WithLabelValues("posting").Observe(time.Since(start).Seconds())
	if err != nil {
		var gerr *oracle.GenerationError
		if errors.As(err, &gerr) {
			generationErrors.WithLabelValues("posting").Inc()
		}
		postOutcomes.WithLabelValues("failed").Inc()
		p.Logger.Warn("failed to post", "err", err, "retry", FailureBackoff)
		return FailureBackoff
	}
	postOutcomes.WithLabelValues("posted").Inc()
	p.delay = p.randomDelay()
	return p.delay
}

func (p *Poster) post(ctx context.Context, now time.Time) error {
	ctx, span := tracer.Start(ctx, "Poster.post")
	defer span.End()

	rec := templates.Record{Now: now}
	if len(p.Topics) > 0 {
		rec.Topic = p.Topics[p.rng.IntN(len(p.Topics))]
	}
	tmpl, ok := p.Selector.Select(p.Group, &rec)
	if !ok {
		return engage.ErrNoTemplate
	}

	text, err := p.Generator.Generate(ctx, oracle.Request{
		Group:    p.Group,
		Template: tmpl,
		Vars:     rec.Vars(),
	})
	if err != nil {
		return err
	}
	text, c := truncate(strings.TrimSpace(text), p.MaxLength)
	if c != cutNone {
		truncatedCount.WithLabelValues(string(c)).Inc()
	}
	if text == "" {
		return &oracle.GenerationError{Err: fmt.Errorf("empty text")}
	}

	var recent []string
	if p.Cache != nil {
		if _, err := cachestore.GetJSON(ctx, p.Cache, PostingCacheName, RecentPostsKey, &recent); err != nil {
			p.Logger.Warn("failed to read recent posts", "err", err)
		}
	}
	hash := textHash(text)
	if slices.Contains(recent, hash) {
		return &oracle.GenerationError{Err: ErrDuplicatePost}
	}

	sent, err := p.Sender.Send(ctx, engage.Outbound{Text: text})
	if err != nil {
		return engage.Transient("send post", err)
	}
	p.lastPost = now
	p.Logger.Info("posted", "id", sent.ID, "template", tmpl.Name, "length", len(text))

	if p.Cache == nil {
		return nil
	}
	if err := cachestore.SetTime(ctx, p.Cache, PostingCacheName, LastPostKey, now); err != nil {
		p.Logger.Warn("failed to persist last post time", "err", err)
	}
	recent = append(recent, hash)
	if len(recent) > recentPostsKept {
		recent = recent[len(recent)-recentPostsKept:]
	}
	if err := cachestore.SetJSON(ctx, p.Cache, PostingCacheName, RecentPostsKey, recent); err != nil {
		p.Logger.Warn("failed to persist recent posts", "err", err)
	}
	return nil
}

// Fires on a timer until ctx is cancelled. Firings run to completion.
func (p *Poster) Run(ctx context.Context) error {
	if err := p.Validate(); err != nil {
		return err
	}
	timer := time.NewTimer(p.Fire(context.WithoutCancel(ctx)))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			p.Logger.Info("posting loop stopped")
			return nil
		case <-timer.C:
			timer.Reset(p.Fire(context.WithoutCancel(ctx)))
		}
	}
}
