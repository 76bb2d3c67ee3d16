package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/bluesky-social/banter/engage"
	"github.com/bluesky-social/banter/engage/cachestore"
	"github.com/bluesky-social/banter/engage/oracle"
	"github.com/bluesky-social/banter/engage/platform"
	"github.com/bluesky-social/banter/engage/ratelimit"
	"github.com/bluesky-social/banter/engage/templates"
	"github.com/bluesky-social/banter/engage/thread"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	EngagementCacheName = "engagement"
	LastCheckedKey      = "lastCheckedId"
	ShutdownKey         = "shutdownAt"

	SweepInterval     = time.Hour
	DefaultBatchSize  = 25
	DefaultReplyGroup = "reply"
)

// Filter outcome for a single candidate.
type Outcome string

const (
	OutcomeSeen        Outcome = "seen"
	OutcomeUserLimit   Outcome = "user_limit"
	OutcomeThreadLimit Outcome = "thread_limit"
	OutcomeDice        Outcome = "dice"
	OutcomeQuota       Outcome = "quota"
	OutcomeReplied     Outcome = "replied"
	OutcomeFailed      Outcome = "failed"
)

type TickStats struct {
	Fetched  int
	Outcomes map[Outcome]int
}

// Replies to inbound messages. One tick fetches a batch of candidates, filters them through the
// rate limits and a reply probability, and responds to the ones admitted.
//
// The unexported state is owned by the goroutine calling Run (or RunOnce); none of it is safe for
// concurrent use.
type Engagement struct {
	// author id of the agent's own account, excluded from candidates
	Self       string
	Query      string
	Mode       string
	BatchSize  int
	ReplyGroup string
	MaxLength  int
	Limits     engage.Limits

	Fetcher       Fetcher
	Reconstructor *thread.Reconstructor
	Generator     Generator
	Sender        Sender
	Cache         cachestore.CacheStore
	Logger        *slog.Logger

	Limiter  *ratelimit.Limiter
	Selector *templates.Selector
	Special  *ratelimit.SpecialGate

	rng         engage.Rand
	now         func() time.Time
	lastChecked string
	restored    bool
	lastSweep   time.Time
}

func NewEngagement(limits engage.Limits, catalog templates.Catalog, special []ratelimit.SpecialInteraction, rng engage.Rand, now func() time.Time) *Engagement {
	if rng == nil {
		rng = engage.NewRand()
	}
	if now == nil {
		now = time.Now
	}
	return &Engagement{
		Mode:       platform.ModeLatest,
		BatchSize:  DefaultBatchSize,
		ReplyGroup: DefaultReplyGroup,
		MaxLength:  DefaultMaxLength,
		Limits:     limits,
		Logger:     slog.Default().With("loop", "engagement"),
		Limiter:    ratelimit.NewLimiter(limits),
		Selector:   templates.NewSelector(catalog, rng, now),
		Special:    ratelimit.NewSpecialGate(special),
		rng:        rng,
		now:        now,
	}
}

// The high-water mark: id of the newest candidate considered so far.
func (e *Engagement) LastChecked() string {
	return e.lastChecked
}

// Loads the high-water mark from the cache, once. A cache failure leaves the in-memory mark as is.
func (e *Engagement) restore(ctx context.Context) {
	if e.restored || e.Cache == nil {
		return
	}
	mark, err := e.Cache.Get(ctx, EngagementCacheName, LastCheckedKey)
	if err != nil {
		e.Logger.Warn("failed to restore high-water mark", "err", err)
		return
	}
	e.restored = true
	if mark != "" && engage.NewerThan(mark, e.lastChecked) {
		e.Logger.Info("restored high-water mark", "lastCheckedId", mark)
		e.lastChecked = mark
	}
}

func (e *Engagement) advance(ctx context.Context, id string) {
	if !engage.NewerThan(id, e.lastChecked) {
		return
	}
	e.lastChecked = id
	if e.Cache == nil {
		return
	}
	if err := e.Cache.Set(ctx, EngagementCacheName, LastCheckedKey, id); err != nil {
		e.Logger.Warn("failed to persist high-water mark", "lastCheckedId", id, "err", err)
	}
}

func (e *Engagement) maybeSweep(now time.Time) {
	if e.lastSweep.IsZero() {
		e.lastSweep = now
		return
	}
	if now.Sub(e.lastSweep) < SweepInterval {
		return
	}
	e.lastSweep = now
	n := e.Limiter.Sweep(now)
	e.Logger.Debug("swept rate limit state", "users", n)
}

// Drops self-authored and duplicate messages, and orders the rest by ascending id.
func (e *Engagement) prepareBatch(batch []engage.Message) []engage.Message {
	seen := make(map[string]bool, len(batch))
	out := make([]engage.Message, 0, len(batch))
	for _, m := range batch {
		if m.ID == "" || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		if e.Self != "" && m.AuthorID == e.Self {
			continue
		}
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b engage.Message) int {
		return engage.CompareIDs(a.ID, b.ID)
	})
	return out
}

// Runs a single check cycle. Only a failed fetch is returned as an error; per-candidate failures
// are logged and counted.
func (e *Engagement) RunOnce(ctx context.Context) (*TickStats, error) {
	ctx, span := tracer.Start(ctx, "Engagement.RunOnce", trace.WithAttributes(attribute.String("mode", e.Mode)))
	defer span.End()

	stats := &TickStats{Outcomes: make(map[Outcome]int)}
	e.restore(ctx)
	e.maybeSweep(e.now())

	batch, err := e.Fetcher.FetchCandidates(ctx, e.Query, e.BatchSize, e.Mode)
	if err != nil {
		span.RecordError(err)
		return stats, engage.Transient("fetch candidates", err)
	}
	candidatesFetched.Add(float64(len(batch)))
	batch = e.prepareBatch(batch)
	stats.Fetched = len(batch)
	span.SetAttributes(attribute.Int("candidates", len(batch)))

	for _, msg := range batch {
		outcome := e.handleCandidate(ctx, msg)
		stats.Outcomes[outcome]++
		candidateOutcomes.WithLabelValues(string(outcome)).Inc()
		if outcome != OutcomeSeen {
			e.advance(ctx, msg.ID)
		}
	}
	return stats, nil
}

func (e *Engagement) handleCandidate(ctx context.Context, msg engage.Message) (outcome Outcome) {
	logger := e.Logger.With("id", msg.ID, "author", msg.AuthorHandle)
	// one bad candidate must not take down the batch
	defer func() {
		if r := recover(); r != nil {
			logger.Error("candidate processing exception", "err", r)
			outcome = OutcomeFailed
		}
	}()

	outcome, err := e.consider(ctx, msg, logger)
	if err != nil {
		var gerr *oracle.GenerationError
		if errors.As(err, &gerr) {
			generationErrors.WithLabelValues("engagement").Inc()
		}
		logger.Warn("failed to reply to candidate", "err", err)
	}
	return outcome
}

func (e *Engagement) consider(ctx context.Context, msg engage.Message, logger *slog.Logger) (Outcome, error) {
	if !engage.NewerThan(msg.ID, e.lastChecked) {
		return OutcomeSeen, nil
	}
	now := e.now()
	if !e.Limiter.CanReplyToUser(msg.AuthorID, now) {
		return OutcomeUserLimit, nil
	}
	if !e.Limiter.CanReplyInThread(msg.ConversationID) {
		return OutcomeThreadLimit, nil
	}

	// an admitted special interaction stands in for the reply probability trial
	rule, special := e.Special.Rule(msg.AuthorHandle)
	if special {
		special = e.Special.Admit(rule, now, e.rng)
	}
	if !special && !engage.Chance(e.rng, e.Limits.ReplyProbability) {
		return OutcomeDice, nil
	}
	if !e.Limiter.ReserveGlobal(now) {
		return OutcomeQuota, nil
	}

	var rp *ratelimit.SpecialInteraction
	if special {
		rp = &rule
	}
	if err := e.respond(ctx, msg, rp, now, logger); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeReplied, nil
}

func (e *Engagement) respond(ctx context.Context, msg engage.Message, rule *ratelimit.SpecialInteraction, now time.Time, logger *slog.Logger) error {
	ctx, span := tracer.Start(ctx, "Engagement.respond", trace.WithAttributes(
		attribute.String("candidate", msg.ID),
		attribute.Bool("special", rule != nil),
	))
	defer span.End()

	chain := []engage.Message{msg}
	if e.Reconstructor != nil {
		chain = e.Reconstructor.Reconstruct(ctx, msg)
	}

	rec := templates.Record{
		Text:           msg.Text,
		AuthorID:       msg.AuthorID,
		AuthorHandle:   msg.AuthorHandle,
		ConversationID: msg.ConversationID,
		ThreadDepth:    len(chain),
		Special:        rule != nil,
		Now:            now,
	}
	group := e.ReplyGroup
	var tmpl *templates.Variation
	if rule != nil {
		if len(rule.Topics) > 0 {
			rec.Topic = rule.Topics[e.rng.IntN(len(rule.Topics))]
		}
		group = "special:" + rule.Handle
		tmpl, _ = e.Selector.SelectFrom(group, rule.Templates, &rec)
		if tmpl == nil {
			group = e.ReplyGroup
		}
	}
	if tmpl == nil {
		// nil falls through to the generator's default prompt
		tmpl, _ = e.Selector.Select(group, &rec)
	}
	if tmpl != nil {
		logger = logger.With("template", tmpl.Name)
		span.SetAttributes(attribute.String("template", tmpl.Name))
	}

	text, err := e.Generator.Generate(ctx, oracle.Request{
		Group:    group,
		Template: tmpl,
		Vars:     rec.Vars(),
		Thread:   chain,
	})
	if err != nil {
		return err
	}
	text, c := truncate(strings.TrimSpace(text), e.MaxLength)
	if c != cutNone {
		truncatedCount.WithLabelValues(string(c)).Inc()
	}
	if text == "" {
		return &oracle.GenerationError{Err: fmt.Errorf("empty text")}
	}

	sent, err := e.Sender.Send(ctx, engage.Outbound{Text: text, ReplyTo: &msg})
	if err != nil {
		return engage.Transient("send reply", err)
	}
	e.Limiter.RecordReply(msg.AuthorID, msg.ConversationID, now)
	if rule != nil {
		e.Special.Record(rule.Handle, now)
	}
	logger.Info("replied to candidate", "reply", sent.ID, "depth", len(chain), "special", rule != nil)

	if e.Reconstructor != nil && e.Reconstructor.Memory != nil {
		if err := e.Reconstructor.Memory.Create(ctx, *sent); err != nil {
			logger.Warn("failed to remember reply", "err", err)
		}
	}
	return nil
}

func (e *Engagement) tick(ctx context.Context) {
	start := time.Now()
	stats, err := e.RunOnce(ctx)
	tickDuration.WithLabelValues("engagement").Observe(time.Since(start).Seconds())
	if err != nil {
		tickErrorCount.WithLabelValues("engagement").Inc()
		e.Logger.Error("engagement tick failed", "err", err)
		return
	}
	e.Logger.Info("engagement tick complete",
		"candidates", stats.Fetched,
		"replied", stats.Outcomes[OutcomeReplied],
		"failed", stats.Outcomes[OutcomeFailed],
		"lastCheckedId", e.lastChecked,
		"duration", time.Since(start),
	)
}

// Ticks every CheckInterval until ctx is cancelled. A tick which has started always runs to
// completion; cancellation is only observed between ticks. On the way out a shutdown marker is
// written to the cache.
func (e *Engagement) Run(ctx context.Context) error {
	if err := e.Limits.Validate(); err != nil {
		return err
	}
	for {
		if ctx.Err() != nil {
			break
		}
		e.tick(context.WithoutCancel(ctx))

		t := time.NewTimer(e.Limits.CheckInterval)
		select {
		case <-ctx.Done():
			t.Stop()
		case <-t.C:
		}
	}
	e.markShutdown(context.WithoutCancel(ctx))
	return nil
}

func (e *Engagement) markShutdown(ctx context.Context) {
	if e.Cache == nil {
		return
	}
	if err := cachestore.SetTime(ctx, e.Cache, EngagementCacheName, ShutdownKey, e.now()); err != nil {
		e.Logger.Warn("failed to write shutdown marker", "err", err)
		return
	}
	e.Logger.Info("engagement loop stopped", "lastCheckedId", e.lastChecked)
}
