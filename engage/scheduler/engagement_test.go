package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bluesky-social/banter/engage"
	"github.com/bluesky-social/banter/engage/cachestore"
	"github.com/bluesky-social/banter/engage/memstore"
	"github.com/bluesky-social/banter/engage/oracle"
	"github.com/bluesky-social/banter/engage/ratelimit"
	"github.com/bluesky-social/banter/engage/templates"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func openLimits() engage.Limits {
	l := engage.DefaultLimits()
	l.MinTimeBetweenReplies = 0
	l.ReplyProbability = 1
	return l
}

func TestEngagementOneReplyPerUser(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	limits := openLimits()
	limits.MaxRepliesPerUser = 1
	eng, fetcher, gen, sender := EngagementTestFixture(limits, newClock().Now)
	fetcher.Candidates = FakeMessages(gofakeit.New(42), "did:plc:alice", 100, 2)

	stats, err := eng.RunOnce(ctx)
	require.NoError(err)
	assert.Equal(2, stats.Fetched)
	assert.Equal(1, stats.Outcomes[OutcomeReplied])
	assert.Equal(1, stats.Outcomes[OutcomeUserLimit])
	assert.Equal(1, gen.Calls())
	require.Equal(1, len(sender.Sent))
	assert.Equal("100", sender.Sent[0].ReplyTo.ID)
	assert.Equal("hello there", sender.Sent[0].Text)
	assert.Equal(1, eng.Limiter.UserCount("did:plc:alice"))

	// the rejected candidate still moves the mark
	assert.Equal("101", eng.LastChecked())
}

func TestEngagementHighWaterMark(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, fetcher, _, sender := EngagementTestFixture(openLimits(), newClock().Now)
	faker := gofakeit.New(7)
	fetcher.Candidates = append(FakeMessages(faker, "did:plc:alice", 10, 1), FakeMessages(faker, "did:plc:bob", 11, 1)...)

	_, err := eng.RunOnce(ctx)
	require.NoError(err)
	assert.Equal(2, len(sender.Sent))

	mark, err := eng.Cache.Get(ctx, EngagementCacheName, LastCheckedKey)
	assert.NoError(err)
	assert.Equal("11", mark)

	// same batch again: nothing new
	stats, err := eng.RunOnce(ctx)
	require.NoError(err)
	assert.Equal(2, stats.Outcomes[OutcomeSeen])
	assert.Equal(2, len(sender.Sent))

	// a fresh instance picks the mark up from the cache
	eng2, fetcher2, gen2, _ := EngagementTestFixture(openLimits(), newClock().Now)
	eng2.Cache = eng.Cache
	fetcher2.Candidates = fetcher.Candidates
	stats, err = eng2.RunOnce(ctx)
	require.NoError(err)
	assert.Equal(2, stats.Outcomes[OutcomeSeen])
	assert.Equal(0, gen2.Calls())
}

func TestEngagementSameRecordKey(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	alice := "at://did:plc:alice/app.bsky.feed.post/3kabcdefghij2"
	bob := "at://did:plc:bob/app.bsky.feed.post/3kabcdefghij2"
	eng, fetcher, _, sender := EngagementTestFixture(openLimits(), newClock().Now)
	fetcher.Candidates = []engage.Message{
		{ID: bob, AuthorID: "did:plc:bob", Text: "hi from bob", ConversationID: bob},
		{ID: alice, AuthorID: "did:plc:alice", Text: "hi from alice", ConversationID: alice},
	}

	stats, err := eng.RunOnce(ctx)
	require.NoError(err)
	assert.Equal(2, stats.Outcomes[OutcomeReplied])
	assert.Equal(0, stats.Outcomes[OutcomeSeen])
	assert.Equal(2, len(sender.Sent))
	assert.Equal(bob, eng.LastChecked())

	stats, err = eng.RunOnce(ctx)
	require.NoError(err)
	assert.Equal(2, stats.Outcomes[OutcomeSeen])
	assert.Equal(2, len(sender.Sent))
}

func TestEngagementBatchPreparation(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	eng, fetcher, _, sender := EngagementTestFixture(openLimits(), newClock().Now)
	fetcher.Candidates = []engage.Message{
		{ID: "5", AuthorID: "did:plc:alice", Text: "five", ConversationID: "5"},
		{ID: "3", AuthorID: "did:plc:self", Text: "mine", ConversationID: "3"},
		{ID: "5", AuthorID: "did:plc:alice", Text: "five", ConversationID: "5"},
		{ID: "4", AuthorID: "did:plc:bob", Text: "four", ConversationID: "4"},
	}

	stats, err := eng.RunOnce(ctx)
	assert.NoError(err)
	assert.Equal(2, stats.Fetched)
	if assert.Equal(2, len(sender.Sent)) {
		assert.Equal("4", sender.Sent[0].ReplyTo.ID)
		assert.Equal("5", sender.Sent[1].ReplyTo.ID)
	}
}

func TestEngagementCandidateIsolation(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	eng, fetcher, gen, sender := EngagementTestFixture(openLimits(), newClock().Now)
	fetcher.Candidates = []engage.Message{
		{ID: "1", AuthorID: "did:plc:alice", Text: "explode", ConversationID: "1"},
		{ID: "2", AuthorID: "did:plc:bob", Text: "fail", ConversationID: "2"},
		{ID: "3", AuthorID: "did:plc:carol", Text: "fine", ConversationID: "3"},
	}
	gen.Func = func(req oracle.Request) (string, error) {
		switch req.Vars["text"] {
		case "explode":
			panic("oracle fell over")
		case "fail":
			return "", &oracle.GenerationError{StatusCode: 500, Err: fmt.Errorf("boom")}
		}
		return "ok", nil
	}

	stats, err := eng.RunOnce(ctx)
	assert.NoError(err)
	assert.Equal(2, stats.Outcomes[OutcomeFailed])
	assert.Equal(1, stats.Outcomes[OutcomeReplied])
	assert.Equal(1, len(sender.Sent))
	assert.Equal("3", eng.LastChecked())

	// failures are not counted against the user
	assert.Equal(0, eng.Limiter.UserCount("did:plc:bob"))
	assert.Equal(1, eng.Limiter.UserCount("did:plc:carol"))
}

func TestEngagementEmptyGeneration(t *testing.T) {
	assert := assert.New(t)

	eng, fetcher, gen, sender := EngagementTestFixture(openLimits(), newClock().Now)
	fetcher.Candidates = FakeMessages(gofakeit.New(1), "did:plc:alice", 1, 1)
	gen.Text = "   "

	stats, err := eng.RunOnce(context.Background())
	assert.NoError(err)
	assert.Equal(1, stats.Outcomes[OutcomeFailed])
	assert.Equal(0, len(sender.Sent))
	assert.Equal(0, eng.Limiter.UserCount("did:plc:alice"))
}

func TestEngagementReplyProbabilityZero(t *testing.T) {
	assert := assert.New(t)

	limits := openLimits()
	limits.ReplyProbability = 0
	eng, fetcher, gen, _ := EngagementTestFixture(limits, newClock().Now)
	fetcher.Candidates = FakeMessages(gofakeit.New(2), "did:plc:alice", 1, 5)

	stats, err := eng.RunOnce(context.Background())
	assert.NoError(err)
	assert.Equal(5, stats.Outcomes[OutcomeDice])
	assert.Equal(0, gen.Calls())
	assert.Equal("5", eng.LastChecked())
}

func TestEngagementThreadLimit(t *testing.T) {
	assert := assert.New(t)

	limits := openLimits()
	limits.MaxRepliesPerThread = 1
	eng, fetcher, _, sender := EngagementTestFixture(limits, newClock().Now)
	fetcher.Candidates = []engage.Message{
		{ID: "1", AuthorID: "did:plc:alice", Text: "a", ConversationID: "convo"},
		{ID: "2", AuthorID: "did:plc:bob", Text: "b", ParentID: "1", ConversationID: "convo"},
	}

	stats, err := eng.RunOnce(context.Background())
	assert.NoError(err)
	assert.Equal(1, stats.Outcomes[OutcomeThreadLimit])
	assert.Equal(1, len(sender.Sent))
}

func TestEngagementGlobalQuota(t *testing.T) {
	assert := assert.New(t)

	limits := openLimits()
	limits.MaxRepliesPerDay = 2
	eng, fetcher, _, sender := EngagementTestFixture(limits, newClock().Now)
	fetcher.Candidates = []engage.Message{
		{ID: "1", AuthorID: "did:plc:a", Text: "a", ConversationID: "1"},
		{ID: "2", AuthorID: "did:plc:b", Text: "b", ConversationID: "2"},
		{ID: "3", AuthorID: "did:plc:c", Text: "c", ConversationID: "3"},
	}

	stats, err := eng.RunOnce(context.Background())
	assert.NoError(err)
	assert.Equal(1, stats.Outcomes[OutcomeQuota])
	assert.Equal(2, len(sender.Sent))
}

func TestEngagementFetchError(t *testing.T) {
	assert := assert.New(t)

	eng, fetcher, _, _ := EngagementTestFixture(openLimits(), newClock().Now)
	fetcher.Err = fmt.Errorf("search unavailable")

	_, err := eng.RunOnce(context.Background())
	var terr *engage.TransientError
	assert.True(errors.As(err, &terr))
	assert.Equal("fetch candidates", terr.Op)
}

func TestEngagementThreadContext(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, fetcher, gen, sender := EngagementTestFixture(openLimits(), newClock().Now)
	fetcher.Messages["50"] = engage.Message{ID: "50", AuthorID: "did:plc:bob", AuthorHandle: "bob.test", Text: "root post", ConversationID: "50"}
	fetcher.Candidates = []engage.Message{
		{ID: "51", ParentID: "50", AuthorID: "did:plc:alice", AuthorHandle: "alice.test", Text: "a reply", ConversationID: "50"},
	}

	_, err := eng.RunOnce(ctx)
	require.NoError(err)
	require.Equal(1, len(gen.Requests))
	req := gen.Requests[0]
	assert.Equal(DefaultReplyGroup, req.Group)
	require.NotNil(req.Template)
	assert.Equal("friendly", req.Template.Name)
	if assert.Equal(2, len(req.Thread)) {
		assert.Equal("50", req.Thread[0].ID)
		assert.Equal("51", req.Thread[1].ID)
	}
	assert.Equal(2, req.Vars["thread_depth"])

	// visited messages and our own reply end up in memory
	mem := eng.Reconstructor.Memory.(*memstore.MemStore)
	assert.Equal(3, mem.Len())
	require.Equal(1, len(sender.Sent))
	ok, err := mem.Exists(ctx, "at://did:plc:self/app.bsky.feed.post/sent1")
	assert.NoError(err)
	assert.True(ok)
}

func TestEngagementSpecialInteraction(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	limits := openLimits()
	limits.ReplyProbability = 0
	clk := newClock()
	eng, fetcher, gen, _ := EngagementTestFixture(limits, clk.Now)
	eng.Special = ratelimit.NewSpecialGate([]ratelimit.SpecialInteraction{{
		Handle:      "friend.test",
		Topics:      []string{"bread"},
		Probability: 1,
		Templates: []templates.Variation{
			{Name: "tease", Body: "Tease {{ author_handle }} about {{ topic }}"},
		},
	}})
	fetcher.Candidates = FakeMessages(gofakeit.New(3), "friend", 1, 2)

	stats, err := eng.RunOnce(context.Background())
	require.NoError(err)
	// second message: the special gate is cooling down and the reply probability is zero
	assert.Equal(1, stats.Outcomes[OutcomeReplied])
	assert.Equal(1, stats.Outcomes[OutcomeDice])

	require.Equal(1, len(gen.Requests))
	req := gen.Requests[0]
	assert.Equal("special:friend.test", req.Group)
	assert.Equal("tease", req.Template.Name)
	assert.Equal("bread", req.Vars["topic"])
	assert.Equal(true, req.Vars["special"])

	// and fires again once the cooldown is over
	clk.Advance(ratelimit.DefaultSpecialCooldown)
	fetcher.Candidates = FakeMessages(gofakeit.New(4), "friend", 3, 1)
	stats, err = eng.RunOnce(context.Background())
	require.NoError(err)
	assert.Equal(1, stats.Outcomes[OutcomeReplied])
}

func TestEngagementSweep(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	limits := openLimits()
	limits.MaxRepliesPerUser = 1
	clk := newClock()
	eng, fetcher, _, sender := EngagementTestFixture(limits, clk.Now)
	fetcher.Candidates = FakeMessages(gofakeit.New(5), "did:plc:alice", 1, 1)

	_, err := eng.RunOnce(ctx)
	assert.NoError(err)
	assert.Equal(1, eng.Limiter.UserCount("did:plc:alice"))

	clk.Advance(25 * time.Hour)
	fetcher.Candidates = FakeMessages(gofakeit.New(6), "did:plc:alice", 2, 1)
	stats, err := eng.RunOnce(ctx)
	assert.NoError(err)
	assert.Equal(1, stats.Outcomes[OutcomeReplied])
	assert.Equal(2, len(sender.Sent))
}

func TestEngagementRunShutdownMarker(t *testing.T) {
	assert := assert.New(t)

	eng, fetcher, _, _ := EngagementTestFixture(openLimits(), newClock().Now)
	fetcher.Candidates = FakeMessages(gofakeit.New(8), "did:plc:alice", 1, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(eng.Run(ctx))
	// cancelled before the first tick
	assert.Equal(0, fetcher.Calls)

	at, ok, err := cachestore.GetTime(context.Background(), eng.Cache, EngagementCacheName, ShutdownKey)
	assert.NoError(err)
	assert.True(ok)
	assert.True(newClock().Now().Equal(at))
}
