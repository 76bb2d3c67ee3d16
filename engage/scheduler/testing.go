package scheduler

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/bluesky-social/banter/engage"
	"github.com/bluesky-social/banter/engage/cachestore"
	"github.com/bluesky-social/banter/engage/memstore"
	"github.com/bluesky-social/banter/engage/oracle"
	"github.com/bluesky-social/banter/engage/templates"
	"github.com/bluesky-social/banter/engage/thread"

	"github.com/brianvoe/gofakeit/v6"
)

// In-memory stand-ins for the platform and the oracle, for tests and dry runs.

type FakeFetcher struct {
	Candidates []engage.Message
	Messages   map[string]engage.Message
	Err        error
	Calls      int
}

func (f *FakeFetcher) FetchCandidates(ctx context.Context, query string, limit int, mode string) ([]engage.Message, error) {
	f.Calls++
	if f.Err != nil {
		return nil, f.Err
	}
	if limit > 0 && len(f.Candidates) > limit {
		return f.Candidates[:limit], nil
	}
	return f.Candidates, nil
}

func (f *FakeFetcher) FetchMessage(ctx context.Context, id string) (*engage.Message, error) {
	m, ok := f.Messages[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

type FakeGenerator struct {
	// when set, called instead of returning Text
	Func func(req oracle.Request) (string, error)
	Text string

	lk       sync.Mutex
	Requests []oracle.Request
}

func (g *FakeGenerator) Generate(ctx context.Context, req oracle.Request) (string, error) {
	g.lk.Lock()
	g.Requests = append(g.Requests, req)
	g.lk.Unlock()
	if g.Func != nil {
		return g.Func(req)
	}
	return g.Text, nil
}

func (g *FakeGenerator) Calls() int {
	g.lk.Lock()
	defer g.lk.Unlock()
	return len(g.Requests)
}

type FakeSender struct {
	Self string
	Err  error

	lk   sync.Mutex
	Sent []engage.Outbound
}

func (s *FakeSender) Send(ctx context.Context, ob engage.Outbound) (*engage.Message, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	s.lk.Lock()
	defer s.lk.Unlock()
	s.Sent = append(s.Sent, ob)
	msg := &engage.Message{
		ID:        fmt.Sprintf("at://%s/app.bsky.feed.post/sent%d", s.Self, len(s.Sent)),
		AuthorID:  s.Self,
		Text:      ob.Text,
		CreatedAt: time.Now(),
	}
	if ob.ReplyTo != nil {
		msg.ParentID = ob.ReplyTo.ID
		msg.ConversationID = ob.ReplyTo.ConversationID
	} else {
		msg.ConversationID = msg.ID
	}
	return msg, nil
}

// Generates n top-level messages from a single author, with ascending numeric ids starting at
// first.
func FakeMessages(faker *gofakeit.Faker, author string, first, n int) []engage.Message {
	out := make([]engage.Message, n)
	for i := range out {
		id := strconv.Itoa(first + i)
		out[i] = engage.Message{
			ID:             id,
			AuthorID:       author,
			AuthorHandle:   author + ".test",
			Text:           faker.Sentence(8),
			ConversationID: id,
			CreatedAt:      faker.Date(),
		}
	}
	return out
}

func testCatalog() templates.Catalog {
	return templates.Catalog{
		DefaultReplyGroup: []templates.Variation{
			{Name: "friendly", Body: "Reply kindly to: {{ text }}"},
		},
		DefaultPostGroup: []templates.Variation{
			{Name: "musing", Body: "Muse about {{ topic }}"},
		},
	}
}

// Engagement wired to fakes, with every candidate admitted by the reply probability.
func EngagementTestFixture(limits engage.Limits, now func() time.Time) (*Engagement, *FakeFetcher, *FakeGenerator, *FakeSender) {
	rng := rand.New(rand.NewPCG(1, 2))
	fetcher := &FakeFetcher{Messages: make(map[string]engage.Message)}
	gen := &FakeGenerator{Text: "hello there"}
	sender := &FakeSender{Self: "did:plc:self"}

	eng := NewEngagement(limits, testCatalog(), nil, rng, now)
	eng.Self = "did:plc:self"
	eng.Query = "banter"
	eng.Fetcher = fetcher
	eng.Generator = gen
	eng.Sender = sender
	eng.Cache = cachestore.NewMemCacheStore(100, 0)
	eng.Reconstructor = &thread.Reconstructor{
		Fetcher:  fetcher,
		Memory:   memstore.NewMemStore(),
		MaxDepth: limits.MaxThreadDepth,
		Logger:   eng.Logger,
	}
	return eng, fetcher, gen, sender
}

func PosterTestFixture(now func() time.Time) (*Poster, *FakeGenerator, *FakeSender) {
	rng := rand.New(rand.NewPCG(3, 4))
	gen := &FakeGenerator{Text: "a thought"}
	sender := &FakeSender{Self: "did:plc:self"}

	p := NewPoster(testCatalog(), rng, now)
	p.Topics = []string{"rivers", "bread"}
	p.Generator = gen
	p.Sender = sender
	p.Cache = cachestore.NewMemCacheStore(100, 0)
	// fire-to-fire tests step the clock well past the template cooldown
	p.Selector.Cooldown = time.Second
	return p, gen, sender
}
