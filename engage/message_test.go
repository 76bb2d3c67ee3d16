package engage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareIDs(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(-1, CompareIDs("9", "10"))
	assert.Equal(1, CompareIDs("1700000000000000002", "1700000000000000001"))
	assert.Equal(0, CompareIDs("42", "42"))

	// TIDs sort lexically
	assert.Equal(-1, CompareIDs("at://did:plc:abc/app.bsky.feed.post/3kabc2222222a", "at://did:plc:zzz/app.bsky.feed.post/3kabc2222222b"))
	assert.Equal(1, CompareIDs("3kabd", "3kabc"))

	// same record key in two repos: distinct, ordered by full id
	alice := "at://did:plc:alice/app.bsky.feed.post/3kabcdefghij2"
	bob := "at://did:plc:bob/app.bsky.feed.post/3kabcdefghij2"
	assert.Equal(-1, CompareIDs(alice, bob))
	assert.Equal(1, CompareIDs(bob, alice))
	assert.Equal(0, CompareIDs(bob, bob))
	assert.True(NewerThan(bob, alice))
}

func TestNewerThan(t *testing.T) {
	assert := assert.New(t)

	assert.True(NewerThan("1", ""))
	assert.True(NewerThan("11", "2"))
	assert.False(NewerThan("2", "2"))
	assert.False(NewerThan("1", "2"))
}

func TestLimitsValidate(t *testing.T) {
	assert := assert.New(t)

	assert.NoError(DefaultLimits().Validate())

	l := DefaultLimits()
	l.ReplyProbability = 1.5
	err := l.Validate()
	var ce *ConfigError
	assert.ErrorAs(err, &ce)
	assert.Equal("replyProbability", ce.Field)

	l = DefaultLimits()
	l.CheckInterval = 0
	assert.Error(l.Validate())
}

type fixedRand struct{ v float64 }

func (r fixedRand) Float64() float64                  { return r.v }
func (r fixedRand) IntN(n int) int                    { return 0 }
func (r fixedRand) Shuffle(n int, swap func(i, j int)) {}

func TestChance(t *testing.T) {
	assert := assert.New(t)

	assert.False(Chance(fixedRand{0}, 0))
	assert.True(Chance(fixedRand{0.999}, 1))
	assert.True(Chance(fixedRand{0.2}, 0.5))
	assert.False(Chance(fixedRand{0.7}, 0.5))
}
