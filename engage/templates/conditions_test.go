package templates

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMatchOperators(t *testing.T) {
	assert := assert.New(t)

	ctx := Map{
		"text":  "hello bluesky friends",
		"count": 7,
		"score": "3.5",
		"flag":  true,
		"user": map[string]any{
			"profile": map[string]any{
				"lang": "en",
			},
		},
	}

	testCases := []struct {
		cond  Condition
		match bool
	}{
		{Condition{"text", OpContains, "bluesky"}, true},
		{Condition{"text", OpContains, "twitter"}, false},
		{Condition{"count", OpContains, 7}, true},
		{Condition{"count", OpEquals, 7}, true},
		{Condition{"count", OpEquals, 7.0}, true},
		{Condition{"count", OpEquals, "7"}, false},
		{Condition{"flag", OpEquals, true}, true},
		{Condition{"flag", OpEquals, "true"}, false},
		{Condition{"count", OpGreaterThan, 5}, true},
		{Condition{"count", OpGreaterThan, 7}, false},
		{Condition{"score", OpGreaterThan, 3}, true},
		{Condition{"score", OpLessThan, 3}, false},
		{Condition{"text", OpLessThan, 3}, false},
		{Condition{"text", OpMatches, "^hello\\s+\\w+"}, true},
		{Condition{"text", OpMatches, "^bluesky"}, false},
		{Condition{"text", OpMatches, "(unclosed"}, false},
		{Condition{"user.profile.lang", OpEquals, "en"}, true},
		{Condition{"user.profile.missing", OpEquals, "en"}, false},
		{Condition{"user.profile.lang.deeper", OpEquals, "en"}, false},
		{Condition{"missing", OpContains, ""}, false},
		{Condition{"text", Operator("startsWith"), "hello"}, false},
	}

	for _, tc := range testCases {
		assert.Equal(tc.match, Match(tc.cond, ctx), "%s %s %v", tc.cond.Field, tc.cond.Operator, tc.cond.Value)
	}
}

func TestMatchAll(t *testing.T) {
	assert := assert.New(t)

	ctx := Map{"text": "good morning", "hour": 8}
	assert.True(MatchAll(nil, ctx))
	assert.True(MatchAll([]Condition{
		{"text", OpContains, "morning"},
		{"hour", OpLessThan, 12},
	}, ctx))
	assert.False(MatchAll([]Condition{
		{"text", OpContains, "morning"},
		{"hour", OpGreaterThan, 12},
	}, ctx))
}

func TestRecordLookup(t *testing.T) {
	assert := assert.New(t)

	rec := &Record{
		Text:         "gm",
		AuthorHandle: "alice.example.com",
		ThreadDepth:  3,
		Now:          time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
	}

	v, ok := rec.Lookup("author.handle")
	assert.True(ok)
	assert.Equal("alice.example.com", v)

	_, ok = rec.Lookup("author.id")
	assert.False(ok)

	_, ok = rec.Lookup("no.such.field")
	assert.False(ok)

	assert.True(Match(Condition{"time.hour", OpLessThan, 12}, rec))
	assert.True(Match(Condition{"time.weekday", OpEquals, "Friday"}, rec))
	assert.True(Match(Condition{"thread.depth", OpGreaterThan, 2}, rec))

	vars := rec.Vars()
	assert.Equal("alice.example.com", vars["author_handle"])
	assert.Equal(9, vars["time_hour"])
	_, ok = vars["topic"]
	assert.False(ok)
}
