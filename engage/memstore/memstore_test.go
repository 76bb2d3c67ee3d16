package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/bluesky-social/banter/engage"

	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func testStoreBasics(t *testing.T, s Store) {
	assert := assert.New(t)
	ctx := context.Background()

	msg := engage.Message{
		ID:             "at://did:plc:abc111/app.bsky.feed.post/3kabc",
		ParentID:       "at://did:plc:abc222/app.bsky.feed.post/3kaaa",
		AuthorID:       "did:plc:abc111",
		AuthorHandle:   "handle.example.com",
		Text:           "some post blah",
		ConversationID: "at://did:plc:abc222/app.bsky.feed.post/3kaaa",
		CreatedAt:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	ok, err := s.Exists(ctx, msg.ID)
	assert.NoError(err)
	assert.False(ok)

	got, err := s.Get(ctx, msg.ID)
	assert.NoError(err)
	assert.Nil(got)

	assert.NoError(s.Create(ctx, msg))
	// idempotent
	changed := msg
	changed.Text = "edited"
	assert.NoError(s.Create(ctx, changed))

	ok, err = s.Exists(ctx, msg.ID)
	assert.NoError(err)
	assert.True(ok)

	got, err = s.Get(ctx, msg.ID)
	assert.NoError(err)
	if assert.NotNil(got) {
		assert.Equal("some post blah", got.Text)
		assert.Equal(msg.ParentID, got.ParentID)
		assert.True(msg.CreatedAt.Equal(got.CreatedAt))
	}
}

func TestMemStore(t *testing.T) {
	testStoreBasics(t, NewMemStore())
}

func TestGormStore(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}
	sqldb, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqldb.SetMaxOpenConns(1)
	s, err := NewGormStore(db)
	if err != nil {
		t.Fatal(err)
	}
	testStoreBasics(t, s)
}
