package engage

import (
	"strconv"
	"strings"
	"time"
)

// A single message on the platform. A conversation is a tree of these; the core only ever walks a
// single chain from a leaf back to the root.
type Message struct {
	ID             string    `json:"id"`
	ParentID       string    `json:"parentId,omitempty"`
	AuthorID       string    `json:"authorId"`
	AuthorHandle   string    `json:"authorHandle,omitempty"`
	Text           string    `json:"text"`
	ConversationID string    `json:"conversationId"`
	CreatedAt      time.Time `json:"createdAt"`

	// content hash required by some platforms to reference the message in a reply
	CID string `json:"cid,omitempty"`
}

// Content to publish. ReplyTo is nil for top-level posts.
type Outbound struct {
	Text    string
	ReplyTo *Message
}

// Returns the part of the identifier which orders messages. For URI-style identifiers
// ("at://did/collection/rkey") this is the last path segment.
func SortKey(id string) string {
	if i := strings.LastIndexByte(id, '/'); i >= 0 {
		return id[i+1:]
	}
	return id
}

// Orders two message identifiers: -1, 0 or +1.
//
// Numeric keys compare numerically. Other keys compare by length and then lexically, which is the
// correct order for fixed-width sortable identifiers like TIDs. Equal keys (the same record key in
// two different repos) fall back to comparing the full identifiers, so only identical ids are equal.
func CompareIDs(a, b string) int {
	if c := compareKeys(SortKey(a), SortKey(b)); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

func compareKeys(ka, kb string) int {
	na, errA := strconv.ParseUint(ka, 10, 64)
	nb, errB := strconv.ParseUint(kb, 10, 64)
	if errA == nil && errB == nil {
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		}
		return 0
	}
	if len(ka) != len(kb) {
		if len(ka) < len(kb) {
			return -1
		}
		return 1
	}
	return strings.Compare(ka, kb)
}

// Reports whether id is strictly newer than mark. Everything is newer than an empty mark.
func NewerThan(id, mark string) bool {
	if mark == "" {
		return true
	}
	return CompareIDs(id, mark) > 0
}
