package platform

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/bluesky-social/banter/engage"

	"github.com/araddon/dateparse"
)

const (
	ModeLatest   = "latest"
	ModeTop      = "top"
	ModeMentions = "mentions"
)

type strongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

type replyRef struct {
	Root   strongRef `json:"root"`
	Parent strongRef `json:"parent"`
}

type postRecord struct {
	Type      string    `json:"$type,omitempty"`
	Text      string    `json:"text"`
	CreatedAt string    `json:"createdAt"`
	Reply     *replyRef `json:"reply,omitempty"`
	Langs     []string  `json:"langs,omitempty"`
}

type profileBasic struct {
	Did    string `json:"did"`
	Handle string `json:"handle"`
}

type postView struct {
	URI       string       `json:"uri"`
	CID       string       `json:"cid"`
	Author    profileBasic `json:"author"`
	Record    postRecord   `json:"record"`
	IndexedAt string       `json:"indexedAt"`
}

type notification struct {
	URI       string       `json:"uri"`
	CID       string       `json:"cid"`
	Author    profileBasic `json:"author"`
	Reason    string       `json:"reason"`
	Record    postRecord   `json:"record"`
	IndexedAt string       `json:"indexedAt"`
}

func toMessage(uri, cid string, author profileBasic, rec postRecord, indexedAt string) engage.Message {
	msg := engage.Message{
		ID:             uri,
		CID:            cid,
		AuthorID:       author.Did,
		AuthorHandle:   author.Handle,
		Text:           rec.Text,
		ConversationID: uri,
	}
	if rec.Reply != nil {
		msg.ParentID = rec.Reply.Parent.URI
		msg.ConversationID = rec.Reply.Root.URI
	}
	// createdAt is client-supplied and sometimes sloppy; fall back to the indexing time
	for _, raw := range []string{rec.CreatedAt, indexedAt} {
		if raw == "" {
			continue
		}
		if t, err := dateparse.ParseAny(raw); err == nil {
			msg.CreatedAt = t.UTC()
			break
		}
	}
	return msg
}

// Returns up to limit candidate posts. Mode "latest" or "top" runs a post search for query;
// "mentions" lists mention, reply and quote notifications and ignores query.
func (c *Client) FetchCandidates(ctx context.Context, q string, limit int, mode string) ([]engage.Message, error) {
	switch mode {
	case ModeMentions:
		return c.fetchMentions(ctx, limit)
	case ModeLatest, ModeTop, "":
	default:
		return nil, fmt.Errorf("unknown fetch mode: %q", mode)
	}
	if mode == "" {
		mode = ModeLatest
	}
	params := url.Values{}
	params.Set("q", q)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("sort", mode)
	var out struct {
		Posts []postView `json:"posts"`
	}
	if err := c.do(ctx, query, "app.bsky.feed.searchPosts", params, nil, &out); err != nil {
		return nil, err
	}
	msgs := make([]engage.Message, 0, len(out.Posts))
	for _, pv := range out.Posts {
		msgs = append(msgs, toMessage(pv.URI, pv.CID, pv.Author, pv.Record, pv.IndexedAt))
	}
	return msgs, nil
}

func (c *Client) fetchMentions(ctx context.Context, limit int) ([]engage.Message, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	var out struct {
		Notifications []notification `json:"notifications"`
	}
	if err := c.do(ctx, query, "app.bsky.notification.listNotifications", params, nil, &out); err != nil {
		return nil, err
	}
	var msgs []engage.Message
	for _, n := range out.Notifications {
		switch n.Reason {
		case "mention", "reply", "quote":
			msgs = append(msgs, toMessage(n.URI, n.CID, n.Author, n.Record, n.IndexedAt))
		}
	}
	return msgs, nil
}

// Fetches a single post by AT-URI. Returns nil if the post does not exist (or was deleted).
func (c *Client) FetchMessage(ctx context.Context, id string) (*engage.Message, error) {
	params := url.Values{}
	params.Add("uris", id)
	var out struct {
		Posts []postView `json:"posts"`
	}
	if err := c.do(ctx, query, "app.bsky.feed.getPosts", params, nil, &out); err != nil {
		return nil, err
	}
	for _, pv := range out.Posts {
		if pv.URI == id {
			msg := toMessage(pv.URI, pv.CID, pv.Author, pv.Record, pv.IndexedAt)
			return &msg, nil
		}
	}
	return nil, nil
}

// Publishes a post, threading it under ReplyTo when set.
func (c *Client) Send(ctx context.Context, ob engage.Outbound) (*engage.Message, error) {
	auth := c.session()
	if auth == nil {
		return nil, fmt.Errorf("not logged in")
	}
	now := time.Now().UTC()
	rec := postRecord{
		Type:      "app.bsky.feed.post",
		Text:      ob.Text,
		CreatedAt: now.Format("2006-01-02T15:04:05.000Z"),
	}
	if ob.ReplyTo != nil {
		ref, err := c.replyRef(ctx, *ob.ReplyTo)
		if err != nil {
			return nil, err
		}
		rec.Reply = ref
	}
	input := map[string]any{
		"repo":       auth.Did,
		"collection": "app.bsky.feed.post",
		"record":     rec,
	}
	var out strongRef
	if err := c.do(ctx, procedure, "com.atproto.repo.createRecord", nil, input, &out); err != nil {
		return nil, err
	}
	msg := engage.Message{
		ID:             out.URI,
		CID:            out.CID,
		AuthorID:       auth.Did,
		AuthorHandle:   auth.Handle,
		Text:           ob.Text,
		ConversationID: out.URI,
		CreatedAt:      now,
	}
	if rec.Reply != nil {
		msg.ParentID = rec.Reply.Parent.URI
		msg.ConversationID = rec.Reply.Root.URI
	}
	return &msg, nil
}

func (c *Client) replyRef(ctx context.Context, parent engage.Message) (*replyRef, error) {
	ref := &replyRef{
		Parent: strongRef{URI: parent.ID, CID: parent.CID},
		Root:   strongRef{URI: parent.ID, CID: parent.CID},
	}
	if parent.ConversationID == "" || parent.ConversationID == parent.ID {
		return ref, nil
	}
	root, err := c.FetchMessage(ctx, parent.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("resolving thread root: %w", err)
	}
	if root == nil {
		return nil, fmt.Errorf("thread root not found: %s", parent.ConversationID)
	}
	ref.Root = strongRef{URI: root.ID, CID: root.CID}
	return ref, nil
}
