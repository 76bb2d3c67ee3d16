// Rebuilds the conversation context for a message by walking its reply chain backwards.
package thread

import (
	"context"
	"log/slog"

	"github.com/bluesky-social/banter/engage"
)

// External lookup of a single message. Returns nil (and no error) when the message does not exist.
type ParentFetcher interface {
	FetchMessage(ctx context.Context, id string) (*engage.Message, error)
}

// Message-memory store. Create must be idempotent.
type Memory interface {
	Exists(ctx context.Context, id string) (bool, error)
	Create(ctx context.Context, msg engage.Message) error
	Get(ctx context.Context, id string) (*engage.Message, error)
}

// Memory is optional; when set, parents are looked up there first and every visited message is
// stored in it.
type Reconstructor struct {
	Fetcher  ParentFetcher
	Memory   Memory
	MaxDepth int
	Logger   *slog.Logger
}

// Returns the chain from the root-most reachable ancestor to leaf, oldest first, with at most
// MaxDepth messages. The leaf is always included.
//
// Reconstruction never fails: a lookup error or missing parent truncates the chain at that point,
// and a repeated id (a cycle in untrusted data) stops the walk.
func (r *Reconstructor) Reconstruct(ctx context.Context, leaf engage.Message) []engage.Message {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("leaf", leaf.ID)

	maxDepth := r.MaxDepth
	if maxDepth < 1 {
		maxDepth = 1
	}

	visited := map[string]bool{leaf.ID: true}
	r.remember(ctx, logger, leaf)

	// built newest first, reversed at the end
	chain := []engage.Message{leaf}
	cur := leaf
	for len(chain) < maxDepth {
		if cur.ParentID == "" || visited[cur.ParentID] {
			break
		}
		parent, err := r.lookup(ctx, cur.ParentID)
		if err != nil {
			logger.Warn("parent lookup failed, truncating thread", "parent", cur.ParentID, "err", err)
			break
		}
		if parent == nil || visited[parent.ID] {
			break
		}
		visited[parent.ID] = true
		r.remember(ctx, logger, *parent)
		chain = append(chain, *parent)
		cur = *parent
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

func (r *Reconstructor) lookup(ctx context.Context, id string) (*engage.Message, error) {
	if r.Memory != nil {
		msg, err := r.Memory.Get(ctx, id)
		if err == nil && msg != nil {
			return msg, nil
		}
	}
	return r.Fetcher.FetchMessage(ctx, id)
}

// persistence is best-effort and never blocks reconstruction
func (r *Reconstructor) remember(ctx context.Context, logger *slog.Logger, msg engage.Message) {
	if r.Memory == nil {
		return
	}
	exists, err := r.Memory.Exists(ctx, msg.ID)
	if err != nil {
		logger.Warn("checking message memory", "id", msg.ID, "err", err)
		return
	}
	if exists {
		return
	}
	if err := r.Memory.Create(ctx, msg); err != nil {
		logger.Warn("persisting message to memory", "id", msg.ID, "err", err)
	}
}
