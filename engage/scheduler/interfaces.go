package scheduler

import (
	"context"

	"github.com/bluesky-social/banter/engage"
	"github.com/bluesky-social/banter/engage/oracle"
)

// Inbound search. Implemented by *platform.Client.
type Fetcher interface {
	FetchCandidates(ctx context.Context, query string, limit int, mode string) ([]engage.Message, error)
}

// Implemented by *oracle.HTTPGenerator.
type Generator interface {
	Generate(ctx context.Context, req oracle.Request) (string, error)
}

// Outbound publish. Implemented by *platform.Client.
type Sender interface {
	Send(ctx context.Context, ob engage.Outbound) (*engage.Message, error)
}
