// Idempotent persistence of messages seen by the agent.
//
// Includes an interface and implementations using gorm (sqlite or postgres) and in-process memory.
package memstore

import (
	"context"
	"sync"

	"github.com/bluesky-social/banter/engage"
)

type Store interface {
	Exists(ctx context.Context, id string) (bool, error)
	// creating a message which already exists is not an error
	Create(ctx context.Context, msg engage.Message) error
	// returns nil when the message is not stored
	Get(ctx context.Context, id string) (*engage.Message, error)
}

type MemStore struct {
	lk   sync.RWMutex
	msgs map[string]engage.Message
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		msgs: make(map[string]engage.Message),
	}
}

func (s *MemStore) Exists(ctx context.Context, id string) (bool, error) {
	s.lk.RLock()
	defer s.lk.RUnlock()
	_, ok := s.msgs[id]
	return ok, nil
}

func (s *MemStore) Create(ctx context.Context, msg engage.Message) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	if _, ok := s.msgs[msg.ID]; !ok {
		s.msgs[msg.ID] = msg
	}
	return nil
}

func (s *MemStore) Get(ctx context.Context, id string) (*engage.Message, error) {
	s.lk.RLock()
	defer s.lk.RUnlock()
	msg, ok := s.msgs[id]
	if !ok {
		return nil, nil
	}
	return &msg, nil
}

func (s *MemStore) Len() int {
	s.lk.RLock()
	defer s.lk.RUnlock()
	return len(s.msgs)
}
