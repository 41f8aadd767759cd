// Package memory provides a volatile ConversationStore backed by a process
// local map. It is safe for concurrent access and best suited for tests and
// ephemeral demo servers; returned records are copies so callers can never
// mutate internal state.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/threadmesh/threadmesh/core"
)

const createRetries = 3

type threadRecord struct {
	meta     core.Thread
	lastSeq  int64
	messages []core.Message
	byID     map[string]core.Message
	deleted  bool
}

// Store is an in-memory ConversationStore.
type Store struct {
	mu      sync.RWMutex
	threads map[string]*threadRecord
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{threads: make(map[string]*threadRecord)}
}

// CreateThread allocates a new active thread. Identifier collisions are
// retried internally before giving up with core.ErrConflict.
func (s *Store) CreateThread(_ context.Context, metadata map[string]string) (core.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < createRetries; i++ {
		th := core.NewThread(metadata)
		if _, exists := s.threads[th.ID]; exists {
			continue
		}
		s.threads[th.ID] = &threadRecord{meta: th, byID: make(map[string]core.Message)}
		return copyThread(th), nil
	}
	return core.Thread{}, fmt.Errorf("thread id generation kept colliding: %w", core.ErrConflict)
}

// GetThread returns the thread record or core.ErrNotFound.
func (s *Store) GetThread(_ context.Context, threadID string) (core.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.threads[threadID]
	if !ok || rec.deleted {
		return core.Thread{}, fmt.Errorf("thread %s: %w", threadID, core.ErrNotFound)
	}
	return copyThread(rec.meta), nil
}

// DeleteThread tombstones the thread and drops its messages.
func (s *Store) DeleteThread(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.threads[threadID]
	if !ok || rec.deleted {
		return fmt.Errorf("thread %s: %w", threadID, core.ErrNotFound)
	}
	rec.deleted = true
	rec.meta.State = core.ThreadDeleted
	rec.messages = nil
	rec.byID = nil
	return nil
}

// AppendMessages writes the batch all-or-nothing, assigning sequence numbers
// under the store lock. Messages whose ID is already stored are skipped, so
// a retried append is a no-op on duplicates. The returned slice mirrors the
// input order with stored sequences filled in.
func (s *Store) AppendMessages(_ context.Context, threadID string, msgs []core.Message) ([]core.Message, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.threads[threadID]
	if !ok || rec.deleted {
		return nil, fmt.Errorf("thread %s: %w", threadID, core.ErrNotFound)
	}

	out := make([]core.Message, 0, len(msgs))
	appended := 0
	for _, msg := range msgs {
		if existing, dup := rec.byID[msg.ID]; dup {
			out = append(out, existing)
			continue
		}
		rec.lastSeq++
		msg.ThreadID = threadID
		msg.Sequence = rec.lastSeq
		if msg.Timestamp.IsZero() {
			msg.Timestamp = time.Now().UTC()
		}
		rec.messages = append(rec.messages, msg)
		rec.byID[msg.ID] = msg
		out = append(out, msg)
		appended++
	}
	if appended > 0 {
		last := out[len(out)-1]
		rec.meta.MessageCount += appended
		rec.meta.LastMessagePreview = core.Preview(last.Content)
		rec.meta.Updated = time.Now().UTC()
	}
	return out, nil
}

// ListMessages returns messages with sequence greater than since, in order.
func (s *Store) ListMessages(_ context.Context, threadID string, since int64) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.threads[threadID]
	if !ok || rec.deleted {
		return nil, fmt.Errorf("thread %s: %w", threadID, core.ErrNotFound)
	}
	out := make([]core.Message, 0, len(rec.messages))
	for _, msg := range rec.messages {
		if msg.Sequence > since {
			out = append(out, msg)
		}
	}
	return out, nil
}

func copyThread(th core.Thread) core.Thread {
	metadata := make(map[string]string, len(th.Metadata))
	for k, v := range th.Metadata {
		metadata[k] = v
	}
	th.Metadata = metadata
	return th
}
