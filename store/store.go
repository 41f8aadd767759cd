// Package store defines the durable, partition-keyed persistence contract
// for threads and their ordered messages. Implementations keep every message
// of a thread inside that thread's partition so reconstructing a
// conversation never requires a cross-partition scan.
package store

import (
	"context"

	"github.com/threadmesh/threadmesh/core"
)

// ConversationStore persists threads and their append-only message history.
//
// Semantics every implementation must provide:
//
//   - CreateThread generates a fresh unique identifier and retries
//     generation internally on the (astronomically unlikely) collision.
//   - GetThread and every other operation report core.ErrNotFound for
//     missing or deleted threads. Deletion is terminal.
//   - DeleteThread removes the thread and all its messages, effectively
//     atomically from the caller's perspective: readers either see the full
//     thread or NotFound, never a partially deleted one.
//   - AppendMessages writes the batch all-or-nothing and assigns strictly
//     increasing per-thread sequence numbers. Message IDs are caller
//     supplied and deterministic: re-appending an already stored ID is a
//     no-op, so a retried append converges on the same stored state.
//     Concurrent mutation detected by a conditional write surfaces as
//     core.ErrConflict; a thread deleted mid-flight surfaces as
//     core.ErrNotFound.
//   - ListMessages returns messages in strictly increasing sequence order.
//     since is an exclusive cursor: pass 0 for the full history, or the
//     last seen sequence to resume.
//
// Because appends are acknowledged in order and sequences are assigned at
// write time, any read observes a prefix-consistent view: message N is never
// visible without message N-1.
type ConversationStore interface {
	CreateThread(ctx context.Context, metadata map[string]string) (core.Thread, error)
	GetThread(ctx context.Context, threadID string) (core.Thread, error)
	DeleteThread(ctx context.Context, threadID string) error
	AppendMessages(ctx context.Context, threadID string, msgs []core.Message) ([]core.Message, error)
	ListMessages(ctx context.Context, threadID string, since int64) ([]core.Message, error)
}
