package core

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ThreadState is the lifecycle state of a thread.
type ThreadState string

const (
	// ThreadActive marks a thread that accepts reads and appends.
	ThreadActive ThreadState = "active"
	// ThreadDeleted marks a tombstoned thread. Deletion is terminal: every
	// subsequent read or write against the identifier reports ErrNotFound.
	ThreadDeleted ThreadState = "deleted"
)

// Thread is a persisted conversation. The ID doubles as the partition key:
// every message of the thread lives in the same partition, so reconstructing
// a conversation never crosses partition boundaries.
type Thread struct {
	ID                 string            `json:"id"`
	State              ThreadState       `json:"state"`
	Created            time.Time         `json:"created_at"`
	Updated            time.Time         `json:"updated_at"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	MessageCount       int               `json:"message_count"`
	LastMessagePreview string            `json:"last_message_preview,omitempty"`
}

// NewThread constructs an active thread with a fresh identifier.
func NewThread(metadata map[string]string) Thread {
	now := time.Now().UTC()
	if metadata == nil {
		metadata = map[string]string{}
	}
	return Thread{
		ID:       NewThreadID(),
		State:    ThreadActive,
		Created:  now,
		Updated:  now,
		Metadata: metadata,
	}
}

// Preview truncates message content for the thread's last-message preview.
// The cut lands on a rune boundary so the preview stays valid UTF-8.
func Preview(content string) string {
	const max = 100
	if len(content) <= max {
		return content
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + "..."
}

// NewThreadID returns a fresh thread identifier of the form thread_<hex12>.
func NewThreadID() string { return "thread_" + shortID() }

// NewMessageID returns a fresh message identifier of the form msg_<hex12>.
func NewMessageID() string { return "msg_" + shortID() }

// NewID returns an unprefixed unique identifier, used for tool call
// correlation and request tracing.
func NewID() string { return uuid.NewString() }

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
