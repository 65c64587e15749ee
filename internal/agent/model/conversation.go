package model

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

// NoHistoryPlaceholder is rendered when a user has no recorded turns.
const NoHistoryPlaceholder = "No history available."

// AnonymousUser identifies callers that send no user id.
const AnonymousUser = "anonymous"

// SessionMemory maps user identity to a conversation thread for the lifetime of
// the backend.
type SessionMemory interface {
	// GetOrCreateThread returns the user's thread id, creating an empty thread on
	// first access. Concurrent first access yields a single thread.
	GetOrCreateThread(ctx context.Context, userID string) (string, error)

	// Append records one question/answer turn for the user.
	Append(ctx context.Context, userID, question, answer string) error

	// RawHistory renders every turn as "Question: q Answer: a" joined by " | ",
	// or NoHistoryPlaceholder when there are none.
	RawHistory(ctx context.Context, userID string) (string, error)

	// AppendMessages records role-tagged messages for the tool-calling orchestrator.
	AppendMessages(ctx context.Context, userID string, messages ...*schema.Message) error

	// LoadMessages returns the role-tagged message history of the user.
	LoadMessages(ctx context.Context, userID string) ([]*schema.Message, error)

	// Clear removes the user's thread.
	Clear(ctx context.Context, userID string) error
}

// Turn is one question/answer exchange.
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Thread is the conversation owned by one user.
type Thread struct {
	ID       string
	UserID   string
	Turns    []Turn
	Messages []*schema.Message
}
