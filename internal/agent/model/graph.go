package model

import (
	"github.com/cloudwego/eino/schema"
)

// GraphState stores per-invocation state for the Eino Graph.
// Concurrency model:
//   - This struct is registered as Graph Local State via compose.WithGenLocalState.
//   - All reads/writes happen only inside Eino state handlers:
//     WithStatePreHandler, WithStatePostHandler, or compose.ProcessState.
//   - Eino serializes access to state within these handlers.
//   - It is created fresh per turn and never persisted. Use SessionMemory for
//     anything that must outlive the turn.
type GraphState struct {
	UserID    string
	Question  string
	Documents []ScoredFragment
	Answer    string
	History   string // rendered prior turns

	// tool-calling variant
	Messages             []*schema.Message // running message list sent to the model
	ToolCallCount        int
	ToolCallLimitReached bool
	ToolCallIDSeq        int // local sequence to synthesize tool_call_id when the provider omits it

	// Accumulated total LLM cost (USD) across model invocations for this turn
	TotalCostUSD float64
}

// QueryInput represents the input for processing user queries.
type QueryInput struct {
	UserID string `json:"user_id"`
	Query  string `json:"query"`
}

// DecisionKind tags the model's choice in the tool-calling variant.
type DecisionKind int

const (
	FinalAnswer DecisionKind = iota
	ToolRequest
)

func (k DecisionKind) String() string {
	if k == ToolRequest {
		return "tool_request"
	}
	return "final_answer"
}

// Decision is the model's per-turn choice: answer directly or ask for retrieval.
type Decision struct {
	Kind   DecisionKind
	Query  string // retrieval query for ToolRequest
	Answer string // content for FinalAnswer
	CallID string
}
