package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/toleds/rag-bot/internal/agent/graph/conversations"
	"github.com/toleds/rag-bot/internal/agent/graph/parsers"
	"github.com/toleds/rag-bot/internal/agent/graph/prompts"
	"github.com/toleds/rag-bot/internal/agent/graph/tools"
	"github.com/toleds/rag-bot/internal/agent/model"
	logx "github.com/toleds/rag-bot/pkg/logger"
)

const (
	// sequential variant
	NodeRetrieveMemory    = "RetrieveMemory"
	NodeRetrieveDocuments = "RetrieveDocuments"
	NodeGenerateResponse  = "GenerateResponse"
	NodeAddMemory         = "AddMemory"

	// tool-calling variant
	NodePrepareMessages = "PrepareMessages"
	NodeQueryOrRespond  = "QueryOrRespond"
	NodeToolCall        = "ToolCall"
	NodeGenerateFinal   = "GenerateFinal"
)

// Generator produces grounded answers.
type Generator interface {
	GenerateMessage(ctx context.Context, question string, docs []model.ScoredFragment, history string) (*schema.Message, error)
	GenerateFromMessages(ctx context.Context, msgs []*schema.Message) (*schema.Message, error)
	ModelName() string
}

// NewTurnPreHandler resets per-turn state at the entry node of either variant.
func NewTurnPreHandler() func(context.Context, model.QueryInput, *model.GraphState) (model.QueryInput, error) {
	return func(ctx context.Context, in model.QueryInput, s *model.GraphState) (model.QueryInput, error) {
		if strings.TrimSpace(in.UserID) == "" {
			in.UserID = model.AnonymousUser
		}
		s.UserID = in.UserID
		s.Question = in.Query
		s.ToolCallCount = 0
		s.ToolCallLimitReached = false
		s.ToolCallIDSeq = 0
		s.TotalCostUSD = 0
		return in, nil
	}
}

// =========== Sequential orchestrator ===========

// NewRetrieveMemoryNode loads the user's rendered history into state.
func NewRetrieveMemoryNode(mm *conversations.MessagesManager) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.QueryInput) (model.QueryInput, error) {
		history := mm.RawHistory(ctx, in.UserID)
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.GraphState) error {
			s.History = history
			return nil
		})
		if err != nil {
			return in, fmt.Errorf("failed to access state: %w", err)
		}
		return in, nil
	})
}

// NewRetrieveDocumentsNode fetches the top-k fragments for the question.
func NewRetrieveDocumentsNode(r tools.Retriever) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.QueryInput) ([]model.ScoredFragment, error) {
		docs, err := r.Retrieve(ctx, in.Query)
		if err != nil {
			return nil, err
		}
		logx.Debug().Str("user_id", in.UserID).Int("documents", len(docs)).Msg("Retrieved documents")
		return docs, nil
	})
}

// NewRetrieveDocumentsPostHandler keeps the retrieved fragments in state.
func NewRetrieveDocumentsPostHandler() func(context.Context, []model.ScoredFragment, *model.GraphState) ([]model.ScoredFragment, error) {
	return func(ctx context.Context, out []model.ScoredFragment, s *model.GraphState) ([]model.ScoredFragment, error) {
		s.Documents = out
		return out, nil
	}
}

// NewGenerateResponseNode answers the question from the retrieved fragments and history.
func NewGenerateResponseNode(gen Generator, costEnabled bool) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, docs []model.ScoredFragment) (string, error) {
		var question, history string
		if err := compose.ProcessState(ctx, func(_ context.Context, s *model.GraphState) error {
			question, history = s.Question, s.History
			return nil
		}); err != nil {
			return "", fmt.Errorf("failed to access state: %w", err)
		}

		out, err := gen.GenerateMessage(ctx, question, docs, history)
		if err != nil {
			return "", err
		}

		err = compose.ProcessState(ctx, func(_ context.Context, s *model.GraphState) error {
			recordUsage(s, NodeGenerateResponse, gen.ModelName(), out, costEnabled)
			s.Answer = out.Content
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("failed to access state: %w", err)
		}
		return out.Content, nil
	})
}

// NewAddMemoryNode records the turn. A failed write is logged and the answer is still returned.
func NewAddMemoryNode(mm *conversations.MessagesManager) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, answer string) (string, error) {
		var userID, question string
		if err := compose.ProcessState(ctx, func(_ context.Context, s *model.GraphState) error {
			userID, question = s.UserID, s.Question
			return nil
		}); err != nil {
			return answer, fmt.Errorf("failed to access state: %w", err)
		}

		if err := mm.SaveTurn(ctx, userID, question, answer); err != nil {
			logx.Error().Err(err).Str("user_id", userID).Msg("Error saving turn to session memory")
		}
		return answer, nil
	})
}

// =========== Tool-calling orchestrator ===========

// NewPrepareMessagesNode builds [system, history..., question] for the tool-capable model.
func NewPrepareMessagesNode(mm *conversations.MessagesManager, maxToolCalls int) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.QueryInput) ([]*schema.Message, error) {
		system, err := prompts.RenderToolSystem(ctx, tools.ToolRetrieve, normalizeMaxToolCalls(maxToolCalls))
		if err != nil {
			return nil, fmt.Errorf("render tool system prompt: %w", err)
		}

		messages, err := mm.BuildToolContext(ctx, in.UserID, system, in.Query)
		if err != nil {
			return nil, fmt.Errorf("build tool context: %w", err)
		}

		err = compose.ProcessState(ctx, func(_ context.Context, s *model.GraphState) error {
			s.Messages = messages
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}
		return messages, nil
	})
}

// NewQueryOrRespondPreHandler sends the running message list. The graph makes a
// single decision per turn, so the tool budget bounds the calls in that reply.
func NewQueryOrRespondPreHandler() func(context.Context, []*schema.Message, *model.GraphState) ([]*schema.Message, error) {
	return func(ctx context.Context, in []*schema.Message, state *model.GraphState) ([]*schema.Message, error) {
		if len(state.Messages) == 0 {
			state.Messages = in
		}
		return state.Messages, nil
	}
}

// NewQueryOrRespondPostHandler prices the reply, fills missing tool call IDs and
// records a direct answer in session memory.
func NewQueryOrRespondPostHandler(
	mm *conversations.MessagesManager,
	modelName string,
	costEnabled bool,
) func(context.Context, *schema.Message, *model.GraphState) (*schema.Message, error) {
	return func(ctx context.Context, out *schema.Message, state *model.GraphState) (*schema.Message, error) {
		if out == nil {
			return nil, fmt.Errorf("empty model reply")
		}
		recordUsage(state, NodeQueryOrRespond, modelName, out, costEnabled)

		// some providers omit tool_call IDs
		for i := range out.ToolCalls {
			if strings.TrimSpace(out.ToolCalls[i].ID) == "" {
				state.ToolCallIDSeq++
				out.ToolCalls[i].ID = fmt.Sprintf("call_%d", state.ToolCallIDSeq)
			}
		}
		state.Messages = append(state.Messages, out)

		if len(out.ToolCalls) > 0 {
			logx.Debug().Int("tool_count", len(out.ToolCalls)).Msg("Calling tools")
			return out, nil
		}

		state.Answer = out.Content
		saveExchange(ctx, mm, state)
		return out, nil
	}
}

// NewToolCallCondition routes retrieval requests to the tools node and
// everything else to END.
func NewToolCallCondition() func(context.Context, *schema.Message) (string, error) {
	return func(ctx context.Context, input *schema.Message) (string, error) {
		var question string
		_ = compose.ProcessState(ctx, func(_ context.Context, s *model.GraphState) error {
			question = s.Question
			return nil
		})

		decision, err := parsers.ParseDecision(input, question)
		if err != nil {
			return "", err
		}
		if decision.Kind == model.ToolRequest {
			logx.Debug().Str("query", decision.Query).Str("call_id", decision.CallID).Msg("Routing to ToolCall")
			return NodeToolCall, nil
		}
		logx.Debug().Msg("Direct answer - routing to end")
		return compose.END, nil
	}
}

// NewToolCallPreHandler counts tool calls, drops the ones beyond the budget and
// fills empty retrieve queries.
func NewToolCallPreHandler(maxToolCalls int) func(context.Context, *schema.Message, *model.GraphState) (*schema.Message, error) {
	return func(ctx context.Context, in *schema.Message, state *model.GraphState) (*schema.Message, error) {
		limit := normalizeMaxToolCalls(maxToolCalls)
		allowed := len(in.ToolCalls)
		for i := range in.ToolCalls {
			if incrementToolCallAndCheck(state, limit) {
				allowed = i
				break
			}
		}
		if allowed < len(in.ToolCalls) {
			logx.Warn().
				Int("tool_call_count", state.ToolCallCount).
				Int("max_tool_calls", limit).
				Str("user_id", state.UserID).
				Msg("Tool call limit exceeded - dropping extra calls")
			// in is the same message held in state.Messages
			in.ToolCalls = in.ToolCalls[:max(allowed, 1)]
		}
		// a retrieve call without a usable query searches for the question itself
		for i := range in.ToolCalls {
			if in.ToolCalls[i].Function.Name == tools.ToolRetrieve {
				in.ToolCalls[i].Function.Arguments = parsers.FillRetrieveQuery(in.ToolCalls[i].Function.Arguments, state.Question)
			}
		}
		return in, nil
	}
}

// NewGenerateFinalNode answers from the tool results gathered this turn.
func NewGenerateFinalNode(gen Generator) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, results []*schema.Message) (*schema.Message, error) {
		var conversation []*schema.Message
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.GraphState) error {
			s.Messages = append(s.Messages, results...)
			conversation = make([]*schema.Message, 0, len(s.Messages))
			for _, m := range s.Messages {
				if m != nil && m.Role == schema.Tool {
					conv := *m
					conv.Content = parsers.RetrievedText(m.Content)
					m = &conv
				}
				conversation = append(conversation, m)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}
		return gen.GenerateFromMessages(ctx, conversation)
	})
}

// NewGenerateFinalPostHandler prices the final reply and records the exchange.
func NewGenerateFinalPostHandler(
	mm *conversations.MessagesManager,
	modelName string,
	costEnabled bool,
) func(context.Context, *schema.Message, *model.GraphState) (*schema.Message, error) {
	return func(ctx context.Context, out *schema.Message, state *model.GraphState) (*schema.Message, error) {
		if out == nil {
			return nil, fmt.Errorf("empty model reply")
		}
		recordUsage(state, NodeGenerateFinal, modelName, out, costEnabled)
		state.Messages = append(state.Messages, out)
		state.Answer = out.Content
		saveExchange(ctx, mm, state)
		return out, nil
	}
}

func saveExchange(ctx context.Context, mm *conversations.MessagesManager, state *model.GraphState) {
	if strings.TrimSpace(state.Answer) == "" {
		return
	}
	if err := mm.SaveExchange(ctx, state.UserID, state.Question, state.Answer); err != nil {
		logx.Error().Err(err).Str("user_id", state.UserID).Msg("Error saving exchange to session memory")
		return
	}
	logx.Debug().Str("user_id", state.UserID).Msg("Saved exchange to session memory")
}
