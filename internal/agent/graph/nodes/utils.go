package nodes

import (
	"github.com/cloudwego/eino/schema"

	"github.com/toleds/rag-bot/internal/agent/model"
	logx "github.com/toleds/rag-bot/pkg/logger"
)

const DefaultMaxToolCalls = 3

// normalizeMaxToolCalls returns a sane default when the provided value is invalid.
func normalizeMaxToolCalls(n int) int {
	if n <= 0 {
		return DefaultMaxToolCalls
	}
	return n
}

// incrementToolCallAndCheck increments the count and marks the state if it
// exceeds the limit after incrementing. Returns true when exceeded.
func incrementToolCallAndCheck(state *model.GraphState, max int) bool {
	max = normalizeMaxToolCalls(max)
	state.ToolCallCount++
	if state.ToolCallCount > max {
		state.ToolCallLimitReached = true
		return true
	}
	return false
}

// recordUsage prices the message's token usage, exposes it in Extra and adds
// it to the turn total.
func recordUsage(state *model.GraphState, node, modelName string, out *schema.Message, enabled bool) {
	if !enabled || out == nil || out.ResponseMeta == nil || out.ResponseMeta.Usage == nil {
		return
	}
	cost := model.ComputeCost(modelName, out.ResponseMeta.Usage)
	if out.Extra == nil {
		out.Extra = map[string]any{}
	}
	out.Extra["usage_cost"] = cost
	state.TotalCostUSD += cost.TotalCost
	out.Extra["usage_cost_total_usd"] = state.TotalCostUSD

	logx.Debug().
		Str("user_id", state.UserID).
		Str("node", node).
		Str("model", modelName).
		Int("prompt_tokens", cost.PromptTokens).
		Int("completion_tokens", cost.CompletionTokens).
		Int("total_tokens", cost.TotalTokens).
		Float64("total_cost_usd", cost.TotalCost).
		Msg("LLM usage")
}
