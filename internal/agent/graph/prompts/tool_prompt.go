package prompts

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

//go:embed template/tool_prompt.txt
var toolSystemPrompt string

// RenderToolSystem renders the system prompt of the tool-calling orchestrator.
func RenderToolSystem(ctx context.Context, retrieveTool string, maxCalls int) (*schema.Message, error) {
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(toolSystemPrompt),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"RetrieveTool": retrieveTool,
		"MaxCalls":     maxCalls,
	})
	if err != nil {
		return nil, fmt.Errorf("tool prompt render: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return nil, fmt.Errorf("tool prompt render: empty result")
	}
	return msgs[0], nil
}
