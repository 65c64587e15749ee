package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

//go:embed template/grounding_prompt.txt
var groundingPrompt string

//go:embed template/history_prompt.txt
var historyPrompt string

// RenderGrounding renders the question-answering request through the Eino prompt
// component so prompt callbacks fire. A system message carrying history is
// prepended only when history is non-empty.
func RenderGrounding(ctx context.Context, question, docContext, history string) ([]*schema.Message, error) {
	templates := make([]schema.MessagesTemplate, 0, 2)
	vars := map[string]any{
		"question": question,
		"context":  docContext,
	}
	if strings.TrimSpace(history) != "" {
		templates = append(templates, schema.SystemMessage(historyPrompt))
		vars["history"] = history
	}
	templates = append(templates, schema.UserMessage(groundingPrompt))

	msgs, err := prompt.FromMessages(schema.FString, templates...).Format(ctx, vars)
	if err != nil {
		return nil, fmt.Errorf("grounding prompt render: %w", err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("grounding prompt render: empty result")
	}
	return msgs, nil
}
