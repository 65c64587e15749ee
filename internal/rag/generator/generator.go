// Package generator asks the language model to answer from retrieved context only.
package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/toleds/rag-bot/internal/agent/graph/prompts"
	agentmodel "github.com/toleds/rag-bot/internal/agent/model"
	errx "github.com/toleds/rag-bot/internal/core/error"
	logx "github.com/toleds/rag-bot/pkg/logger"
)

// ContextSeparator joins fragment contents into the prompt context.
const ContextSeparator = "\n\n"

// Generator renders the grounding prompt and invokes the chat model once.
type Generator struct {
	chatModel model.BaseChatModel
	modelName string
}

// New creates a generator. modelName is used for cost accounting only.
func New(chatModel model.BaseChatModel, modelName string) (*Generator, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is nil")
	}
	return &Generator{chatModel: chatModel, modelName: modelName}, nil
}

// ModelName returns the configured model name.
func (g *Generator) ModelName() string {
	return g.modelName
}

// JoinContext concatenates fragment contents in retrieval order.
func JoinContext(docs []agentmodel.ScoredFragment) string {
	parts := make([]string, len(docs))
	for i, d := range docs {
		parts[i] = d.Content
	}
	return strings.Join(parts, ContextSeparator)
}

// Generate answers question from docs. history is the rendered prior turns and
// may be empty.
func (g *Generator) Generate(ctx context.Context, question string, docs []agentmodel.ScoredFragment, history string) (string, error) {
	msg, err := g.generate(ctx, question, JoinContext(docs), history)
	if err != nil {
		return "", err
	}
	return msg.Content, nil
}

// GenerateMessage is Generate returning the full model message, including usage.
func (g *Generator) GenerateMessage(ctx context.Context, question string, docs []agentmodel.ScoredFragment, history string) (*schema.Message, error) {
	return g.generate(ctx, question, JoinContext(docs), history)
}

func (g *Generator) generate(ctx context.Context, question, docContext, history string) (*schema.Message, error) {
	if history == agentmodel.NoHistoryPlaceholder {
		history = ""
	}
	msgs, err := prompts.RenderGrounding(ctx, question, docContext, history)
	if err != nil {
		return nil, err
	}

	logx.Debug().Str("model", g.modelName).Int("context_chars", len(docContext)).Bool("history", history != "").
		Msg("Sending grounded request to LLM")
	out, err := g.chatModel.Generate(ctx, msgs)
	if err != nil {
		logx.Error().Err(err).Str("model", g.modelName).Msg("LLM generation failed")
		return nil, errx.WrapModel(fmt.Errorf("generate: %w", err))
	}
	if out == nil {
		return nil, errx.WrapModel(fmt.Errorf("generate: empty response"))
	}
	return out, nil
}

// GenerateFromMessages answers the latest user question in msgs using the
// trailing tool results as context. Earlier messages are rendered as history.
func (g *Generator) GenerateFromMessages(ctx context.Context, msgs []*schema.Message) (*schema.Message, error) {
	question, docContext, history := splitToolConversation(msgs)
	if question == "" {
		return nil, errx.Validation("no user question in conversation")
	}
	return g.generate(ctx, question, docContext, history)
}

// splitToolConversation finds the trailing run of tool messages, the user
// question that started the turn, and renders everything before it as history.
func splitToolConversation(msgs []*schema.Message) (question, docContext, history string) {
	end := len(msgs)
	start := end
	for start > 0 && msgs[start-1] != nil && msgs[start-1].Role == schema.Tool {
		start--
	}
	toolParts := make([]string, 0, end-start)
	for _, m := range msgs[start:end] {
		toolParts = append(toolParts, m.Content)
	}
	docContext = strings.Join(toolParts, ContextSeparator)

	userIdx := -1
	for i := start - 1; i >= 0; i-- {
		if msgs[i] != nil && msgs[i].Role == schema.User {
			userIdx = i
			break
		}
	}
	if userIdx < 0 {
		return "", docContext, ""
	}
	question = msgs[userIdx].Content
	history = RenderMessages(msgs[:userIdx])
	return question, docContext, history
}

// RenderMessages renders user/assistant pairs in the raw history format.
// System and tool messages are skipped.
func RenderMessages(msgs []*schema.Message) string {
	var (
		turns   []string
		pending string
	)
	for _, m := range msgs {
		if m == nil {
			continue
		}
		switch m.Role {
		case schema.User:
			pending = m.Content
		case schema.Assistant:
			if m.Content == "" || len(m.ToolCalls) > 0 {
				continue
			}
			turns = append(turns, fmt.Sprintf("Question: %s Answer: %s", pending, m.Content))
			pending = ""
		}
	}
	return strings.Join(turns, " | ")
}
