package conversations

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/toleds/rag-bot/internal/agent/model"
	logx "github.com/toleds/rag-bot/pkg/logger"
)

const DefaultMaxMessages = 20

// MessagesManager builds model context from session memory and records turns.
type MessagesManager struct {
	memory      model.SessionMemory
	maxMessages int
}

func NewMessagesManager(memory model.SessionMemory, config model.ConversationConfig) *MessagesManager {
	maxMessages := config.History.MaxMessages
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &MessagesManager{
		memory:      memory,
		maxMessages: maxMessages,
	}
}

// =========== Sequential orchestrator ===========

// RawHistory returns the rendered prior turns, or the placeholder when the
// user has none. Read failures degrade to the placeholder.
func (cm *MessagesManager) RawHistory(ctx context.Context, userID string) string {
	history, err := cm.memory.RawHistory(ctx, userID)
	if err != nil {
		logx.Warn().Err(err).Str("user_id", userID).Msg("Failed to read session history; continuing without it")
		return model.NoHistoryPlaceholder
	}
	return history
}

// SaveTurn records the question/answer pair.
func (cm *MessagesManager) SaveTurn(ctx context.Context, userID, question, answer string) error {
	if _, err := cm.memory.GetOrCreateThread(ctx, userID); err != nil {
		return err
	}
	return cm.memory.Append(ctx, userID, question, answer)
}

// =========== Tool-calling orchestrator ===========

// BuildToolContext returns [system, recent history..., user query].
func (cm *MessagesManager) BuildToolContext(ctx context.Context, userID string, system *schema.Message, query string) ([]*schema.Message, error) {
	history, err := cm.memory.LoadMessages(ctx, userID)
	if err != nil {
		return nil, err
	}

	recent := trimTail(history, cm.maxMessages)
	messages := make([]*schema.Message, 0, len(recent)+2)
	if system != nil {
		messages = append(messages, system)
	}
	for _, msg := range recent {
		if msg == nil || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		// only plain conversation turns are replayed
		if msg.Role == schema.User || (msg.Role == schema.Assistant && len(msg.ToolCalls) == 0) {
			messages = append(messages, msg)
		}
	}
	messages = append(messages, schema.UserMessage(query))
	return messages, nil
}

// SaveExchange stores the user question and the final assistant answer.
func (cm *MessagesManager) SaveExchange(ctx context.Context, userID, query, answer string) error {
	return cm.memory.AppendMessages(ctx, userID,
		schema.UserMessage(query),
		schema.AssistantMessage(answer, nil),
	)
}

// ====================== Helper function ======================
func trimTail(messages []*schema.Message, maxMessages int) []*schema.Message {
	if len(messages) <= maxMessages {
		result := make([]*schema.Message, len(messages))
		copy(result, messages)
		return result
	}
	source := messages[len(messages)-maxMessages:]
	result := make([]*schema.Message, len(source))
	copy(result, source)
	return result
}
