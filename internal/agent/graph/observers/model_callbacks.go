package observers

import (
	"context"
	"strings"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	logx "github.com/toleds/rag-bot/pkg/logger"
)

// newModelHandler logs the conversation sent to the chat model and its reply.
func newModelHandler() *callbackHelper.ModelCallbackHandler {
	return &callbackHelper.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *model.CallbackInput) context.Context {
			if input == nil {
				return ctx
			}
			logx.Debug().
				Str("component", string(info.Type)).
				Str("name", info.Name).
				Int("messages", len(input.Messages)).
				Int("tools", len(input.Tools)).
				Str("user", lastUserContent(input.Messages)).
				Msg("Model call started")
			for i, m := range input.Messages {
				if m == nil || strings.TrimSpace(m.Content) == "" {
					continue
				}
				logx.Trace().Int("index", i).Str("role", string(m.Role)).Str("content", m.Content).Msg("Model context")
			}
			return ctx
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *model.CallbackOutput) context.Context {
			ev := logx.Debug().Str("component", string(info.Type)).Str("name", info.Name)
			if output != nil && output.Message != nil {
				ev = ev.Str("assistant", strings.TrimSpace(output.Message.Content)).
					Int("tool_calls", len(output.Message.ToolCalls))
			}
			if output != nil && output.TokenUsage != nil {
				ev = ev.Int("total_tokens", output.TokenUsage.TotalTokens)
			}
			ev.Msg("Model call finished")
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Error().Err(err).Str("component", string(info.Type)).Str("name", info.Name).Msg("Model call failed")
			return ctx
		},
	}
}

func lastUserContent(msgs []*schema.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if m := msgs[i]; m != nil && m.Role == schema.User {
			return strings.TrimSpace(m.Content)
		}
	}
	return ""
}
