package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	einomodel "github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"

	logx "github.com/toleds/rag-bot/pkg/logger"
)

// LLMType selects the chat model backend.
type LLMType string

const (
	LLMGemini LLMType = "gemini"
)

// ParseLLMType validates the LLM_TYPE setting.
func ParseLLMType(s string) (LLMType, error) {
	switch LLMType(strings.ToLower(strings.TrimSpace(s))) {
	case "", LLMGemini:
		return LLMGemini, nil
	default:
		return "", fmt.Errorf("unknown llm type %q", s)
	}
}

// ChatModelConfig holds the configuration for chat model creation
type ChatModelConfig struct {
	Type        string
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
}

// NewChatModel creates the tool-capable chat model shared by both orchestrator variants.
func NewChatModel(ctx context.Context, config ChatModelConfig) (einomodel.ToolCallingChatModel, error) {
	llmType, err := ParseLLMType(config.Type)
	if err != nil {
		return nil, err
	}
	if config.Model == "" {
		return nil, fmt.Errorf("llm model name is required")
	}

	switch llmType {
	case LLMGemini:
		clientCfg := &genai.ClientConfig{
			APIKey:  config.APIKey,
			Backend: genai.BackendGeminiAPI,
		}
		if config.BaseURL != "" {
			clientCfg.HTTPOptions.BaseURL = config.BaseURL
		}

		client, err := genai.NewClient(ctx, clientCfg)
		if err != nil {
			logx.Error().Err(err).Msg("Error creating Gemini client")
			return nil, fmt.Errorf("error creating Gemini client: %w", err)
		}

		temperature := config.Temperature
		maxTokens := config.MaxTokens
		cm, err := gemini.NewChatModel(ctx, &gemini.Config{
			Client:      client,
			Model:       config.Model,
			Temperature: &temperature,
			MaxTokens:   &maxTokens,
		})
		if err != nil {
			logx.Error().Err(err).Msg("Error creating chat model")
			return nil, fmt.Errorf("error creating chat model: %w", err)
		}
		logx.Debug().Str("llm_type", string(llmType)).Str("model", config.Model).Msg("Chat model created")
		return cm, nil
	}
	return nil, fmt.Errorf("unknown llm type %q", config.Type)
}
