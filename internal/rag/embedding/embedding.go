// Package embedding provides the text-to-vector collaborators behind the eino
// embedding.Embedder port.
package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
)

// DefaultDimension is used when the configuration leaves it unset.
const DefaultDimension = 768

// Backend selects the embedding implementation.
type Backend string

const (
	BackendHash   Backend = "hash"
	BackendGemini Backend = "gemini"
	BackendOpenAI Backend = "openai"
)

// ParseBackend validates a configured backend name.
func ParseBackend(v string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(v))); b {
	case BackendHash, BackendGemini, BackendOpenAI:
		return b, nil
	case "":
		return BackendHash, nil
	default:
		return "", fmt.Errorf("unsupported embedding type %q", v)
	}
}

// Config configures an embedder.
type Config struct {
	Backend   Backend
	Model     string
	Dimension int
	APIKey    string
	BaseURL   string
}

// New builds the embedder selected by cfg.Backend.
func New(ctx context.Context, cfg Config) (embedding.Embedder, error) {
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	switch cfg.Backend {
	case BackendHash, "":
		return NewHashEmbedder(cfg.Dimension), nil
	case BackendGemini:
		return NewGeminiEmbedder(ctx, cfg)
	case BackendOpenAI:
		return NewOpenAIEmbedder(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported embedding type %q", cfg.Backend)
	}
}
