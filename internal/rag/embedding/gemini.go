package embedding

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/embedding"
	"google.golang.org/genai"

	logx "github.com/toleds/rag-bot/pkg/logger"
)

// DefaultGeminiModel is used when no embedding model is configured.
const DefaultGeminiModel = "text-embedding-004"

// GeminiEmbedder embeds text through the Gemini embedContent API.
type GeminiEmbedder struct {
	client    *genai.Client
	model     string
	dimension int
}

var _ embedding.Embedder = (*GeminiEmbedder)(nil)

// NewGeminiEmbedder creates a Gemini API client and wraps it as an embedder.
func NewGeminiEmbedder(ctx context.Context, cfg Config) (*GeminiEmbedder, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini embedding client")
		return nil, fmt.Errorf("error creating Gemini embedding client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiEmbedder{client: client, model: model, dimension: cfg.Dimension}, nil
}

// EmbedStrings embeds texts in a single batched request.
func (e *GeminiEmbedder) EmbedStrings(ctx context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, genai.NewContentFromText(t, genai.RoleUser))
	}

	var cfg *genai.EmbedContentConfig
	if e.dimension > 0 {
		cfg = &genai.EmbedContentConfig{OutputDimensionality: genai.Ptr(int32(e.dimension))}
	}

	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini embed content: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}

	out := make([][]float64, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		vec := make([]float64, len(emb.Values))
		for j, v := range emb.Values {
			vec[j] = float64(v)
		}
		out[i] = vec
	}
	return out, nil
}
