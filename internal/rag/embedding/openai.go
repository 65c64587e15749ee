package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultOpenAIModel is used when no embedding model is configured.
const DefaultOpenAIModel = "text-embedding-3-small"

// OpenAIEmbedder embeds text through the OpenAI embeddings API or any
// compatible server reachable at BaseURL.
type OpenAIEmbedder struct {
	client    openai.Client
	model     string
	dimension int
}

var _ embedding.Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder builds the client from cfg.
func NewOpenAIEmbedder(cfg Config) *OpenAIEmbedder {
	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIEmbedder{
		client:    openai.NewClient(opts...),
		model:     model,
		dimension: cfg.Dimension,
	}
}

// EmbedStrings embeds texts in a single request and orders results by index.
func (e *OpenAIEmbedder) EmbedStrings(ctx context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	req := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(e.model),
	}
	// only the text-embedding-3 family accepts a dimensions override
	if e.dimension > 0 && strings.HasPrefix(e.model, "text-embedding-3") {
		req.Dimensions = openai.Int(int64(e.dimension))
	}

	resp, err := e.client.Embeddings.New(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai create embeddings: %w", err)
	}

	out := make([][]float64, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, fmt.Errorf("openai returned embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("openai returned no embedding for input %d", i)
		}
	}
	return out, nil
}
