// Package store implements the chunk store adapter over concrete vector indexes.
package store

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/cloudwego/eino/components/embedding"

	"github.com/toleds/rag-bot/internal/agent/model"
	errx "github.com/toleds/rag-bot/internal/core/error"
)

// Backend selects the vector index implementation.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendQdrant Backend = "qdrant"
)

// ParseBackend validates a configured backend name.
func ParseBackend(v string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(v))); b {
	case BackendMemory, BackendQdrant:
		return b, nil
	case "":
		return BackendMemory, nil
	default:
		return "", fmt.Errorf("unsupported vector store type %q", v)
	}
}

// Config configures the chunk store.
type Config struct {
	Backend           Backend
	DataPath          string // memory backend snapshot file; empty disables persistence
	DefaultCollection string
	Dimension         int
	Qdrant            QdrantConfig
}

// New builds the store selected by cfg.Backend and activates the default collection.
func New(ctx context.Context, cfg Config, embedder embedding.Embedder) (model.ChunkStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is nil")
	}

	var (
		s   model.ChunkStore
		err error
	)
	switch cfg.Backend {
	case BackendMemory, "":
		s, err = NewMemoryStore(embedder, cfg.DataPath)
	case BackendQdrant:
		s, err = NewQdrantStore(cfg.Qdrant, embedder, cfg.Dimension)
	default:
		return nil, fmt.Errorf("unsupported vector store type %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	if _, err := s.GetOrCreateCollection(ctx, cfg.DefaultCollection); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func collectionName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.DefaultCollection
	}
	return name
}

func embedOne(ctx context.Context, embedder embedding.Embedder, text string) ([]float64, error) {
	vecs, err := embedder.EmbedStrings(ctx, []string{text})
	if err != nil {
		return nil, errx.WrapModel(fmt.Errorf("embed query: %w", err))
	}
	if len(vecs) != 1 {
		return nil, errx.WrapModel(fmt.Errorf("embed query: got %d vectors", len(vecs)))
	}
	return vecs[0], nil
}

func embedFragments(ctx context.Context, embedder embedding.Embedder, fragments []model.Fragment) ([][]float64, error) {
	texts := make([]string, len(fragments))
	for i, f := range fragments {
		texts[i] = f.Content
	}
	vecs, err := embedder.EmbedStrings(ctx, texts)
	if err != nil {
		return nil, errx.WrapModel(fmt.Errorf("embed fragments: %w", err))
	}
	if len(vecs) != len(fragments) {
		return nil, errx.WrapModel(fmt.Errorf("embed fragments: got %d vectors for %d fragments", len(vecs), len(fragments)))
	}
	return vecs, nil
}

// cosineDistance returns 1 - cosine similarity; zero vectors are maximally distant.
func cosineDistance(a, b []float64) float64 {
	if len(a) != len(b) {
		return 2
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
