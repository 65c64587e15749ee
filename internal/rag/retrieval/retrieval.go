// Package retrieval queries the active collection for fragments relevant to a question.
package retrieval

import (
	"context"

	"github.com/toleds/rag-bot/internal/agent/model"
	errx "github.com/toleds/rag-bot/internal/core/error"
	logx "github.com/toleds/rag-bot/pkg/logger"
)

const (
	DefaultTopK        = 10
	DefaultSearchTopK  = 5
	DefaultMaxDistance = 1.0
)

// Service wraps a chunk store with the retrieval defaults.
type Service struct {
	store      model.ChunkStore
	topK       int
	searchTopK int
}

// NewService creates a retrieval service. Non-positive k values fall back to the defaults.
func NewService(store model.ChunkStore, topK, searchTopK int) *Service {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if searchTopK <= 0 {
		searchTopK = DefaultSearchTopK
	}
	return &Service{store: store, topK: topK, searchTopK: searchTopK}
}

// Collection returns the active collection name.
func (s *Service) Collection() string {
	return s.store.ActiveCollection()
}

// Retrieve returns up to topK fragments by ascending distance.
func (s *Service) Retrieve(ctx context.Context, query string) ([]model.ScoredFragment, error) {
	docs, err := s.store.SimilarityQuery(ctx, query, s.topK)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		logx.Debug().Str("collection", s.Collection()).Str("query", query).Msg("Retrieve found no fragments")
		return nil, errx.NoResults()
	}
	return docs, nil
}

// RetrieveWithScore returns up to searchTopK fragments whose distance is
// strictly below maxDistance.
func (s *Service) RetrieveWithScore(ctx context.Context, query string, maxDistance float64) ([]model.ScoredFragment, error) {
	docs, err := s.store.SimilarityQuery(ctx, query, s.searchTopK)
	if err != nil {
		return nil, err
	}
	kept := docs[:0]
	for _, d := range docs {
		if d.Distance < maxDistance {
			kept = append(kept, d)
		}
	}
	if len(kept) == 0 {
		logx.Debug().Str("collection", s.Collection()).Float64("max_distance", maxDistance).
			Int("candidates", len(docs)).Msg("RetrieveWithScore filtered every fragment")
		return nil, errx.NoResults()
	}
	return kept, nil
}

// Search returns up to searchTopK scored fragments without filtering.
func (s *Service) Search(ctx context.Context, query string) ([]model.ScoredFragment, error) {
	docs, err := s.store.SimilarityQuery(ctx, query, s.searchTopK)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, errx.NoResults()
	}
	return docs, nil
}
