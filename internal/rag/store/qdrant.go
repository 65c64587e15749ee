package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/toleds/rag-bot/internal/agent/model"
	errx "github.com/toleds/rag-bot/internal/core/error"
	logx "github.com/toleds/rag-bot/pkg/logger"
)

// QdrantConfig holds the gRPC connection settings.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// pointNamespace scopes the name-based UUIDs that stand in for derived ids.
var pointNamespace = uuid.MustParse("0b8e5b8c-6f0e-4b1d-9c55-3f2f5a1f4e21")

const (
	payloadContent   = "content"
	payloadSource    = "source"
	payloadPage      = "page"
	payloadSeq       = "sequence_index"
	payloadDerivedID = "derived_id"
)

// QdrantStore keeps each collection in a Qdrant collection with cosine distance.
type QdrantStore struct {
	client    *qdrant.Client
	embedder  embedding.Embedder
	dimension uint64

	mu     sync.RWMutex
	active string
	known  map[string]struct{}
}

var _ model.ChunkStore = (*QdrantStore)(nil)

// NewQdrantStore connects to Qdrant. Vectors must have the given dimension.
func NewQdrantStore(cfg QdrantConfig, embedder embedding.Embedder, dimension int) (*QdrantStore, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("qdrant store requires a positive embedding dimension")
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		logx.Error().Err(err).Str("host", cfg.Host).Int("port", cfg.Port).Msg("Failed to create qdrant client")
		return nil, errx.WrapStore(fmt.Errorf("create qdrant client: %w", err))
	}
	return &QdrantStore{
		client:    client,
		embedder:  embedder,
		dimension: uint64(dimension),
		active:    model.DefaultCollection,
		known:     make(map[string]struct{}),
	}, nil
}

// PointID maps a derived id onto the UUID Qdrant stores it under.
func PointID(derivedID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(derivedID)).String()
}

func (s *QdrantStore) ensureCollection(ctx context.Context, name string) error {
	s.mu.RLock()
	_, ok := s.known[name]
	s.mu.RUnlock()
	if ok {
		return nil
	}

	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return errx.WrapStore(fmt.Errorf("check collection %q: %w", name, err))
	}
	if !exists {
		if err := s.createCollection(ctx, name); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.known[name] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *QdrantStore) createCollection(ctx context.Context, name string) error {
	err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.dimension,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return errx.WrapStore(fmt.Errorf("create collection %q: %w", name, err))
	}
	logx.Info().Str("collection", name).Uint64("dimension", s.dimension).Msg("Created qdrant collection")
	return nil
}

func (s *QdrantStore) GetOrCreateCollection(ctx context.Context, name string) (string, error) {
	name = collectionName(name)
	if err := s.ensureCollection(ctx, name); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.active = name
	s.mu.Unlock()
	return name, nil
}

func (s *QdrantStore) ActiveCollection() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *QdrantStore) UpsertBatch(ctx context.Context, collection string, fragments []model.Fragment) error {
	if len(fragments) == 0 {
		return nil
	}
	collection = collectionName(collection)
	if err := s.ensureCollection(ctx, collection); err != nil {
		return err
	}

	vecs, err := embedFragments(ctx, s.embedder, fragments)
	if err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(fragments))
	for i, f := range fragments {
		if f.DerivedID == "" {
			return fmt.Errorf("fragment from %q has no derived id", f.SourceID)
		}
		payload := map[string]any{
			payloadContent:   f.Content,
			payloadSource:    f.SourceID,
			payloadSeq:       int64(f.SequenceIndex),
			payloadDerivedID: f.DerivedID,
		}
		if f.Page != nil {
			payload[payloadPage] = int64(*f.Page)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(PointID(f.DerivedID)),
			Vectors: qdrant.NewVectorsDense(toFloat32(vecs[i])),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	}); err != nil {
		return errx.WrapStore(fmt.Errorf("upsert %d points into %q: %w", len(points), collection, err))
	}
	return nil
}

func (s *QdrantStore) SimilarityQuery(ctx context.Context, query string, k int) ([]model.ScoredFragment, error) {
	if k <= 0 {
		return nil, nil
	}
	qvec, err := embedOne(ctx, s.embedder, query)
	if err != nil {
		return nil, err
	}

	collection := s.ActiveCollection()
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQueryDense(toFloat32(qvec)),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, errx.WrapStore(fmt.Errorf("query %q: %w", collection, err))
	}

	out := make([]model.ScoredFragment, 0, len(points))
	for _, p := range points {
		out = append(out, model.ScoredFragment{
			Fragment: fragmentFromPayload(p.GetPayload()),
			// cosine similarity to distance
			Distance: 1 - float64(p.GetScore()),
		})
	}
	return out, nil
}

// ResetCollection drops and recreates the active collection.
func (s *QdrantStore) ResetCollection(ctx context.Context) error {
	collection := s.ActiveCollection()
	if err := s.client.DeleteCollection(ctx, collection); err != nil {
		return errx.WrapStore(fmt.Errorf("delete collection %q: %w", collection, err))
	}
	s.mu.Lock()
	delete(s.known, collection)
	s.mu.Unlock()

	if err := s.ensureCollection(ctx, collection); err != nil {
		return err
	}
	logx.Info().Str("collection", collection).Msg("Collection reset")
	return nil
}

func (s *QdrantStore) ListCollections(ctx context.Context) ([]string, error) {
	names, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, errx.WrapStore(fmt.Errorf("list collections: %w", err))
	}
	return names, nil
}

func (s *QdrantStore) Count(ctx context.Context, collection string) (int, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collectionName(collection),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, errx.WrapStore(fmt.Errorf("count %q: %w", collection, err))
	}
	return int(n), nil
}

// Persist is a no-op: Qdrant persists server-side.
func (s *QdrantStore) Persist(context.Context) error { return nil }

func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func fragmentFromPayload(payload map[string]*qdrant.Value) model.Fragment {
	f := model.Fragment{
		Content:   payload[payloadContent].GetStringValue(),
		SourceID:  payload[payloadSource].GetStringValue(),
		DerivedID: payload[payloadDerivedID].GetStringValue(),
	}
	f.SequenceIndex = int(payload[payloadSeq].GetIntegerValue())
	if v, ok := payload[payloadPage]; ok && v != nil {
		f.Page = model.PageOf(int(v.GetIntegerValue()))
	}
	return f
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
