package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cloudwego/eino/components/embedding"

	"github.com/toleds/rag-bot/internal/agent/model"
	errx "github.com/toleds/rag-bot/internal/core/error"
	logx "github.com/toleds/rag-bot/pkg/logger"
)

type memEntry struct {
	fragment model.Fragment
	vector   []float64
}

// MemoryStore is a brute-force cosine index held in process memory. When a
// snapshot path is configured, Persist writes every collection to SQLite and
// the next NewMemoryStore reloads it.
type MemoryStore struct {
	mu          sync.RWMutex
	embedder    embedding.Embedder
	collections map[string]map[string]memEntry
	active      string
	snapshot    *snapshot
}

var _ model.ChunkStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store, reloading the snapshot at dataPath if present.
func NewMemoryStore(embedder embedding.Embedder, dataPath string) (*MemoryStore, error) {
	s := &MemoryStore{
		embedder:    embedder,
		collections: make(map[string]map[string]memEntry),
		active:      model.DefaultCollection,
	}
	if dataPath == "" {
		return s, nil
	}

	snap, err := openSnapshot(dataPath)
	if err != nil {
		return nil, errx.WrapStore(err)
	}
	s.snapshot = snap

	loaded, err := snap.load(context.Background())
	if err != nil {
		_ = snap.close()
		return nil, errx.WrapStore(err)
	}
	total := 0
	for name, entries := range loaded {
		s.collections[name] = entries
		total += len(entries)
	}
	if len(loaded) > 0 {
		logx.Info().Str("path", dataPath).Int("collections", len(loaded)).Int("fragments", total).Msg("Loaded vector store snapshot")
	}
	return s, nil
}

func (s *MemoryStore) GetOrCreateCollection(_ context.Context, name string) (string, error) {
	name = collectionName(name)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; !ok {
		s.collections[name] = make(map[string]memEntry)
		logx.Debug().Str("collection", name).Msg("Created collection")
	}
	s.active = name
	return name, nil
}

func (s *MemoryStore) ActiveCollection() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *MemoryStore) UpsertBatch(ctx context.Context, collection string, fragments []model.Fragment) error {
	if len(fragments) == 0 {
		return nil
	}
	for _, f := range fragments {
		if f.DerivedID == "" {
			return fmt.Errorf("fragment from %q has no derived id", f.SourceID)
		}
	}

	// embed outside the lock; the embedder may be remote
	vecs, err := embedFragments(ctx, s.embedder, fragments)
	if err != nil {
		return err
	}

	collection = collectionName(collection)
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, ok := s.collections[collection]
	if !ok {
		entries = make(map[string]memEntry)
		s.collections[collection] = entries
	}
	for i, f := range fragments {
		entries[f.DerivedID] = memEntry{fragment: f, vector: vecs[i]}
	}
	return nil
}

func (s *MemoryStore) SimilarityQuery(ctx context.Context, query string, k int) ([]model.ScoredFragment, error) {
	if k <= 0 {
		return nil, nil
	}
	qvec, err := embedOne(ctx, s.embedder, query)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	entries := s.collections[s.active]
	results := make([]model.ScoredFragment, 0, len(entries))
	for _, e := range entries {
		results = append(results, model.ScoredFragment{
			Fragment: e.fragment,
			Distance: cosineDistance(qvec, e.vector),
		})
	}
	s.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].DerivedID < results[j].DerivedID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// ResetCollection empties the active collection and writes the snapshot so the
// reset survives a restart.
func (s *MemoryStore) ResetCollection(ctx context.Context) error {
	s.mu.Lock()
	active := s.active
	s.collections[active] = make(map[string]memEntry)
	s.mu.Unlock()
	logx.Info().Str("collection", active).Msg("Collection reset")

	return s.Persist(ctx)
}

func (s *MemoryStore) ListCollections(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStore) Count(_ context.Context, collection string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collectionName(collection)]), nil
}

// Persist writes all collections to the snapshot file. Without a snapshot path
// it is a no-op.
func (s *MemoryStore) Persist(ctx context.Context) error {
	if s.snapshot == nil {
		return nil
	}

	s.mu.RLock()
	copied := make(map[string][]memEntry, len(s.collections))
	for name, entries := range s.collections {
		list := make([]memEntry, 0, len(entries))
		for _, e := range entries {
			list = append(list, e)
		}
		copied[name] = list
	}
	s.mu.RUnlock()

	if err := s.snapshot.save(ctx, copied); err != nil {
		return errx.WrapStore(err)
	}
	logx.Debug().Int("collections", len(copied)).Msg("Vector store persisted")
	return nil
}

func (s *MemoryStore) Close() error {
	if s.snapshot == nil {
		return nil
	}
	return s.snapshot.close()
}
