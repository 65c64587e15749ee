package model

import (
	"context"
	"fmt"
	"strconv"
)

// DefaultCollection is the collection used when none is named.
const DefaultCollection = "default"

// Fragment is a unit of retrievable text.
type Fragment struct {
	Content       string `json:"content"`
	SourceID      string `json:"source"`
	Page          *int   `json:"page"`
	SequenceIndex int    `json:"sequence_index"`
	DerivedID     string `json:"id"`
}

// ScoredFragment pairs a fragment with its distance to a query. Lower is closer.
type ScoredFragment struct {
	Fragment
	Distance float64 `json:"distance"`
}

// FragmentMetadata is the transport view of a fragment's origin.
type FragmentMetadata struct {
	Source string `json:"source"`
	Page   *int   `json:"page"`
}

// Metadata returns the fragment's origin.
func (f Fragment) Metadata() FragmentMetadata {
	return FragmentMetadata{Source: f.SourceID, Page: f.Page}
}

// Key renders the (source, page) pair that groups fragments for id assignment.
// A missing page renders as "None" so ids stay stable across re-ingestion.
func (f Fragment) Key() string {
	page := "None"
	if f.Page != nil {
		page = strconv.Itoa(*f.Page)
	}
	return f.SourceID + ":" + page
}

// PageOf returns a pointer to p, for building fragments.
func PageOf(p int) *int {
	return &p
}

// AssignIDs sets SequenceIndex and DerivedID on every fragment in order.
// The index increments while consecutive fragments share a key and resets to 0
// whenever the key changes.
func AssignIDs(fragments []Fragment) {
	var (
		last  *Fragment
		index int
	)
	for i := range fragments {
		f := &fragments[i]
		if last != nil && sameKey(*last, *f) {
			index++
		} else {
			index = 0
		}
		f.SequenceIndex = index
		f.DerivedID = fmt.Sprintf("%s:%d", f.Key(), index)
		last = f
	}
}

func sameKey(a, b Fragment) bool {
	if a.SourceID != b.SourceID {
		return false
	}
	if a.Page == nil || b.Page == nil {
		return a.Page == nil && b.Page == nil
	}
	return *a.Page == *b.Page
}

// ChunkStore is the vector index capability: collection lifecycle, upsert and
// similarity queries. Implementations embed text through their own embedder.
type ChunkStore interface {
	// GetOrCreateCollection makes name the active collection, creating it when
	// missing, and returns the active name. An empty name means DefaultCollection.
	GetOrCreateCollection(ctx context.Context, name string) (string, error)
	// ActiveCollection returns the name of the active collection.
	ActiveCollection() string
	// UpsertBatch inserts or overwrites fragments by DerivedID into collection.
	UpsertBatch(ctx context.Context, collection string, fragments []Fragment) error
	// SimilarityQuery returns up to k fragments of the active collection by ascending distance.
	SimilarityQuery(ctx context.Context, query string, k int) ([]ScoredFragment, error)
	// ResetCollection removes every fragment of the active collection.
	ResetCollection(ctx context.Context) error
	// ListCollections returns all collection names known to the backend.
	ListCollections(ctx context.Context) ([]string, error)
	// Count returns the number of fragments stored in collection.
	Count(ctx context.Context, collection string) (int, error)
	// Persist flushes the index to durable storage when the backend supports it.
	Persist(ctx context.Context) error
	Close() error
}
