package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
)

// HashEmbedder is an offline bag-of-words embedder: tokens are hashed into a
// fixed number of buckets and the vector is L2-normalized. Output is
// deterministic and needs no corpus.
type HashEmbedder struct {
	dimension    int
	tokenPattern *regexp.Regexp
	stopwords    map[string]struct{}
}

var _ embedding.Embedder = (*HashEmbedder)(nil)

// NewHashEmbedder creates a HashEmbedder producing vectors of the given dimension.
func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &HashEmbedder{
		dimension:    dimension,
		tokenPattern: regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`),
		stopwords:    defaultStopwords(),
	}
}

// Dimension returns the size of produced vectors.
func (e *HashEmbedder) Dimension() int { return e.dimension }

// EmbedStrings embeds each text independently.
func (e *HashEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = e.embed(t)
	}
	return out, nil
}

func (e *HashEmbedder) embed(text string) []float64 {
	vec := make([]float64, e.dimension)
	for _, tok := range e.tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum64()%uint64(e.dimension)]++
	}

	norm := 0.0
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}

func (e *HashEmbedder) tokenize(text string) []string {
	raw := e.tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, isStop := e.stopwords[t]; isStop {
			continue
		}
		out = append(out, t)
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by",
		"with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those",
		"from", "what", "which", "who", "how", "do", "does", "did", "so", "into", "about", "can", "will",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
