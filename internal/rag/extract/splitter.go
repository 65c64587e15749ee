// Package extract turns uploaded files and web pages into fragments.
package extract

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// DefaultSeparators are tried in priority order; "" splits between characters.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter is a recursive character splitter. Lengths are counted in runes.
type Splitter struct {
	chunkSize  int
	overlap    int
	separators []string
}

// SplitOption configures a Splitter.
type SplitOption func(*Splitter)

// WithChunkSize sets the maximum chunk length.
func WithChunkSize(n int) SplitOption {
	return func(s *Splitter) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithChunkOverlap sets how many trailing characters of a chunk may repeat at
// the start of the next one.
func WithChunkOverlap(n int) SplitOption {
	return func(s *Splitter) {
		if n >= 0 {
			s.overlap = n
		}
	}
}

// WithSeparators overrides the separator hierarchy.
func WithSeparators(seps []string) SplitOption {
	return func(s *Splitter) {
		if len(seps) > 0 {
			s.separators = seps
		}
	}
}

// NewSplitter creates a splitter with the default chunk size, overlap and separators.
func NewSplitter(opts ...SplitOption) *Splitter {
	s := &Splitter{
		chunkSize:  DefaultChunkSize,
		overlap:    DefaultChunkOverlap,
		separators: DefaultSeparators,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.overlap >= s.chunkSize {
		s.overlap = min(DefaultChunkOverlap, s.chunkSize-1)
	}
	return s
}

// SplitText splits text with a splitter built from opts.
func SplitText(text string, opts ...SplitOption) []string {
	return NewSplitter(opts...).Split(text)
}

// Split returns whitespace-trimmed, non-empty chunks of at most chunkSize runes.
func (s *Splitter) Split(text string) []string {
	return s.split(text, s.separators)
}

func (s *Splitter) split(text string, separators []string) []string {
	// pick the first separator present in text
	separator := separators[len(separators)-1]
	var rest []string
	for i, sep := range separators {
		if sep == "" {
			separator = ""
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	var pieces []string
	if separator == "" {
		pieces = strings.Split(text, "")
	} else {
		pieces = strings.Split(text, separator)
	}

	var (
		out  []string
		good []string
	)
	for _, p := range pieces {
		if p == "" {
			continue
		}
		if utf8.RuneCountInString(p) < s.chunkSize {
			good = append(good, p)
			continue
		}
		if len(good) > 0 {
			out = append(out, s.merge(good, separator)...)
			good = nil
		}
		if len(rest) == 0 {
			out = append(out, s.hardSplit(p)...)
		} else {
			out = append(out, s.split(p, rest)...)
		}
	}
	if len(good) > 0 {
		out = append(out, s.merge(good, separator)...)
	}
	return out
}

// merge packs small pieces into chunks, carrying up to overlap characters of
// trailing pieces into the next chunk.
func (s *Splitter) merge(pieces []string, separator string) []string {
	sepLen := utf8.RuneCountInString(separator)
	var (
		out     []string
		current []string
		total   int
	)
	joinLen := func() int {
		if len(current) > 0 {
			return sepLen
		}
		return 0
	}

	for _, p := range pieces {
		n := utf8.RuneCountInString(p)
		if total+n+joinLen() > s.chunkSize && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, separator)); doc != "" {
				out = append(out, doc)
			}
			for total > s.overlap || (total+n+joinLen() > s.chunkSize && total > 0) {
				drop := utf8.RuneCountInString(current[0])
				if len(current) > 1 {
					drop += sepLen
				}
				total -= drop
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
		if len(current) > 1 {
			total += sepLen
		}
	}
	if doc := strings.TrimSpace(strings.Join(current, separator)); doc != "" {
		out = append(out, doc)
	}
	return out
}

// hardSplit cuts text into chunkSize windows when no separator applies.
func (s *Splitter) hardSplit(text string) []string {
	runes := []rune(text)
	var out []string
	for i := 0; i < len(runes); i += s.chunkSize {
		end := min(i+s.chunkSize, len(runes))
		if chunk := strings.TrimSpace(string(runes[i:end])); chunk != "" {
			out = append(out, chunk)
		}
	}
	return out
}
