// Package chunker splits extracted document text into overlapping chunks,
// preferring paragraph breaks, then line breaks, then spaces, and cutting
// mid-word only as a last resort. Lengths are counted in runes.
package chunker

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/54b3r/docchat-go/internal/apperr"
	"github.com/54b3r/docchat-go/internal/document"
)

// DefaultChunkSize is the default maximum chunk length.
const DefaultChunkSize = 2000

// DefaultChunkOverlap is the default overlap between consecutive chunks.
const DefaultChunkOverlap = 300

// separators in preference order; "" means split between every rune.
var separators = []string{"\n\n", "\n", " ", ""}

// Chunker is a recursive boundary-preference splitter. It is safe for
// concurrent use.
type Chunker struct {
	size    int
	overlap int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithChunkSize sets the maximum chunk length.
func WithChunkSize(size int) Option {
	return func(c *Chunker) { c.size = size }
}

// WithOverlap sets the overlap between consecutive chunks.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) { c.overlap = overlap }
}

// New builds a Chunker. Size must be positive and overlap must be in
// [0, size).
func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{size: DefaultChunkSize, overlap: DefaultChunkOverlap}
	for _, opt := range opts {
		opt(c)
	}
	if c.size <= 0 {
		return nil, apperr.Precondition("chunker.New", "chunk size must be positive, got %d", c.size)
	}
	if c.overlap < 0 || c.overlap >= c.size {
		return nil, apperr.Precondition("chunker.New", "chunk overlap %d must be in [0, %d)", c.overlap, c.size)
	}
	return c, nil
}

// Size returns the configured maximum chunk length.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// Split chunks every input segment. Each chunk inherits its segment's
// metadata plus a chunk_index numbered across the whole output.
func (c *Chunker) Split(segments []document.Segment) []document.Segment {
	var out []document.Segment
	for _, seg := range segments {
		for _, text := range c.SplitText(seg.Text) {
			chunk := seg.Clone()
			if chunk.Metadata == nil {
				chunk.Metadata = make(map[string]string, 1)
			}
			chunk.Text = text
			chunk.Metadata[document.MetaChunkIndex] = strconv.Itoa(len(out))
			out = append(out, chunk)
		}
	}
	return out
}

// SplitText splits a single text. The result never contains empty or
// whitespace-only chunks.
func (c *Chunker) SplitText(text string) []string {
	return c.split(text, separators)
}

func (c *Chunker) split(text string, seps []string) []string {
	sep, rest := pickSeparator(text, seps)

	var (
		final []string
		small []string
	)
	for _, piece := range splitKeep(text, sep) {
		if runeLen(piece) < c.size {
			small = append(small, piece)
			continue
		}
		if len(small) > 0 {
			final = append(final, c.merge(small)...)
			small = nil
		}
		if len(rest) == 0 {
			if s := strings.TrimSpace(piece); s != "" {
				final = append(final, s)
			}
			continue
		}
		final = append(final, c.split(piece, rest)...)
	}
	if len(small) > 0 {
		final = append(final, c.merge(small)...)
	}
	return final
}

// merge greedily packs pieces (each shorter than size) into chunks of at most
// size runes, carrying up to overlap runes of trailing pieces into the next
// chunk.
func (c *Chunker) merge(pieces []string) []string {
	var (
		out     []string
		current []string
		total   int
	)
	for _, p := range pieces {
		n := runeLen(p)
		if total+n > c.size && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
				out = append(out, doc)
			}
			for len(current) > 0 && (total > c.overlap || total+n > c.size) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
	}
	if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
		out = append(out, doc)
	}
	return out
}

// pickSeparator returns the first separator present in text (or the final
// "" fallback) and the finer separators after it.
func pickSeparator(text string, seps []string) (string, []string) {
	for i, s := range seps {
		if s == "" || strings.Contains(text, s) {
			return s, seps[i+1:]
		}
	}
	return "", nil
}

// splitKeep splits text on sep, keeping each separator at the start of the
// piece that follows it. Empty pieces are dropped.
func splitKeep(text, sep string) []string {
	if sep == "" {
		out := make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}
	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	for i, p := range parts {
		if i > 0 {
			p = sep + p
		}
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
