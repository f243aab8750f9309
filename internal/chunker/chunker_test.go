package chunker

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/docchat-go/internal/apperr"
	"github.com/54b3r/docchat-go/internal/document"
)

// corpus builds text with unique words so that any shared suffix/prefix
// between chunks is real overlap, not coincidence.
func corpus(paragraphs, linesPer, wordsPer int) string {
	var b strings.Builder
	n := 0
	for p := 0; p < paragraphs; p++ {
		if p > 0 {
			b.WriteString("\n\n")
		}
		for l := 0; l < linesPer; l++ {
			if l > 0 {
				b.WriteString("\n")
			}
			for w := 0; w < wordsPer; w++ {
				if w > 0 {
					b.WriteString(" ")
				}
				fmt.Fprintf(&b, "w%05d", n)
				n++
			}
		}
	}
	return b.String()
}

// sharedEdge returns the length of the longest suffix of a that is a prefix of b.
func sharedEdge(a, b string) int {
	ar, br := []rune(a), []rune(b)
	maxK := min(len(ar), len(br))
	for k := maxK; k > 0; k-- {
		if string(ar[len(ar)-k:]) == string(br[:k]) {
			return k
		}
	}
	return 0
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	c, err := New()
	require.NoError(t, err)
	assert.Equal(t, DefaultChunkSize, c.Size())
	assert.Equal(t, DefaultChunkOverlap, c.Overlap())
}

func TestNew_RejectsBadBounds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		size, overlap int
	}{
		{"zero size", 0, 0},
		{"negative overlap", 100, -1},
		{"overlap equals size", 100, 100},
		{"overlap exceeds size", 100, 150},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(WithChunkSize(tt.size), WithOverlap(tt.overlap))
			require.Error(t, err)
			assert.ErrorIs(t, err, apperr.ErrPrecondition)
		})
	}
}

func TestSplitText_ShortTextSingleChunk(t *testing.T) {
	t.Parallel()

	c, err := New()
	require.NoError(t, err)
	assert.Equal(t, []string{"hello world"}, c.SplitText("  hello world \n"))
	assert.Empty(t, c.SplitText(""))
	assert.Empty(t, c.SplitText(" \n\n \n"))
}

func TestSplitText_Bounds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		text          string
		size, overlap int
	}{
		{"paragraphs", corpus(12, 4, 10), 300, 50},
		{"single long line", corpus(1, 1, 500), 200, 40},
		{"no overlap", corpus(5, 5, 12), 250, 0},
		{"defaults", corpus(40, 6, 15), DefaultChunkSize, DefaultChunkOverlap},
		{"hard cut", strings.Repeat("abcdefghij", 70), 64, 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, err := New(WithChunkSize(tt.size), WithOverlap(tt.overlap))
			require.NoError(t, err)

			chunks := c.SplitText(tt.text)
			require.NotEmpty(t, chunks)
			for i, ch := range chunks {
				assert.NotEmpty(t, strings.TrimSpace(ch), "chunk %d empty", i)
				assert.LessOrEqual(t, utf8.RuneCountInString(ch), tt.size, "chunk %d too long", i)
			}
			if tt.name == "hard cut" {
				return // repeated text makes edge matching meaningless
			}
			for i := 1; i < len(chunks); i++ {
				assert.LessOrEqual(t, sharedEdge(chunks[i-1], chunks[i]), tt.overlap, "chunks %d/%d", i-1, i)
			}
		})
	}
}

func TestSplitText_PrefersParagraphBoundaries(t *testing.T) {
	t.Parallel()

	p1 := strings.Repeat("alpha ", 30)
	p2 := strings.Repeat("beta ", 30)
	c, err := New(WithChunkSize(200), WithOverlap(0))
	require.NoError(t, err)

	chunks := c.SplitText(p1 + "\n\n" + p2)
	require.Len(t, chunks, 2)
	assert.Equal(t, strings.TrimSpace(p1), chunks[0])
	assert.Equal(t, strings.TrimSpace(p2), chunks[1])
}

func TestSplitText_CoversAllWords(t *testing.T) {
	t.Parallel()

	text := corpus(6, 3, 20)
	c, err := New(WithChunkSize(120), WithOverlap(30))
	require.NoError(t, err)

	joined := strings.Join(c.SplitText(text), " ")
	for _, w := range strings.Fields(text) {
		assert.Contains(t, joined, w)
	}
}

func TestSplitText_MultibyteRunes(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("日本語のテキスト", 50)
	c, err := New(WithChunkSize(40), WithOverlap(8))
	require.NoError(t, err)

	for _, ch := range c.SplitText(text) {
		assert.True(t, utf8.ValidString(ch))
		assert.LessOrEqual(t, utf8.RuneCountInString(ch), 40)
	}
}

func TestSplit_MetadataAndIndex(t *testing.T) {
	t.Parallel()

	c, err := New(WithChunkSize(100), WithOverlap(10))
	require.NoError(t, err)

	in := []document.Segment{
		{Text: corpus(3, 2, 10), Metadata: map[string]string{document.MetaSource: "a.pdf", document.MetaPage: "1"}},
		{Text: corpus(3, 2, 10), Metadata: map[string]string{document.MetaSource: "a.pdf", document.MetaPage: "2"}},
	}
	out := c.Split(in)
	require.Greater(t, len(out), 2)

	for i, seg := range out {
		assert.Equal(t, fmt.Sprint(i), seg.Metadata[document.MetaChunkIndex])
		assert.Equal(t, "a.pdf", seg.Source())
	}
	assert.Equal(t, "1", out[0].Metadata[document.MetaPage])
	assert.Equal(t, "2", out[len(out)-1].Metadata[document.MetaPage])

	_, leaked := in[0].Metadata[document.MetaChunkIndex]
	assert.False(t, leaked, "input metadata must not be mutated")
}
