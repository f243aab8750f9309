package rag

import (
	"context"
	"fmt"
	"math"

	"github.com/54b3r/docchat-go/internal/apperr"
	"github.com/54b3r/docchat-go/internal/document"
)

// embedQuery embeds a single query string.
func embedQuery(ctx context.Context, e Embedder, query string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{query})
	if err != nil {
		return nil, apperr.Provider("rag.Retrieve", fmt.Errorf("embedding query failed: %w", err))
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, apperr.Provider("rag.Retrieve", fmt.Errorf("embedder returned empty result for query"))
	}
	return vecs[0], nil
}

// embedSegments embeds every segment's text in batches of batchSize. Every
// returned vector has the same dimension.
func embedSegments(ctx context.Context, e Embedder, segments []document.Segment, batchSize int) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	out := make([][]float32, 0, len(segments))
	for start := 0; start < len(segments); start += batchSize {
		end := min(start+batchSize, len(segments))
		texts := make([]string, 0, end-start)
		for _, s := range segments[start:end] {
			texts = append(texts, s.Text)
		}

		vecs, err := e.Embed(ctx, texts)
		if err != nil {
			return nil, apperr.Provider("rag.Create", fmt.Errorf("embedding batch %d-%d failed: %w", start, end, err))
		}
		if len(vecs) != len(texts) {
			return nil, apperr.Provider("rag.Create", fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts)))
		}
		out = append(out, vecs...)
	}

	if len(out) == 0 {
		return nil, nil
	}
	dim := len(out[0])
	for i, v := range out {
		if len(v) != dim || dim == 0 {
			return nil, apperr.Provider("rag.Create", fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), dim))
		}
	}
	return out, nil
}

// normalizeK applies the DefaultTopK fallback.
func normalizeK(k int) int {
	if k <= 0 {
		return DefaultTopK
	}
	return k
}

// norm returns the Euclidean length of v.
func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// cosine returns the cosine similarity of a and b given their norms. Zero
// vectors score 0.
func cosine(a, b []float32, na, nb float64) float64 {
	if na == 0 || nb == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (na * nb)
}
