package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/54b3r/docchat-go/internal/apperr"
	"github.com/54b3r/docchat-go/internal/document"
	"github.com/54b3r/docchat-go/internal/logging"
)

// indexFile is the data file inside each collection directory.
const indexFile = "index.json"

// localFile is the on-disk layout of one collection.
type localFile struct {
	// Model is the embedding model that produced the vectors.
	Model string `json:"model"`
	// Dimension is the vector length.
	Dimension int `json:"dimension"`
	// CreatedAt is when the collection was written.
	CreatedAt time.Time `json:"created_at"`
	// Segments holds the embedded segments.
	Segments []localItem `json:"segments"`
}

// localItem is one embedded segment.
type localItem struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Vector   []float32         `json:"vector"`
}

// LocalStore is an Index that keeps each collection in its own directory,
// <root>/<key>/index.json, and searches it in memory by brute force.
// Opened collections are cached until the key is recreated.
type LocalStore struct {
	// root is the parent directory of every collection.
	root string
	// embedder embeds segments on create and queries on retrieve.
	embedder Embedder
	// batchSize is the number of texts per embedding request.
	batchSize int

	// mu guards cache.
	mu sync.Mutex
	// cache holds opened collections by key.
	cache map[string]*localCollection
}

// LocalOption configures a LocalStore.
type LocalOption func(*LocalStore)

// WithBatchSize sets the number of texts per embedding request.
func WithBatchSize(n int) LocalOption {
	return func(s *LocalStore) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// NewLocalStore creates root if needed and returns a LocalStore over it.
func NewLocalStore(root string, embedder Embedder, opts ...LocalOption) (*LocalStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, apperr.Storage("rag.NewLocalStore", err)
	}
	s := &LocalStore{
		root:      root,
		embedder:  embedder,
		batchSize: DefaultBatchSize,
		cache:     make(map[string]*localCollection),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the directory holding every collection.
func (s *LocalStore) Root() string { return s.root }

// dir returns the directory for key.
func (s *LocalStore) dir(key string) string { return filepath.Join(s.root, key) }

// Exists implements Index. A directory with no entries does not count.
func (s *LocalStore) Exists(_ context.Context, key string) (bool, error) {
	entries, err := os.ReadDir(s.dir(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Storage("rag.Exists", err)
	}
	return len(entries) > 0, nil
}

// Create implements Index. Segments are embedded and written to a temporary
// sibling directory which is renamed into place only once the data file is
// synced, so a failure at any step leaves nothing at key.
func (s *LocalStore) Create(ctx context.Context, key string, segments []document.Segment) (Collection, error) {
	if len(segments) == 0 {
		return nil, apperr.Precondition("rag.Create", "no segments to index for %q", key)
	}
	log := logging.FromContext(ctx)
	start := time.Now()

	vecs, err := embedSegments(ctx, s.embedder, segments, s.batchSize)
	if err != nil {
		return nil, err
	}

	data := localFile{
		Model:     s.embedder.Model(),
		Dimension: len(vecs[0]),
		CreatedAt: time.Now().UTC(),
		Segments:  make([]localItem, len(segments)),
	}
	for i, seg := range segments {
		data.Segments[i] = localItem{
			ID:       uuid.NewString(),
			Text:     seg.Text,
			Metadata: seg.Metadata,
			Vector:   vecs[i],
		}
	}

	if err := s.writeAtomic(key, &data); err != nil {
		return nil, apperr.Storage("rag.Create", err)
	}

	coll := newLocalCollection(key, s.embedder, &data)
	s.mu.Lock()
	s.cache[key] = coll
	s.mu.Unlock()

	log.Info("rag: collection created",
		slog.Int("chunks", len(segments)),
		slog.Int("dimension", data.Dimension),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return coll, nil
}

// writeAtomic writes data under a temp directory and renames it to key's
// directory, replacing any previous one.
func (s *LocalStore) writeAtomic(key string, data *localFile) (err error) {
	tmp, err := os.MkdirTemp(s.root, "."+key+"-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(tmp)
		}
	}()

	f, err := os.OpenFile(filepath.Join(tmp, indexFile), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	if err := json.NewEncoder(f).Encode(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode index: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync index: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}

	final := s.dir(key)
	if err := os.RemoveAll(final); err != nil {
		return fmt.Errorf("remove previous collection: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("rename collection into place: %w", err)
	}
	return nil
}

// Load implements Index.
func (s *LocalStore) Load(ctx context.Context, key string) (Collection, error) {
	s.mu.Lock()
	if c, ok := s.cache[key]; ok {
		s.mu.Unlock()
		return c, nil
	}
	s.mu.Unlock()

	ok, err := s.Exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("rag.Load", "collection %q does not exist", key)
	}

	raw, err := os.ReadFile(filepath.Join(s.dir(key), indexFile))
	if err != nil {
		return nil, apperr.Storage("rag.Load", err)
	}
	var data localFile
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, apperr.Storage("rag.Load", fmt.Errorf("decode %s: %w", key, err))
	}
	if m := s.embedder.Model(); data.Model != "" && m != "" && data.Model != m {
		logging.FromContext(ctx).Warn("rag: collection was embedded with a different model",
			slog.String("stored_model", data.Model),
			slog.String("current_model", m),
		)
	}

	coll := newLocalCollection(key, s.embedder, &data)
	s.mu.Lock()
	s.cache[key] = coll
	s.mu.Unlock()
	return coll, nil
}

// localCollection is an in-memory view of one index.json.
type localCollection struct {
	key      string
	embedder Embedder
	dim      int
	items    []localItem
	norms    []float64
}

func newLocalCollection(key string, e Embedder, data *localFile) *localCollection {
	norms := make([]float64, len(data.Segments))
	for i, it := range data.Segments {
		norms[i] = norm(it.Vector)
	}
	return &localCollection{key: key, embedder: e, dim: data.Dimension, items: data.Segments, norms: norms}
}

// Key implements Collection.
func (c *localCollection) Key() string { return c.key }

// Retrieve implements Collection.
func (c *localCollection) Retrieve(ctx context.Context, query string, k int) ([]document.Segment, error) {
	k = normalizeK(k)
	q, err := embedQuery(ctx, c.embedder, query)
	if err != nil {
		return nil, err
	}
	if len(q) != c.dim {
		return nil, apperr.Provider("rag.Retrieve",
			fmt.Errorf("query vector has dimension %d, collection %q has %d; was the embedding model changed?", len(q), c.key, c.dim))
	}

	type hit struct {
		idx   int
		score float64
	}
	qn := norm(q)
	hits := make([]hit, len(c.items))
	for i, it := range c.items {
		hits[i] = hit{idx: i, score: cosine(q, it.Vector, qn, c.norms[i])}
	}
	slices.SortStableFunc(hits, func(a, b hit) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		default:
			return 0
		}
	})

	n := min(k, len(hits))
	out := make([]document.Segment, n)
	for i := range n {
		it := c.items[hits[i].idx]
		out[i] = document.Segment{Text: it.Text, Metadata: it.Metadata}.Clone()
	}
	return out, nil
}
