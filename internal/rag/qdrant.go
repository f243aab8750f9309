package rag

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/docchat-go/internal/apperr"
	"github.com/54b3r/docchat-go/internal/document"
	"github.com/54b3r/docchat-go/internal/logging"
)

// payloadText is the payload field holding the segment body. Every other
// payload field is segment metadata.
const payloadText = "text"

// QdrantConfig holds connection parameters for a Qdrant instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string
	// Port is the Qdrant gRPC port (default: 6334).
	Port int
	// APIKey is the optional API key for authenticated clusters.
	APIKey string
	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
	// BatchSize is the number of texts per embedding request and points per
	// upsert.
	BatchSize int
}

// QdrantStore is an Index with one Qdrant collection per collection key.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client
	// embedder embeds segments and queries.
	embedder Embedder
	// batchSize bounds embedding requests and upserts.
	batchSize int
}

// NewQdrantStore connects to Qdrant. No collection is created until Create.
func NewQdrantStore(cfg *QdrantConfig, embedder Embedder) (*QdrantStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("qdrant: embedder must not be nil")
	}
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 6334
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}
	return &QdrantStore{client: client, embedder: embedder, batchSize: batch}, nil
}

// Ping checks the server is reachable.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check failed: %w", err)
	}
	return nil
}

// Close closes the underlying gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// Exists implements Index: the collection exists and holds at least one point.
func (s *QdrantStore) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.CollectionExists(ctx, key)
	if err != nil {
		return false, apperr.Storage("rag.Exists", fmt.Errorf("qdrant: collection exists %q: %w", key, err))
	}
	if !ok {
		return false, nil
	}
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: key,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return false, apperr.Storage("rag.Exists", fmt.Errorf("qdrant: count %q: %w", key, err))
	}
	return n > 0, nil
}

// Create implements Index. A previous collection under key is dropped first;
// if any step fails the half-written collection is deleted.
func (s *QdrantStore) Create(ctx context.Context, key string, segments []document.Segment) (_ Collection, err error) {
	if len(segments) == 0 {
		return nil, apperr.Precondition("rag.Create", "no segments to index for %q", key)
	}
	log := logging.FromContext(ctx)
	start := time.Now()

	vecs, err := embedSegments(ctx, s.embedder, segments, s.batchSize)
	if err != nil {
		return nil, err
	}

	if err := s.drop(ctx, key); err != nil {
		return nil, apperr.Storage("rag.Create", err)
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: key,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(len(vecs[0])),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return nil, apperr.Storage("rag.Create", fmt.Errorf("qdrant: create collection %q: %w", key, err))
	}
	defer func() {
		if err != nil {
			if dropErr := s.drop(context.WithoutCancel(ctx), key); dropErr != nil {
				log.Warn("qdrant: failed to remove partial collection", slog.Any("error", dropErr))
			}
		}
	}()

	for i := 0; i < len(segments); i += s.batchSize {
		end := min(i+s.batchSize, len(segments))
		points := make([]*qdrant.PointStruct, 0, end-i)
		for j := i; j < end; j++ {
			payload := map[string]any{payloadText: segments[j].Text}
			for k, v := range segments[j].Metadata {
				payload[k] = v
			}
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(uuid.NewString()),
				Vectors: qdrant.NewVectors(vecs[j]...),
				Payload: qdrant.NewValueMap(payload),
			})
		}
		_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: key,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		if err != nil {
			return nil, apperr.Storage("rag.Create", fmt.Errorf("qdrant: upsert into %q: %w", key, err))
		}
	}

	log.Info("rag: qdrant collection created",
		slog.Int("chunks", len(segments)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return &qdrantCollection{store: s, key: key}, nil
}

// drop deletes key's collection if it exists.
func (s *QdrantStore) drop(ctx context.Context, key string) error {
	ok, err := s.client.CollectionExists(ctx, key)
	if err != nil {
		return fmt.Errorf("qdrant: collection exists %q: %w", key, err)
	}
	if !ok {
		return nil
	}
	if err := s.client.DeleteCollection(ctx, key); err != nil {
		return fmt.Errorf("qdrant: delete collection %q: %w", key, err)
	}
	return nil
}

// Load implements Index.
func (s *QdrantStore) Load(ctx context.Context, key string) (Collection, error) {
	ok, err := s.Exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("rag.Load", "collection %q does not exist", key)
	}
	return &qdrantCollection{store: s, key: key}, nil
}

// qdrantCollection queries one Qdrant collection.
type qdrantCollection struct {
	store *QdrantStore
	key   string
}

// Key implements Collection.
func (c *qdrantCollection) Key() string { return c.key }

// Retrieve implements Collection.
func (c *qdrantCollection) Retrieve(ctx context.Context, query string, k int) ([]document.Segment, error) {
	limit := uint64(normalizeK(k))
	q, err := embedQuery(ctx, c.store.embedder, query)
	if err != nil {
		return nil, err
	}

	results, err := c.store.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: c.key,
		Query:          qdrant.NewQuery(q...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, apperr.Provider("rag.Retrieve", fmt.Errorf("qdrant: search %q: %w", c.key, err))
	}

	out := make([]document.Segment, 0, len(results))
	for _, r := range results {
		seg := document.Segment{Metadata: make(map[string]string, len(r.Payload))}
		for k, v := range r.Payload {
			if k == payloadText {
				seg.Text = v.GetStringValue()
				continue
			}
			seg.Metadata[k] = v.GetStringValue()
		}
		out = append(out, seg)
	}
	return out, nil
}
