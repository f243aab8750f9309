//go:build integration

package rag

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/docchat-go/internal/apperr"
	"github.com/54b3r/docchat-go/internal/document"
	"github.com/54b3r/docchat-go/internal/llmtest"
)

// newQdrantIntegration connects to a running Qdrant and skips when none
// answers.
//
//	docker run -p 6334:6334 qdrant/qdrant
//	go test -tags=integration -run TestQdrantStore ./internal/rag/
func newQdrantIntegration(t *testing.T, batch int) (*QdrantStore, *llmtest.Embedder) {
	t.Helper()
	host := os.Getenv("QDRANT_HOST")
	if host == "" {
		host = "localhost"
	}
	port := 6334
	if p := os.Getenv("QDRANT_PORT"); p != "" {
		n, err := strconv.Atoi(p)
		require.NoError(t, err)
		port = n
	}

	emb := &llmtest.Embedder{}
	s, err := NewQdrantStore(&QdrantConfig{
		Host:      host,
		Port:      port,
		APIKey:    os.Getenv("QDRANT_API_KEY"),
		BatchSize: batch,
	}, emb)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Ping(ctx); err != nil {
		t.Skipf("qdrant not reachable at %s:%d: %v", host, port, err)
	}
	return s, emb
}

// uniqueKey returns a collection name that is removed when the test ends.
func uniqueKey(t *testing.T, s *QdrantStore) string {
	t.Helper()
	key := "docchat_it_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	t.Cleanup(func() { _ = s.drop(context.Background(), key) })
	return key
}

func TestQdrantStore_CreateLoadRetrieve(t *testing.T) {
	s, _ := newQdrantIntegration(t, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	key := uniqueKey(t, s)

	ok, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Load(ctx, key)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	segments := []document.Segment{
		{Text: "quarterly revenue grew in the north region", Metadata: map[string]string{document.MetaSource: "report.txt", document.MetaPage: "1"}},
		{Text: "headcount stayed flat across the company", Metadata: map[string]string{document.MetaSource: "report.txt", document.MetaPage: "2"}},
		{Text: "the west region opened two stores", Metadata: map[string]string{document.MetaSource: "report.txt", document.MetaPage: "3"}},
	}
	_, err = s.Create(ctx, key, segments)
	require.NoError(t, err)

	ok, err = s.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	coll, err := s.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, key, coll.Key())

	got, err := coll.Retrieve(ctx, "how did revenue change in the north", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, segments[0].Text, got[0].Text)
	assert.Equal(t, "report.txt", got[0].Source())
	assert.Equal(t, "1", got[0].Metadata[document.MetaPage])
}

func TestQdrantStore_CreateReplacesPrevious(t *testing.T) {
	s, _ := newQdrantIntegration(t, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	key := uniqueKey(t, s)

	_, err := s.Create(ctx, key, []document.Segment{{Text: "old text about budgets"}})
	require.NoError(t, err)
	coll, err := s.Create(ctx, key, []document.Segment{{Text: "new text about hiring"}})
	require.NoError(t, err)

	got, err := coll.Retrieve(ctx, "budgets", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new text about hiring", got[0].Text)
}

func TestQdrantStore_FailedUpsertDropsCollection(t *testing.T) {
	s, _ := newQdrantIntegration(t, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	key := uniqueKey(t, s)

	// The first batch is stored; the second carries invalid UTF-8, which the
	// gRPC encoder refuses, so the upsert fails after the collection exists.
	_, err := s.Create(ctx, key, []document.Segment{
		{Text: "quarterly revenue grew"},
		{Text: "broken revenue \xff\xfe payload"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrStorage))

	ok, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
	exists, err := s.client.CollectionExists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists, "partial collection must be removed")
}

func TestQdrantStore_EmbeddingFailureCreatesNothing(t *testing.T) {
	s, emb := newQdrantIntegration(t, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	key := uniqueKey(t, s)

	emb.Fail.Store(true)
	_, err := s.Create(ctx, key, []document.Segment{{Text: "anything"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrProvider))

	exists, err := s.client.CollectionExists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)
}
