package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/docchat-go/internal/logging"
)

func TestOllamaEmbedder_Embed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)

		out := ollamaEmbedResponse{}
		for i := range req.Input {
			out.Embeddings = append(out.Embeddings, []float32{float32(i), 1})
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)

	e := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL + "/", Model: "nomic-embed-text"})
	vecs, err := e.Embed(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, []float32{2, 1}, vecs[2])
	assert.Equal(t, "nomic-embed-text", e.Model())
}

func TestOllamaEmbedder_ErrorBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model \"nope\" not found"}`))
	}))
	t.Cleanup(srv.Close)

	_, err := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "nope"}).Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `model "nope" not found`)
}

func TestOpenAIEmbedder_ReordersByIndex(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
	}))
	t.Cleanup(srv.Close)

	e := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "sk-test", Model: "text-embedding-3-large"})
	vecs, err := e.Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
}

func TestOpenAIEmbedder_Azure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openai/deployments/embed-prod/embeddings", r.URL.Path)
		assert.Equal(t, "2024-10-21", r.URL.Query().Get("api-version"))
		assert.Equal(t, "azure-key", r.Header.Get("api-key"))
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0.5]}]}`))
	}))
	t.Cleanup(srv.Close)

	e, err := New(Config{
		Backend: "azure", Endpoint: srv.URL, APIKey: "azure-key",
		Model: "embed-prod", APIVersion: "2024-10-21",
	}, logging.Discard())
	require.NoError(t, err)

	vecs, err := e.Embed(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.5}}, vecs)
}

func TestOpenAIEmbedder_CountMismatch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	t.Cleanup(srv.Close)

	_, err := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"}).
		Embed(context.Background(), []string{"x"})
	require.Error(t, err)
}

func TestConfigFromEnv_Inheritance(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "")
	t.Setenv("MODEL_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-chat")
	t.Setenv("EMBEDDING_API_KEY", "")
	t.Setenv("EMBEDDING_MODEL", "")
	t.Setenv("EMBEDDING_DIMENSIONS", "")
	t.Setenv("EMBEDDING_ENDPOINT", "")
	t.Setenv("OPENAI_BASE_URL", "")

	cfg := ConfigFromEnv()
	assert.Equal(t, "openai", cfg.Backend)
	assert.Equal(t, "sk-chat", cfg.APIKey)
	assert.Equal(t, defaultOpenAIModel, cfg.Model)
	assert.Equal(t, defaultOpenAIDimensions, cfg.Dimensions)
	assert.Equal(t, "https://api.openai.com/v1", cfg.Endpoint)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	log := logging.Discard()
	assert.NoError(t, Config{Backend: "ollama", Model: "nomic-embed-text"}.Validate(log))
	assert.Error(t, Config{Backend: "openai"}.Validate(log))
	assert.Error(t, Config{Backend: "azure", APIKey: "k"}.Validate(log))
	assert.Error(t, Config{Backend: "bedrock"}.Validate(log))
}

func TestLooksLikeChatModel(t *testing.T) {
	t.Parallel()

	assert.True(t, looksLikeChatModel("gpt-4o-mini"))
	assert.True(t, looksLikeChatModel("llama3:8b"))
	assert.False(t, looksLikeChatModel("nomic-embed-text"))
	assert.False(t, looksLikeChatModel("text-embedding-3-large"))
	assert.False(t, looksLikeChatModel("mxbai-embed-large"))
}
