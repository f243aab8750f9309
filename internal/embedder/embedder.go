// Package embedder converts text into dense vectors for the embedding index.
// Backends talk plain HTTP to Ollama (/api/embed) or to the OpenAI / Azure
// OpenAI embeddings API; no SDKs are needed for either.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Embedder is satisfied by every backend in this package. It matches
// rag.Embedder structurally.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Model names the embedding model, recorded alongside stored vectors.
	Model() string
}

// postJSON sends body to url and decodes a JSON response into out. Non-2xx
// statuses are returned as errors carrying errMsg(out) when it is non-empty.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body, out any, errMsg func() string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	decodeErr := json.Unmarshal(raw, out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil {
			if msg := errMsg(); msg != "" {
				return fmt.Errorf("HTTP %d: %s", resp.StatusCode, msg)
			}
		}
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return fmt.Errorf("decode response: %w", decodeErr)
	}
	return nil
}
