package dispatcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_MissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	r := NewRegistry(filepath.Join(t.TempDir(), "nested", "saved_urls.txt"))
	urls, err := r.List()
	require.NoError(t, err)
	assert.Empty(t, urls)

	ok, err := r.Contains("https://example.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistry_AddDedupesAndKeepsOrder(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "saved_urls.txt")
	r := NewRegistry(path)

	for _, u := range []string{"https://b.example", "https://a.example", " https://b.example ", "", "https://c.example"} {
		require.NoError(t, r.Add(u))
	}

	urls, err := r.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://b.example", "https://a.example", "https://c.example"}, urls)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "https://b.example\nhttps://a.example\nhttps://c.example\n", string(raw))
}

func TestRegistry_SkipsBlankLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "saved_urls.txt")
	require.NoError(t, os.WriteFile(path, []byte("https://a.example\n\n  \nhttps://b.example\n"), 0o600))

	urls, err := NewRegistry(path).List()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, urls)
}

func TestRegistry_ConcurrentAdds(t *testing.T) {
	t.Parallel()

	r := NewRegistry(filepath.Join(t.TempDir(), "saved_urls.txt"))

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Add(fmt.Sprintf("https://site%d.example", i%5)))
		}()
	}
	wg.Wait()

	urls, err := r.List()
	require.NoError(t, err)
	assert.Len(t, urls, 5)
}
