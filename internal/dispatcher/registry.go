package dispatcher

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// Registry is the newline-delimited list of ingested URLs, in the order they
// were first added.
type Registry struct {
	// path is the registry file.
	path string

	// mu serialises read-modify-write cycles.
	mu sync.Mutex
}

// NewRegistry returns a Registry backed by path. The file is created lazily
// on the first Add.
func NewRegistry(path string) *Registry {
	return &Registry{path: path}
}

// Path returns the registry file location.
func (r *Registry) Path() string { return r.path }

// Add appends url unless it is already registered.
func (r *Registry) Add(url string) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	urls, err := r.read()
	if err != nil {
		return err
	}
	if slices.Contains(urls, url) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o750); err != nil {
		return fmt.Errorf("dispatcher: registry dir: %w", err)
	}
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("dispatcher: open registry: %w", err)
	}
	if _, err := f.WriteString(url + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("dispatcher: append registry: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("dispatcher: close registry: %w", err)
	}
	return nil
}

// List returns the registered URLs in insertion order.
func (r *Registry) List() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read()
}

// Contains reports whether url is registered.
func (r *Registry) Contains(url string) (bool, error) {
	urls, err := r.List()
	if err != nil {
		return false, err
	}
	return slices.Contains(urls, url), nil
}

func (r *Registry) read() ([]string, error) {
	f, err := os.Open(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dispatcher: open registry: %w", err)
	}
	defer f.Close()

	var urls []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			urls = append(urls, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("dispatcher: read registry: %w", err)
	}
	return urls, nil
}
