package dispatcher

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/54b3r/docchat-go/internal/apperr"
	"github.com/54b3r/docchat-go/internal/docref"
)

// Uploads is the directory uploaded files are kept in, under their original
// base names.
type Uploads struct {
	// dir holds the uploaded files.
	dir string
	// maxBytes caps a single upload; zero means unlimited.
	maxBytes int64
}

// NewUploads returns Uploads rooted at dir, creating the directory if needed.
// maxBytes <= 0 disables the size cap.
func NewUploads(dir string, maxBytes int64) (*Uploads, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("dispatcher: create upload dir %s: %w", dir, err)
	}
	return &Uploads{dir: dir, maxBytes: maxBytes}, nil
}

// Dir returns the upload directory.
func (u *Uploads) Dir() string { return u.dir }

// Path returns where name is (or would be) stored. Directory components of
// name are dropped.
func (u *Uploads) Path(name string) string {
	return filepath.Join(u.dir, filepath.Base(name))
}

// Exists reports whether name has been uploaded.
func (u *Uploads) Exists(name string) bool {
	info, err := os.Stat(u.Path(name))
	return err == nil && info.Mode().IsRegular()
}

// Save writes body to the upload directory as name, replacing any previous
// upload of that name, and returns the stored path.
func (u *Uploads) Save(name string, body io.Reader) (_ string, err error) {
	dst := u.Path(name)
	tmp, err := os.CreateTemp(u.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("dispatcher: save %s: %w", name, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	src := body
	if u.maxBytes > 0 {
		src = io.LimitReader(body, u.maxBytes+1)
	}
	n, err := io.Copy(tmp, src)
	if err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("dispatcher: save %s: %w", name, err)
	}
	if u.maxBytes > 0 && n > u.maxBytes {
		_ = tmp.Close()
		err = apperr.Precondition("dispatcher.Save", "%s exceeds the %d byte upload limit", name, u.maxBytes)
		return "", err
	}
	if err = tmp.Close(); err != nil {
		return "", fmt.Errorf("dispatcher: save %s: %w", name, err)
	}
	if err = os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("dispatcher: save %s: %w", name, err)
	}
	return dst, nil
}

// List returns the uploaded documents of a known type, sorted by name.
func (u *Uploads) List() ([]string, error) {
	entries, err := os.ReadDir(u.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dispatcher: list uploads: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if _, err := docref.File(e.Name()); err != nil {
			continue
		}
		names = append(names, e.Name())
	}
	slices.Sort(names)
	return names, nil
}
