package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/docchat-go/internal/apperr"
	"github.com/54b3r/docchat-go/internal/docref"
	"github.com/54b3r/docchat-go/internal/document"
)

func mustRef(t *testing.T, raw string) docref.Ref {
	t.Helper()
	ref, err := docref.Parse(raw)
	require.NoError(t, err)
	return ref
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0o600))
	return p
}

// buildDOCX creates a minimal docx archive around body.
func buildDOCX(t *testing.T, body string) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)
	f, err := w.Create("word/document.xml")
	require.NoError(t, err)
	_, err = f.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` + body + `</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestExtract_TXT(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "notes.txt", []byte("\xEF\xBB\xBFfirst line\nsecond line"))
	segs, err := NewLoader(Config{}).Extract(context.Background(), Source{Ref: mustRef(t, "notes.txt"), Path: path})
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, "first line\nsecond line", segs[0].Text)
	assert.Equal(t, path, segs[0].Source())
	assert.Equal(t, "txt", segs[0].Metadata[document.MetaType])
}

func TestExtract_BlankTXTYieldsNoSegments(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "blank.txt", []byte("  \n\n "))
	segs, err := NewLoader(Config{}).Extract(context.Background(), Source{Ref: mustRef(t, "blank.txt"), Path: path})
	require.NoError(t, err)
	assert.Empty(t, segs)
}

func TestExtract_DOCX(t *testing.T) {
	t.Parallel()

	body := `<w:p><w:r><w:t>Quarterly</w:t></w:r><w:r><w:t xml:space="preserve"> report</w:t></w:r></w:p>` +
		`<w:p><w:r><w:t>Revenue grew.</w:t></w:r></w:p>`
	path := writeFile(t, "q3.docx", buildDOCX(t, body))

	segs, err := NewLoader(Config{}).Extract(context.Background(), Source{Ref: mustRef(t, "q3.docx"), Path: path})
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, "Quarterly report\nRevenue grew.", segs[0].Text)
	assert.Equal(t, "docx", segs[0].Metadata[document.MetaType])
}

func TestExtract_DOCXNotZip(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "broken.docx", []byte("not a zip"))
	_, err := NewLoader(Config{}).Extract(context.Background(), Source{Ref: mustRef(t, "broken.docx"), Path: path})
	require.Error(t, err)
}

func TestExtract_PDFMalformed(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "bad.pdf", []byte("%PDF-1.4 garbage"))
	_, err := NewLoader(Config{}).Extract(context.Background(), Source{Ref: mustRef(t, "bad.pdf"), Path: path})
	require.Error(t, err)
}

func TestExtract_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := NewLoader(Config{}).Extract(context.Background(),
		Source{Ref: mustRef(t, "gone.txt"), Path: filepath.Join(t.TempDir(), "gone.txt")})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestExtract_CSVUnsupported(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "sales.csv", []byte("region,revenue\neast,100\n"))
	_, err := NewLoader(Config{}).Extract(context.Background(), Source{Ref: mustRef(t, "sales.csv"), Path: path})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrUnsupportedType)
}

func TestExtract_FileTooLarge(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "big.txt", bytes.Repeat([]byte("a"), 64))
	_, err := NewLoader(Config{MaxBytes: 16}).Extract(context.Background(), Source{Ref: mustRef(t, "big.txt"), Path: path})
	assert.ErrorIs(t, err, apperr.ErrPrecondition)
}

func TestExtract_URL(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(`<html><head><title> Docs </title><style>.x{}</style></head>
<body><h1>Install</h1><p>Run the   installer.</p><script>alert(1)</script><ul><li>one</li><li>two</li></ul></body></html>`))
		case "/plain":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("just text"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	loader := NewLoader(Config{})

	segs, err := loader.Extract(context.Background(), Source{Ref: mustRef(t, srv.URL+"/page")})
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, "Install\nRun the installer.\none\ntwo", segs[0].Text)
	assert.Equal(t, "Docs", segs[0].Metadata[document.MetaTitle])
	assert.Equal(t, srv.URL+"/page", segs[0].Source())
	assert.Equal(t, "url", segs[0].Metadata[document.MetaType])

	segs, err = loader.Extract(context.Background(), Source{Ref: mustRef(t, srv.URL+"/plain")})
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, "just text", segs[0].Text)

	_, err = loader.Extract(context.Background(), Source{Ref: mustRef(t, srv.URL+"/missing")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetch)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusNotFound, fe.Status)
}
