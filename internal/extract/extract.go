// Package extract turns uploaded files and web pages into ordered text
// segments carrying provenance metadata (source, type and, for PDFs, page).
package extract

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/54b3r/docchat-go/internal/apperr"
	"github.com/54b3r/docchat-go/internal/docref"
	"github.com/54b3r/docchat-go/internal/document"
)

// Source is a classified document plus, for files, the path its bytes live at.
type Source struct {
	// Ref is the classified reference.
	Ref docref.Ref
	// Path is the on-disk location of a file ref; ignored for URLs.
	Path string
}

// Extractor produces the text segments of a source.
type Extractor interface {
	// Extract returns the non-empty segments of src in document order.
	Extract(ctx context.Context, src Source) ([]document.Segment, error)
}

// Config holds the loader's fetch settings.
type Config struct {
	// HTTPTimeout bounds a single URL fetch. Defaults to 30s.
	HTTPTimeout time.Duration

	// UserAgent is sent with URL fetches.
	UserAgent string

	// MaxBytes caps the size of a fetched page or read file. Defaults to 32 MiB.
	MaxBytes int64
}

// Loader is the default Extractor. It handles pdf, docx, txt and url
// sources; csv is rejected because tables never go through text extraction.
type Loader struct {
	// cfg is the resolved configuration.
	cfg Config

	// httpClient fetches URL sources.
	httpClient *http.Client
}

var _ Extractor = (*Loader)(nil)

// NewLoader builds a Loader, filling zero config fields with defaults.
func NewLoader(cfg Config) *Loader {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "docchat-go/1.0 (document ingestion)"
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 32 << 20
	}
	return &Loader{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

// Extract dispatches on the source kind.
func (l *Loader) Extract(ctx context.Context, src Source) ([]document.Segment, error) {
	kind := src.Ref.Kind()
	if kind == docref.KindURL {
		return l.extractURL(ctx, src.Ref.Address())
	}

	data, err := l.readFile(src.Path)
	if err != nil {
		return nil, err
	}

	var segs []document.Segment
	switch kind {
	case docref.KindPDF:
		segs, err = extractPDF(data)
	case docref.KindDOCX:
		segs, err = extractDOCX(data)
	case docref.KindTXT:
		text, _ := document.DecodeText(data)
		segs = []document.Segment{{Text: text}}
	default:
		return nil, apperr.Unsupported("extract.Extract", "no text extractor for %q documents", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("extract: %s: %w", src.Ref.Name(), err)
	}
	return finalize(segs, src.Path, kind), nil
}

func (l *Loader) readFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.NotFound("extract.Extract", "file %s does not exist", path)
		}
		return nil, apperr.Storage("extract.Extract", err)
	}
	if info.Size() > l.cfg.MaxBytes {
		return nil, apperr.Precondition("extract.Extract", "file %s is %d bytes, limit is %d", path, info.Size(), l.cfg.MaxBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Storage("extract.Extract", err)
	}
	return data, nil
}

// finalize drops blank segments and stamps source and type metadata.
func finalize(segs []document.Segment, source string, kind docref.Kind) []document.Segment {
	out := segs[:0]
	for _, s := range segs {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		if s.Metadata == nil {
			s.Metadata = make(map[string]string, 2)
		}
		s.Metadata[document.MetaSource] = source
		s.Metadata[document.MetaType] = string(kind)
		out = append(out, s)
	}
	return out
}
