package ingestion

import (
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/54b3r/docchat-go/internal/docref"
	"github.com/54b3r/docchat-go/internal/document"
)

// Metadata keys added at ingestion time, on top of the extractor's.
const (
	// MetaFileName is the uploaded file's base name.
	MetaFileName = "file_name"
	// MetaHost is the host of a URL source.
	MetaHost = "host"
	// MetaIngestedAt is the RFC 3339 ingestion time.
	MetaIngestedAt = "ingested_at"
)

// annotate returns copies of segs with source-level metadata added. A page
// title already set by the extractor is kept; URL pages without one get a
// title inferred from the path.
func annotate(segs []document.Segment, ref docref.Ref, now time.Time) []document.Segment {
	extra := inferMetadata(ref)
	extra[MetaIngestedAt] = now.UTC().Format(time.RFC3339)

	out := make([]document.Segment, len(segs))
	for i, s := range segs {
		c := s.Clone()
		if c.Metadata == nil {
			c.Metadata = make(map[string]string, len(extra))
		}
		for k, v := range extra {
			if _, ok := c.Metadata[k]; !ok {
				c.Metadata[k] = v
			}
		}
		out[i] = c
	}
	return out
}

// inferMetadata derives best-effort metadata from the reference alone.
func inferMetadata(ref docref.Ref) map[string]string {
	m := make(map[string]string, 3)
	if !ref.IsURL() {
		m[MetaFileName] = ref.Name()
		return m
	}

	parsed, err := url.Parse(ref.Address())
	if err != nil {
		return m
	}
	m[MetaHost] = strings.ToLower(parsed.Hostname())
	if title := titleFromPath(parsed.Path); title != "" {
		m[document.MetaTitle] = title
	}
	return m
}

// titleFromPath turns the last path element into words:
// "/docs/getting-started.html" → "getting started".
func titleFromPath(p string) string {
	base := path.Base(strings.TrimRight(p, "/"))
	if base == "." || base == "/" || base == "" {
		return ""
	}
	base = strings.TrimSuffix(base, path.Ext(base))
	return strings.Join(strings.FieldsFunc(base, func(r rune) bool {
		return r == '-' || r == '_' || r == '+' || r == '.'
	}), " ")
}
