// Package document holds the text segment type passed between the
// extractor, the chunker and the embedding index.
package document

import "maps"

// Metadata keys attached to every segment.
const (
	// MetaSource is the originating file path or URL.
	MetaSource = "source"
	// MetaType is the extraction type: pdf, docx, txt or url.
	MetaType = "type"
	// MetaChunkIndex is the zero-based position of a chunk in its document.
	MetaChunkIndex = "chunk_index"
	// MetaPage is the one-based PDF page number.
	MetaPage = "page"
	// MetaTitle is the HTML page title, when known.
	MetaTitle = "title"
)

// Segment is a slice of document text with provenance metadata. Segments are
// treated as immutable once produced; use [Segment.Clone] before editing
// metadata.
type Segment struct {
	// Text is the body.
	Text string `json:"text"`
	// Metadata is the provenance, see the Meta* keys.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Clone returns a copy whose metadata map can be modified independently.
func (s Segment) Clone() Segment {
	return Segment{Text: s.Text, Metadata: maps.Clone(s.Metadata)}
}

// Source returns the source metadata value.
func (s Segment) Source() string { return s.Metadata[MetaSource] }
