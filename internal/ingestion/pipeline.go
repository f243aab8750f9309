// Package ingestion turns a document source into an embedding collection:
// extract text, split it into chunks, embed and persist them under the
// source's collection key. Collections that already exist are loaded, not
// rebuilt, so ingesting the same source twice embeds once.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/54b3r/docchat-go/internal/apperr"
	"github.com/54b3r/docchat-go/internal/chunker"
	"github.com/54b3r/docchat-go/internal/extract"
	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/rag"
)

// Outcome describes one Ingest call.
type Outcome struct {
	// Collection is the ready collection.
	Collection rag.Collection
	// Key is the collection key.
	Key string
	// Created is true when the collection was built by this call and false
	// when an existing one was loaded.
	Created bool
	// Chunks is the number of chunks embedded; zero when loaded.
	Chunks int
}

// Pipeline orchestrates extract → chunk → create for one source at a time.
// It holds no per-source state and is safe for concurrent use; callers that
// need at-most-once creation per key serialise on the key themselves.
type Pipeline struct {
	// extractor produces text segments.
	extractor extract.Extractor
	// chunker splits segments into retrieval-sized chunks.
	chunker *chunker.Chunker
	// index persists and opens collections.
	index rag.Index
}

// NewPipeline constructs a Pipeline from its dependencies.
func NewPipeline(extractor extract.Extractor, ch *chunker.Chunker, index rag.Index) (*Pipeline, error) {
	if extractor == nil {
		return nil, fmt.Errorf("ingestion: extractor must not be nil")
	}
	if ch == nil {
		return nil, fmt.Errorf("ingestion: chunker must not be nil")
	}
	if index == nil {
		return nil, fmt.Errorf("ingestion: index must not be nil")
	}
	return &Pipeline{extractor: extractor, chunker: ch, index: index}, nil
}

// Index returns the index collections are created in.
func (p *Pipeline) Index() rag.Index { return p.index }

// Ingest loads src's collection when it exists and builds it otherwise.
// progress, when non-nil, receives one line per stage.
func (p *Pipeline) Ingest(ctx context.Context, src extract.Source, progress func(msg string)) (Outcome, error) {
	if progress == nil {
		progress = func(string) {}
	}
	key := src.Ref.Key()
	ctx, log := logging.With(ctx, slog.String("source", src.Ref.Display()))

	exists, err := p.index.Exists(ctx, key)
	if err != nil {
		return Outcome{}, err
	}
	if exists {
		coll, err := p.index.Load(ctx, key)
		if err != nil {
			return Outcome{}, err
		}
		log.Debug("ingestion: existing collection loaded")
		progress(fmt.Sprintf("loaded existing collection %s", key))
		return Outcome{Collection: coll, Key: key}, nil
	}

	start := time.Now()
	progress(fmt.Sprintf("extracting %s", src.Ref.Display()))
	segs, err := p.extractor.Extract(ctx, src)
	if err != nil {
		return Outcome{}, fmt.Errorf("ingestion: extract %s: %w", src.Ref.Display(), err)
	}
	if len(segs) == 0 {
		return Outcome{}, apperr.Precondition("ingestion.Ingest", "%s contains no extractable text", src.Ref.Display())
	}

	chunks := p.chunker.Split(annotate(segs, src.Ref, time.Now()))
	progress(fmt.Sprintf("split %s into %d chunks", src.Ref.Display(), len(chunks)))

	coll, err := p.index.Create(ctx, key, chunks)
	if err != nil {
		return Outcome{}, fmt.Errorf("ingestion: index %s: %w", src.Ref.Display(), err)
	}

	log.Info("ingestion: collection built",
		slog.Int("segments", len(segs)),
		slog.Int("chunks", len(chunks)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	progress(fmt.Sprintf("embedded %d chunks into %s", len(chunks), key))
	return Outcome{Collection: coll, Key: key, Created: true, Chunks: len(chunks)}, nil
}
