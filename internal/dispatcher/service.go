// Package dispatcher is the boundary between callers (CLI, HTTP) and the
// document pipeline. It resolves a document reference to its collection key,
// routes CSV documents to the tabular agent and everything else to the
// retrieval-augmented engine, and records both sides of every exchange in
// the per-session conversation memory.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docchat-go/internal/agent"
	"github.com/54b3r/docchat-go/internal/apperr"
	"github.com/54b3r/docchat-go/internal/docref"
	"github.com/54b3r/docchat-go/internal/document"
	"github.com/54b3r/docchat-go/internal/extract"
	"github.com/54b3r/docchat-go/internal/ingestion"
	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/memory"
	"github.com/54b3r/docchat-go/internal/rag"
	"github.com/54b3r/docchat-go/internal/tabular"
)

// Ingester builds or loads the embedding collection of a source.
// *ingestion.Pipeline satisfies it.
type Ingester interface {
	// Ingest loads src's collection when it exists and builds it otherwise.
	Ingest(ctx context.Context, src extract.Source, progress func(msg string)) (ingestion.Outcome, error)
}

// Answerer answers a question from an opened collection. *rag.Engine
// satisfies it.
type Answerer interface {
	// Answer reports generation failures in rag.Result.Err.
	Answer(ctx context.Context, coll rag.Collection, question string, history []*schema.Message) (rag.Result, error)
}

// TableAgent answers a question about one table. *agent.Tabular satisfies it.
type TableAgent interface {
	// Answer never fails; errors are reported through agent.Result.
	Answer(ctx context.Context, table, question string) agent.Result
}

// TableStore loads CSV files into tables. *tabular.Store satisfies it.
type TableStore interface {
	// TableExists reports whether a table is present.
	TableExists(ctx context.Context, name string) (bool, error)
	// LoadCSV loads path into name unless the table already exists.
	LoadCSV(ctx context.Context, path, name string) (string, error)
}

// Config holds the dependencies of a Service. Every field except Metrics
// is required.
type Config struct {
	// Index detects and opens embedding collections.
	Index rag.Index
	// Pipeline builds collections from sources.
	Pipeline Ingester
	// Tables holds CSV uploads.
	Tables TableStore
	// Engine answers from embedding collections.
	Engine Answerer
	// Agent answers from tables.
	Agent TableAgent
	// Memory persists conversations.
	Memory *memory.Store
	// Registry lists ingested URLs.
	Registry *Registry
	// Uploads stores uploaded files.
	Uploads *Uploads
	// Metrics records query and ingestion counters; nil disables them.
	Metrics *Metrics
}

// UploadResult describes one upload.
type UploadResult struct {
	// CollectionKey joins the document to its collection, table and memory.
	CollectionKey string
	// CreatedNewIndex is true when this upload built the collection or table
	// and false when an existing one was reused.
	CreatedNewIndex bool
	// Display is the listing form of the document.
	Display string
	// Table is the table name for CSV uploads.
	Table string
	// Chunks is the number of chunks embedded; zero when reused or tabular.
	Chunks int
}

// QueryResult is the response to one question.
type QueryResult struct {
	// Answer is always set; generation failures are described in the text.
	Answer string
	// SupportingEvidence is the retrieved context, or a single provenance
	// note for tabular answers.
	SupportingEvidence []document.Segment
	// Memory describes the conversation after this exchange was recorded.
	Memory memory.State
}

// tabularEvidence is the provenance note attached to agent answers.
const tabularEvidence = "Answer generated by SQL agent from table '%s'"

// Service routes uploads and questions to the vector or tabular path.
// It is safe for concurrent use.
type Service struct {
	// cfg holds the injected dependencies.
	cfg Config
	// locks serialises ingestion per collection key.
	locks keyLocks
}

// New validates cfg and returns a Service.
func New(cfg Config) (*Service, error) {
	switch {
	case cfg.Index == nil:
		return nil, fmt.Errorf("dispatcher: Index must not be nil")
	case cfg.Pipeline == nil:
		return nil, fmt.Errorf("dispatcher: Pipeline must not be nil")
	case cfg.Tables == nil:
		return nil, fmt.Errorf("dispatcher: Tables must not be nil")
	case cfg.Engine == nil:
		return nil, fmt.Errorf("dispatcher: Engine must not be nil")
	case cfg.Agent == nil:
		return nil, fmt.Errorf("dispatcher: Agent must not be nil")
	case cfg.Memory == nil:
		return nil, fmt.Errorf("dispatcher: Memory must not be nil")
	case cfg.Registry == nil:
		return nil, fmt.Errorf("dispatcher: Registry must not be nil")
	case cfg.Uploads == nil:
		return nil, fmt.Errorf("dispatcher: Uploads must not be nil")
	}
	return &Service{cfg: cfg, locks: keyLocks{m: make(map[string]*sync.Mutex)}}, nil
}

// UploadFile stores body as name and builds its collection, or its table for
// CSV files. Unsupported file types are rejected before anything is written.
func (s *Service) UploadFile(ctx context.Context, name string, body io.Reader, progress func(msg string)) (UploadResult, error) {
	ref, err := docref.File(name)
	if err != nil {
		return UploadResult{}, err
	}
	path, err := s.cfg.Uploads.Save(ref.Name(), body)
	if err != nil {
		return UploadResult{}, err
	}
	return s.ingest(ctx, ref, path, progress)
}

// UploadURL fetches address and builds its collection. The URL is added to
// the registry only once ingestion succeeded.
func (s *Service) UploadURL(ctx context.Context, address string, progress func(msg string)) (UploadResult, error) {
	ref, err := docref.URL(strings.TrimSpace(address))
	if err != nil {
		return UploadResult{}, err
	}
	res, err := s.ingest(ctx, ref, "", progress)
	if err != nil {
		return UploadResult{}, err
	}
	if err := s.cfg.Registry.Add(ref.Address()); err != nil {
		return res, apperr.Storage("dispatcher.UploadURL", err)
	}
	return res, nil
}

// ingest builds or reuses the collection or table for ref under the key lock.
func (s *Service) ingest(ctx context.Context, ref docref.Ref, path string, progress func(msg string)) (UploadResult, error) {
	key := ref.Key()
	ctx, _ = logging.With(ctx, slog.String("collection", key))
	unlock := s.locks.lock(key)
	defer unlock()

	res := UploadResult{CollectionKey: key, Display: ref.Display()}
	kind := string(ref.Kind())

	if ref.IsTabular() {
		table := tabular.SanitizeName(ref.Name())
		existed, err := s.cfg.Tables.TableExists(ctx, table)
		if err != nil {
			s.cfg.Metrics.observeIngestion(kind, outcomeError)
			return UploadResult{}, err
		}
		if _, err := s.cfg.Tables.LoadCSV(ctx, path, table); err != nil {
			s.cfg.Metrics.observeIngestion(kind, outcomeError)
			return UploadResult{}, err
		}
		res.Table = table
		res.CreatedNewIndex = !existed
		s.cfg.Metrics.observeIngestion(kind, createdOrLoaded(res.CreatedNewIndex))
		return res, nil
	}

	out, err := s.cfg.Pipeline.Ingest(ctx, extract.Source{Ref: ref, Path: path}, progress)
	if err != nil {
		s.cfg.Metrics.observeIngestion(kind, outcomeError)
		return UploadResult{}, err
	}
	res.CreatedNewIndex = out.Created
	res.Chunks = out.Chunks
	s.cfg.Metrics.observeIngestion(kind, createdOrLoaded(out.Created))
	return res, nil
}

func createdOrLoaded(created bool) string {
	if created {
		return "created"
	}
	return "loaded"
}

// Query answers question about doc within session. Precondition,
// classification and not-found failures are returned as errors and leave
// memory untouched; once a path has run, both messages are recorded even
// when the answer text describes a generation error.
func (s *Service) Query(ctx context.Context, question, doc, session string) (QueryResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return QueryResult{}, apperr.Precondition("dispatcher.Query", "question is required")
	}
	if strings.TrimSpace(session) == "" {
		return QueryResult{}, apperr.Precondition("dispatcher.Query", "session id is required")
	}
	ref, err := docref.Parse(doc)
	if err != nil {
		return QueryResult{}, err
	}
	key := ref.Key()
	ctx, log := logging.With(ctx, slog.String("collection", key), slog.String("session", session))

	start := time.Now()
	path := pathVector
	var (
		answer   string
		evidence []document.Segment
		degraded bool
	)
	if ref.IsTabular() {
		path = pathTabular
		answer, evidence, degraded, err = s.queryTable(ctx, ref, question)
	} else {
		answer, evidence, degraded, err = s.queryVector(ctx, ref, question, session)
	}
	if err != nil {
		s.cfg.Metrics.observeQuery(path, outcomeError, time.Since(start).Seconds())
		return QueryResult{}, err
	}

	s.cfg.Memory.Append(ctx, key, session, memory.Message{Role: memory.RoleUser, Content: question})
	s.cfg.Memory.Append(ctx, key, session, memory.Message{
		Role:    memory.RoleAssistant,
		Content: answer,
		Sources: texts(evidence),
	})

	outcome := outcomeOK
	if degraded {
		outcome = outcomeDegraded
	}
	s.cfg.Metrics.observeQuery(path, outcome, time.Since(start).Seconds())
	log.Info("dispatcher: query answered",
		slog.String("path", path),
		slog.String("outcome", outcome),
		slog.Int("evidence", len(evidence)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	return QueryResult{
		Answer:             answer,
		SupportingEvidence: evidence,
		Memory:             s.cfg.Memory.Snapshot(ctx, key, session),
	}, nil
}

// queryVector opens (building it first when the source is available) the
// collection for ref and runs the engine with the session history.
func (s *Service) queryVector(ctx context.Context, ref docref.Ref, question, session string) (string, []document.Segment, bool, error) {
	coll, err := s.collection(ctx, ref)
	if err != nil {
		return "", nil, false, err
	}
	history := memory.ToSchema(s.cfg.Memory.Load(ctx, ref.Key(), session))
	res, err := s.cfg.Engine.Answer(ctx, coll, question, history)
	if err != nil {
		return "", nil, false, err
	}
	if res.Err != nil {
		return downgrade(ctx, res.Err), res.Segments, true, nil
	}
	return res.Text, res.Segments, false, nil
}

// collection loads ref's collection, ingesting the source first when the
// collection is absent but the file was uploaded or the URL registered.
func (s *Service) collection(ctx context.Context, ref docref.Ref) (rag.Collection, error) {
	key := ref.Key()
	exists, err := s.cfg.Index.Exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if exists {
		return s.cfg.Index.Load(ctx, key)
	}

	src := extract.Source{Ref: ref}
	if ref.IsURL() {
		registered, err := s.cfg.Registry.Contains(ref.Address())
		if err != nil {
			return nil, apperr.Storage("dispatcher.Query", err)
		}
		if !registered {
			return nil, apperr.NotFound("dispatcher.Query",
				"embeddings not found for %s; upload the URL first", ref.Display())
		}
	} else {
		if !s.cfg.Uploads.Exists(ref.Name()) {
			return nil, apperr.NotFound("dispatcher.Query",
				"embeddings not found for %s; upload the file first", ref.Display())
		}
		src.Path = s.cfg.Uploads.Path(ref.Name())
	}

	logging.FromContext(ctx).Info("dispatcher: collection missing, ingesting source")
	res, err := s.ingest(ctx, ref, src.Path, nil)
	if err != nil {
		return nil, err
	}
	return s.cfg.Index.Load(ctx, res.CollectionKey)
}

// queryTable makes sure ref's table is loaded and asks the agent.
func (s *Service) queryTable(ctx context.Context, ref docref.Ref, question string) (string, []document.Segment, bool, error) {
	table := tabular.SanitizeName(ref.Name())
	ctx, _ = logging.With(ctx, slog.String("table", table))

	exists, err := s.cfg.Tables.TableExists(ctx, table)
	if err != nil {
		return "", nil, false, err
	}
	if !exists {
		if !s.cfg.Uploads.Exists(ref.Name()) {
			return "", nil, false, apperr.NotFound("dispatcher.Query",
				"table %s not found for %s; upload the file first", table, ref.Display())
		}
		if _, err := s.ingest(ctx, ref, s.cfg.Uploads.Path(ref.Name()), nil); err != nil {
			return "", nil, false, err
		}
	}

	res := s.cfg.Agent.Answer(ctx, table, question)
	evidence := []document.Segment{{
		Text: fmt.Sprintf(tabularEvidence, table),
		Metadata: map[string]string{
			document.MetaSource: table,
			document.MetaType:   string(docref.KindCSV),
		},
	}}
	return res.Text, evidence, res.Err != nil, nil
}

// ClearMemory deletes the conversation for doc within session.
func (s *Service) ClearMemory(ctx context.Context, doc, session string) error {
	if strings.TrimSpace(session) == "" {
		return apperr.Precondition("dispatcher.ClearMemory", "session id is required")
	}
	ref, err := docref.Parse(doc)
	if err != nil {
		return err
	}
	s.cfg.Memory.Clear(ctx, ref.Key(), session)
	logging.FromContext(ctx).Info("dispatcher: memory cleared",
		slog.String("collection", ref.Key()),
		slog.String("session", session),
	)
	return nil
}

// History returns the recorded conversation for doc within session.
func (s *Service) History(ctx context.Context, doc, session string) ([]memory.Message, error) {
	ref, err := docref.Parse(doc)
	if err != nil {
		return nil, err
	}
	return s.cfg.Memory.Load(ctx, ref.Key(), session), nil
}

// ListDocuments returns uploaded files sorted by name, then registered URLs
// in insertion order.
func (s *Service) ListDocuments(ctx context.Context) ([]docref.Ref, error) {
	names, err := s.cfg.Uploads.List()
	if err != nil {
		return nil, err
	}
	urls, err := s.cfg.Registry.List()
	if err != nil {
		return nil, err
	}

	refs := make([]docref.Ref, 0, len(names)+len(urls))
	for _, n := range names {
		ref, err := docref.File(n)
		if err != nil {
			continue
		}
		refs = append(refs, ref)
	}
	for _, u := range urls {
		ref, err := docref.URL(u)
		if err != nil {
			logging.FromContext(ctx).Warn("dispatcher: skipping invalid registry entry",
				slog.String("url", u), slog.Any("error", err))
			continue
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// downgrade is the single place a generation failure becomes answer text.
func downgrade(ctx context.Context, err error) string {
	logging.FromContext(ctx).Warn("dispatcher: generation failed, answering with error text", slog.Any("error", err))
	cause := err
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Err != nil {
		cause = ae.Err
	}
	return "Error generating response: " + cause.Error()
}

func texts(segs []document.Segment) []string {
	if len(segs) == 0 {
		return nil
	}
	out := make([]string, len(segs))
	for i, sg := range segs {
		out[i] = sg.Text
	}
	return out
}

// keyLocks hands out one mutex per collection key.
type keyLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (k *keyLocks) lock(key string) (unlock func()) {
	k.mu.Lock()
	m, ok := k.m[key]
	if !ok {
		m = &sync.Mutex{}
		k.m[key] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m.Unlock
}
