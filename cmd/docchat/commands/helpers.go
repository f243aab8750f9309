package commands

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/docchat-go/internal/agent"
	"github.com/54b3r/docchat-go/internal/budget"
	"github.com/54b3r/docchat-go/internal/chunker"
	"github.com/54b3r/docchat-go/internal/config"
	"github.com/54b3r/docchat-go/internal/dispatcher"
	"github.com/54b3r/docchat-go/internal/embedder"
	"github.com/54b3r/docchat-go/internal/extract"
	"github.com/54b3r/docchat-go/internal/ingestion"
	"github.com/54b3r/docchat-go/internal/memory"
	"github.com/54b3r/docchat-go/internal/provider"
	"github.com/54b3r/docchat-go/internal/rag"
	"github.com/54b3r/docchat-go/internal/tabular"
)

// Persisted layout under the data directory.
const (
	indexDir        = "chroma_db"
	tableDB         = "csv_database.db"
	conversationDir = "conversations"
	uploadDir       = "uploaded_docs"
	urlRegistry     = "saved_urls.txt"
)

// defaultMaxUploadBytes caps a stored upload when DOCCHAT_MAX_UPLOAD_BYTES is unset.
const defaultMaxUploadBytes = 50 << 20

// app is the fully wired dispatcher plus the handles serve needs for
// readiness probes.
type app struct {
	// svc is the document dispatcher.
	svc *dispatcher.Service
	// chatModel backs both the RAG engine and the SQL agent.
	chatModel model.ToolCallingChatModel
	// providerCfg is the resolved chat provider configuration.
	providerCfg *provider.Config
	// tables is the SQLite store.
	tables *tabular.Store
	// qdrant is set when VECTOR_BACKEND=qdrant.
	qdrant *rag.QdrantStore
	// dataDir is the root of all persisted state.
	dataDir string
	// closers run in reverse order on close.
	closers []func() error
}

// close releases every opened resource, logging failures.
func (a *app) close(log *slog.Logger) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn("shutdown: close failed", slog.Any("error", err))
		}
	}
}

// buildApp wires the dispatcher from the environment. reg receives the
// dispatcher metrics; nil disables them. The caller must call close.
func buildApp(ctx context.Context, log *slog.Logger, reg prometheus.Registerer) (_ *app, err error) {
	a := &app{dataDir: config.DataDir()}
	defer func() {
		if err != nil {
			a.close(log)
		}
	}()

	emb, embCfg, err := embedder.NewFromEnv(log)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	log.Info("embedder initialised",
		slog.String("backend", embCfg.Backend),
		slog.String("model", embCfg.Model),
	)

	index, err := buildIndex(ctx, a, emb, log)
	if err != nil {
		return nil, err
	}

	ch, err := chunker.New(
		chunker.WithChunkSize(config.Int("RAG_CHUNK_SIZE", chunker.DefaultChunkSize)),
		chunker.WithOverlap(config.Int("RAG_CHUNK_OVERLAP", chunker.DefaultChunkOverlap)),
	)
	if err != nil {
		return nil, fmt.Errorf("chunker: %w", err)
	}

	loader := extract.NewLoader(extract.Config{
		HTTPTimeout: config.Duration("DOCCHAT_FETCH_TIMEOUT", 0),
	})
	pipeline, err := ingestion.NewPipeline(loader, ch, index)
	if err != nil {
		return nil, fmt.Errorf("ingestion: %w", err)
	}

	a.tables, err = tabular.Open(filepath.Join(a.dataDir, tableDB))
	if err != nil {
		return nil, fmt.Errorf("tabular: %w", err)
	}
	a.closers = append(a.closers, a.tables.Close)

	a.providerCfg = provider.ConfigFromEnv()
	a.chatModel, err = provider.New(ctx, a.providerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}
	log.Info("provider initialised",
		slog.String("provider", string(a.providerCfg.Backend)),
		slog.String("model", a.providerCfg.Model),
	)

	sqlAgent, err := agent.New(agent.Config{
		ChatModel:     a.chatModel,
		Tables:        a.tables,
		MaxIterations: config.Int("AGENT_MAX_ITERATIONS", agent.DefaultMaxIterations),
		Timeout:       config.Duration("AGENT_TIMEOUT", agent.DefaultTimeout),
		SampleRows:    config.Int("AGENT_SAMPLE_ROWS", agent.DefaultSampleRows),
	})
	if err != nil {
		return nil, err
	}

	mem, err := memory.New(filepath.Join(a.dataDir, conversationDir))
	if err != nil {
		return nil, fmt.Errorf("memory: %w", err)
	}
	uploads, err := dispatcher.NewUploads(filepath.Join(a.dataDir, uploadDir),
		int64(config.Int("DOCCHAT_MAX_UPLOAD_BYTES", defaultMaxUploadBytes)))
	if err != nil {
		return nil, err
	}

	var metrics *dispatcher.Metrics
	if reg != nil {
		metrics = dispatcher.NewMetrics(reg)
	}

	a.svc, err = dispatcher.New(dispatcher.Config{
		Index:    index,
		Pipeline: pipeline,
		Tables:   a.tables,
		Engine: &rag.Engine{
			ChatModel:        a.chatModel,
			TopK:             config.Int("RAG_TOP_K", rag.DefaultTopK),
			HistoryDepth:     config.Int("RAG_HISTORY_DEPTH", rag.DefaultHistoryDepth),
			MaxContextTokens: config.Int("RAG_MAX_CONTEXT_TOKENS", budget.DefaultMaxContextTokens),
			Count:            budget.Tiktoken(log),
		},
		Agent:    sqlAgent,
		Memory:   mem,
		Registry: dispatcher.NewRegistry(filepath.Join(a.dataDir, urlRegistry)),
		Uploads:  uploads,
		Metrics:  metrics,
	})
	if err != nil {
		return nil, err
	}

	log.Info("dispatcher ready", slog.String("data_dir", a.dataDir))
	return a, nil
}

// buildIndex opens the vector backend selected by VECTOR_BACKEND.
func buildIndex(ctx context.Context, a *app, emb rag.Embedder, log *slog.Logger) (rag.Index, error) {
	batch := config.Int("EMBEDDING_BATCH_SIZE", 0)

	switch backend := strings.ToLower(config.String("VECTOR_BACKEND", "local")); backend {
	case "local":
		root := filepath.Join(a.dataDir, indexDir)
		store, err := rag.NewLocalStore(root, emb, rag.WithBatchSize(batch))
		if err != nil {
			return nil, fmt.Errorf("vector store: %w", err)
		}
		log.Info("vector store opened", slog.String("backend", backend), slog.String("root", root))
		return store, nil
	case "qdrant":
		store, err := rag.NewQdrantStore(&rag.QdrantConfig{
			Host:      config.String("QDRANT_HOST", "localhost"),
			Port:      config.Int("QDRANT_PORT", 6334),
			APIKey:    config.String("QDRANT_API_KEY", ""),
			UseTLS:    config.Bool("QDRANT_TLS", false),
			BatchSize: batch,
		}, emb)
		if err != nil {
			return nil, fmt.Errorf("vector store: %w", err)
		}
		a.qdrant = store
		a.closers = append(a.closers, store.Close)
		if err := store.Ping(ctx); err != nil {
			log.Warn("qdrant not reachable at startup", slog.Any("error", err))
		}
		log.Info("vector store opened", slog.String("backend", backend))
		return store, nil
	default:
		return nil, fmt.Errorf("vector store: unsupported VECTOR_BACKEND %q (want local or qdrant)", backend)
	}
}
