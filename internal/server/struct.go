package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/docchat-go/internal/dispatcher"
	"github.com/54b3r/docchat-go/internal/docref"
	"github.com/54b3r/docchat-go/internal/memory"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8000).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It must
	// cover ingestion of a large upload.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// QueryTimeout bounds one POST /query, including lazy ingestion.
	QueryTimeout time.Duration
	// MaxUploadBytes caps a multipart upload body (default: 50 MiB).
	MaxUploadBytes int64
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /ready.
	// If empty, /ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on upload and
	// query endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all document routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry receives the server collectors. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer is served on GET /metrics. Defaults to
	// prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// documents is the dispatcher surface the handlers call.
// *dispatcher.Service satisfies it; tests inject a fake.
type documents interface {
	// UploadFile stores and ingests an uploaded file.
	UploadFile(ctx context.Context, name string, body io.Reader, progress func(msg string)) (dispatcher.UploadResult, error)
	// UploadURL fetches and ingests a web page.
	UploadURL(ctx context.Context, address string, progress func(msg string)) (dispatcher.UploadResult, error)
	// Query answers a question about one document within a session.
	Query(ctx context.Context, question, doc, session string) (dispatcher.QueryResult, error)
	// ClearMemory drops a session's conversation about a document.
	ClearMemory(ctx context.Context, doc, session string) error
	// ListDocuments lists uploaded files and registered URLs.
	ListDocuments(ctx context.Context) ([]docref.Ref, error)
}

// Server is the HTTP front end of the document dispatcher.
type Server struct {
	// docs handles every document operation.
	docs documents
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors owned by this server.
	metrics *serverMetrics
	// validate checks request DTOs against their struct tags.
	validate *validator.Validate
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// uploadURLRequest is the JSON body for POST /upload/url.
type uploadURLRequest struct {
	// URL is the http or https page to ingest.
	URL string `json:"url" validate:"required,http_url"`
}

// uploadResponse is the JSON response for POST /upload and POST /upload/url.
type uploadResponse struct {
	// Status is always "ok".
	Status string `json:"status"`
	// FileName is the listing form of the uploaded document.
	FileName string `json:"file_name"`
	// CollectionKey joins the document to its index, table and memory.
	CollectionKey string `json:"collection_key"`
	// FilesAvailable lists every document after this upload.
	FilesAvailable []string `json:"files_available"`
	// Message is a human-readable summary.
	Message string `json:"message"`
	// EmbeddingsCreated is false when an existing index or table was reused.
	EmbeddingsCreated bool `json:"embeddings_created"`
}

// filesResponse is the JSON response for GET /upload/files.
type filesResponse struct {
	// Status is always "ok".
	Status string `json:"status"`
	// Files lists uploaded files, then "[URL] ..." entries.
	Files []string `json:"files"`
}

// queryRequest is the JSON body for POST /query.
type queryRequest struct {
	// Question is the user's natural language question.
	Question string `json:"question" validate:"required"`
	// SelectedFile is the document reference as listed by GET /upload/files.
	SelectedFile string `json:"selected_file" validate:"required"`
	// SessionID scopes the conversation memory.
	SessionID string `json:"session_id" validate:"required,max=256"`
}

// contextDocument is one piece of supporting evidence.
type contextDocument struct {
	// Content is the retrieved text.
	Content string `json:"content"`
	// Metadata is the provenance of Content.
	Metadata map[string]string `json:"metadata"`
}

// queryResponse is the JSON response for POST /query.
type queryResponse struct {
	// Answer is the generated answer or a generation error message.
	Answer string `json:"answer"`
	// Context is the supporting evidence.
	Context []contextDocument `json:"context"`
	// Memory describes the conversation after this exchange.
	Memory memory.State `json:"memory"`
}

// clearMemoryRequest holds the query parameters of DELETE /query/memory.
type clearMemoryRequest struct {
	// SelectedFile is the document reference.
	SelectedFile string `validate:"required"`
	// SessionID is the session to clear.
	SessionID string `validate:"required,max=256"`
}

// statusResponse is the JSON response for simple acknowledgements.
type statusResponse struct {
	// Status is "ok".
	Status string `json:"status"`
	// Message is a human-readable summary.
	Message string `json:"message"`
}

// errorResponse is the JSON body of every non-2xx document response.
type errorResponse struct {
	// Status is always "error".
	Status string `json:"status"`
	// Message names the failed operation.
	Message string `json:"message"`
	// Detail is the underlying error text.
	Detail string `json:"detail"`
}
