// Package tracing wires LLM call tracing into eino's global callback chain.
package tracing

import (
	"log/slog"
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
)

// defaultHost is the self-hosted Langfuse address used when LANGFUSE_HOST is unset.
const defaultHost = "http://localhost:3000"

// Setup registers a Langfuse handler globally when LANGFUSE_PUBLIC_KEY and
// LANGFUSE_SECRET_KEY are both set, so every chat model call made by the RAG
// engine and the tabular agent is traced. The returned flush function is
// never nil and must run before exit.
func Setup(log *slog.Logger) (flush func()) {
	publicKey := os.Getenv("LANGFUSE_PUBLIC_KEY")
	secretKey := os.Getenv("LANGFUSE_SECRET_KEY")
	if publicKey == "" || secretKey == "" {
		return func() {}
	}

	host := os.Getenv("LANGFUSE_HOST")
	if host == "" {
		host = defaultHost
	}

	handler, flusher := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      host,
		PublicKey: publicKey,
		SecretKey: secretKey,
	})
	callbacks.AppendGlobalHandlers(handler)
	log.Info("tracing: langfuse enabled", slog.String("host", host))

	return flusher
}
