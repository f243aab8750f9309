package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/docchat-go/internal/apperr"
	"github.com/54b3r/docchat-go/internal/dispatcher"
	"github.com/54b3r/docchat-go/internal/logging"
)

// handleUpload handles POST /upload: a multipart form with one "file" field.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	file, hdr, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			err = apperr.Precondition("server.upload", "upload exceeds %d bytes", s.cfg.MaxUploadBytes)
		} else {
			err = apperr.Precondition("server.upload", "multipart field \"file\" is required: %v", err)
		}
		s.metrics.uploadsTotal.WithLabelValues("file", outcomeError).Inc()
		writeError(ctx, w, "Failed to process file", err)
		return
	}
	defer file.Close()

	ctx, log := logging.With(ctx, slog.String("file", hdr.Filename))
	res, err := s.docs.UploadFile(ctx, hdr.Filename, file, progressLogger(log))
	if err != nil {
		s.metrics.uploadsTotal.WithLabelValues("file", outcomeError).Inc()
		writeError(ctx, w, "Failed to process file", err)
		return
	}
	s.metrics.uploadsTotal.WithLabelValues("file", outcomeOK).Inc()
	s.writeUpload(ctx, w, res)
}

// handleUploadURL handles POST /upload/url with a JSON {"url": ...} body.
func (s *Server) handleUploadURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req uploadURLRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.metrics.uploadsTotal.WithLabelValues("url", outcomeError).Inc()
		writeError(ctx, w, "Invalid URL. Must start with http:// or https://", err)
		return
	}

	ctx, log := logging.With(ctx, slog.String("url", req.URL))
	res, err := s.docs.UploadURL(ctx, req.URL, progressLogger(log))
	if err != nil {
		s.metrics.uploadsTotal.WithLabelValues("url", outcomeError).Inc()
		writeError(ctx, w, "Failed to process URL", err)
		return
	}
	s.metrics.uploadsTotal.WithLabelValues("url", outcomeOK).Inc()
	s.writeUpload(ctx, w, res)
}

// writeUpload renders an upload result with the refreshed document list.
func (s *Server) writeUpload(ctx context.Context, w http.ResponseWriter, res dispatcher.UploadResult) {
	files, err := s.listing(ctx)
	if err != nil {
		writeError(ctx, w, "Failed to list documents", err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, uploadResponse{
		Status:            "ok",
		FileName:          res.Display,
		CollectionKey:     res.CollectionKey,
		FilesAvailable:    files,
		Message:           uploadMessage(res),
		EmbeddingsCreated: res.CreatedNewIndex,
	})
}

func uploadMessage(res dispatcher.UploadResult) string {
	switch {
	case res.Table != "" && res.CreatedNewIndex:
		return fmt.Sprintf("Loaded %s into table %s", res.Display, res.Table)
	case res.Table != "":
		return fmt.Sprintf("Table %s already loaded for %s", res.Table, res.Display)
	case res.CreatedNewIndex:
		return fmt.Sprintf("Successfully created embeddings for %s", res.Display)
	default:
		return fmt.Sprintf("Found existing embeddings for %s", res.Display)
	}
}

// handleListFiles handles GET /upload/files.
func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.listing(r.Context())
	if err != nil {
		writeError(r.Context(), w, "Failed to list documents", err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, filesResponse{Status: "ok", Files: files})
}

func (s *Server) listing(ctx context.Context) ([]string, error) {
	refs, err := s.docs.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	files := make([]string, len(refs))
	for i, ref := range refs {
		files[i] = ref.Display()
	}
	return files, nil
}

// handleQuery handles POST /query.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.metrics.queryRequestsTotal.WithLabelValues(outcomeError).Inc()
		writeError(r.Context(), w, "Failed to process query", err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.QueryTimeout)
	defer cancel()

	timer := s.metrics.startQuery()
	res, err := s.docs.Query(ctx, req.Question, req.SelectedFile, req.SessionID)
	outcome := outcomeOK
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		outcome = outcomeTimeout
	case err != nil:
		outcome = outcomeError
	}
	timer.done(outcome)

	if err != nil {
		writeError(ctx, w, "Failed to process query", err)
		return
	}

	docs := make([]contextDocument, len(res.SupportingEvidence))
	for i, seg := range res.SupportingEvidence {
		md := seg.Metadata
		if md == nil {
			md = map[string]string{}
		}
		docs[i] = contextDocument{Content: seg.Text, Metadata: md}
	}
	writeJSON(ctx, w, http.StatusOK, queryResponse{Answer: res.Answer, Context: docs, Memory: res.Memory})
}

// handleClearMemory handles DELETE /query/memory?selected_file=&session_id=.
func (s *Server) handleClearMemory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := clearMemoryRequest{
		SelectedFile: strings.TrimSpace(q.Get("selected_file")),
		SessionID:    strings.TrimSpace(q.Get("session_id")),
	}
	if err := s.check(&req); err != nil {
		writeError(r.Context(), w, "Failed to clear memory", err)
		return
	}
	if err := s.docs.ClearMemory(r.Context(), req.SelectedFile, req.SessionID); err != nil {
		writeError(r.Context(), w, "Failed to clear memory", err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, statusResponse{Status: "ok", Message: "Memory cleared successfully"})
}

// progressLogger turns ingestion progress lines into debug records.
func progressLogger(log *slog.Logger) func(string) {
	return func(msg string) { log.Debug("ingestion progress", slog.String("stage", msg)) }
}
