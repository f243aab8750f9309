package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/docchat-go/internal/dispatcher"
	"github.com/54b3r/docchat-go/internal/logging"
)

// NewUploadCmd constructs the `docchat upload` command, which stores and
// indexes local files or web pages.
func NewUploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload <file|url>...",
		Short: "Upload documents or web pages and build their index",
		Long: `Upload one or more documents and build their embedding index.

Local files (.pdf, .docx, .txt) are copied into the data directory and
embedded. CSV files are loaded into a SQLite table instead. Arguments
starting with http:// or https:// are fetched as web pages.

Re-uploading a document whose index already exists reuses it.

Examples:
  docchat upload report.pdf notes.txt
  docchat upload sales.csv
  docchat upload https://go.dev/doc/effective_go`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			a, err := buildApp(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("upload: %w", err)
			}
			defer a.close(log)

			progress := func(msg string) { fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n", msg) }
			out := cmd.OutOrStdout()

			for _, arg := range args {
				var res dispatcher.UploadResult
				if isURL(arg) {
					res, err = a.svc.UploadURL(ctx, arg, progress)
				} else {
					res, err = uploadLocal(ctx, a.svc, arg, progress)
				}
				if err != nil {
					return fmt.Errorf("upload %s: %w", arg, err)
				}
				log.Debug("upload complete", slog.String("key", res.CollectionKey))
				fmt.Fprintf(out, "%s\tkey=%s\tcreated=%t\n", res.Display, res.CollectionKey, res.CreatedNewIndex)
			}
			return nil
		},
	}
	return cmd
}

func uploadLocal(ctx context.Context, svc *dispatcher.Service, path string, progress func(string)) (dispatcher.UploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return dispatcher.UploadResult{}, err
	}
	defer f.Close()
	return svc.UploadFile(ctx, filepath.Base(path), f, progress)
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
