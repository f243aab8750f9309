package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/docchat-go/internal/logging"
)

// NewAskCmd constructs the `docchat ask` command, which asks one question
// about an uploaded document within a session.
func NewAskCmd() *cobra.Command {
	var doc string
	var session string
	var showContext bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about an uploaded document",
		Long: `Ask a question about one document.

The document is named as it appears in 'docchat list': a file name or a URL.
Files that were uploaded, and URLs that were registered, but whose index
is missing are indexed on first use; anything else must be uploaded first.
Each (document, session) pair keeps its own conversation memory, so
follow-up questions in the same session see the earlier exchange.

Examples:
  docchat ask --doc report.pdf "what are the key findings?"
  docchat ask --doc sales.csv --session alice "which region sold the most?"
  docchat ask --doc https://go.dev/doc/effective_go --context "how do I name interfaces?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			a, err := buildApp(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer a.close(log)

			res, err := a.svc.Query(ctx, strings.Join(args, " "), doc, session)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, res.Answer)
			if showContext {
				for i, seg := range res.SupportingEvidence {
					fmt.Fprintf(out, "\n--- source %d (%s) ---\n%s\n", i+1, seg.Metadata["source"], seg.Text)
				}
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "(%d messages in session %q)\n", res.Memory.Messages, res.Memory.SessionID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&doc, "doc", "d", "", "Document to ask about (file name or URL)")
	cmd.Flags().StringVarP(&session, "session", "s", "default", "Conversation session ID")
	cmd.Flags().BoolVar(&showContext, "context", false, "Print the retrieved supporting context")
	_ = cmd.MarkFlagRequired("doc")

	return cmd
}
