package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/docchat-go/internal/logging"
)

// NewClearCmd constructs the `docchat clear` command, which forgets one
// session's conversation about a document.
func NewClearCmd() *cobra.Command {
	var doc string
	var session string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear a session's conversation memory for a document",
		Example: `  docchat clear --doc report.pdf
  docchat clear --doc sales.csv --session alice`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			a, err := buildApp(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("clear: %w", err)
			}
			defer a.close(log)

			if err := a.svc.ClearMemory(ctx, doc, session); err != nil {
				return fmt.Errorf("clear: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Memory cleared for %s (session %s)\n", doc, session)
			return nil
		},
	}

	cmd.Flags().StringVarP(&doc, "doc", "d", "", "Document whose memory to clear (file name or URL)")
	cmd.Flags().StringVarP(&session, "session", "s", "default", "Conversation session ID")
	_ = cmd.MarkFlagRequired("doc")

	return cmd
}
