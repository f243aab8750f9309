package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/docchat-go/internal/logging"
)

// NewListCmd constructs the `docchat list` command, which prints uploaded
// files followed by registered URLs.
func NewListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List uploaded documents and web pages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			a, err := buildApp(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("list: %w", err)
			}
			defer a.close(log)

			refs, err := a.svc.ListDocuments(ctx)
			if err != nil {
				return fmt.Errorf("list: %w", err)
			}
			for _, ref := range refs {
				fmt.Fprintln(cmd.OutOrStdout(), ref.Display())
			}
			return nil
		},
	}
}
