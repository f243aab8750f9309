// Package commands defines all Cobra CLI commands for the docchat binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/docchat-go/internal/audit"
	"github.com/54b3r/docchat-go/internal/config"
	"github.com/54b3r/docchat-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docchat",
		Short: "Chat with your documents: PDFs, Word files, text, web pages and CSV tables",
		Long: `docchat answers questions about documents you upload.

PDF, DOCX, TXT and web pages are chunked and embedded into a per-document
vector index; CSV files are loaded into SQLite and answered by a SQL agent.
Each (document, session) pair keeps its own conversation memory.

Model and embedding providers are selected via MODEL_PROVIDER and
EMBEDDING_PROVIDER or a YAML config file (~/.docchat/config.yaml).
See 'docchat --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()

			// Env vars always override YAML values.
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			audit.LogCommandStart(log, cmd.Name(), args, loadedConfigPath)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.docchat/config.yaml)")

	root.AddCommand(
		NewUploadCmd(),
		NewAskCmd(),
		NewClearCmd(),
		NewListCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return root
}
