package main

import (
	"fmt"
	"os"

	"github.com/desknow-ai/desknow/internal/cli"
	"github.com/desknow-ai/desknow/internal/cli/client"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "desknow",
		Short: "Desknow CLI - Customer support knowledge base",
		Long: `Desknow CLI provides commands to manage the support knowledge base
and query it through the RAG pipeline.

Environment variables:
  DESKNOW_API_URL   API base URL (default: http://localhost:8080)`,
		Version: version,
	}

	rootCmd.PersistentFlags().Bool("output", false, "Output as JSON")
	rootCmd.PersistentFlags().String("api-url", "", "API base URL (overrides env)")
	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(client.QueryCmd())
	rootCmd.AddCommand(client.IngestCmd())
	rootCmd.AddCommand(client.DocsCmd())
	rootCmd.AddCommand(client.StatsCmd())
	rootCmd.AddCommand(client.StatusCmd())

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
