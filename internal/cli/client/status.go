package client

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

// HealthStatus represents the RAG health API response.
type HealthStatus struct {
	Status     string `json:"status"`
	Collection string `json:"collection"`
	ChunkCount int    `json:"chunk_count"`
}

// StatusCmd creates the status command.
func StatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pipeline health",
		Long:  "Checks the RAG pipeline health endpoint and reports the vector index state.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runStatus(outputJSON)
		},
	}
}

func runStatus(outputJSON bool) error {
	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	body, statusCode, err := api.GetRaw("/api/rag/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	var health HealthStatus
	if err := json.Unmarshal(body, &health); err != nil {
		return fmt.Errorf("failed to parse health response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(health, "", "  ")
		fmt.Println(string(output))
	} else {
		fmt.Printf("Status: %s\n", health.Status)
		fmt.Printf("Collection: %s\n", health.Collection)
		fmt.Printf("Indexed chunks: %d\n", health.ChunkCount)
	}

	if statusCode != http.StatusOK {
		return fmt.Errorf("pipeline degraded (HTTP %d)", statusCode)
	}
	return nil
}
