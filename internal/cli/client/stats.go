package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

// QueryStats represents aggregate query metrics.
type QueryStats struct {
	TotalQueries       int64   `json:"total_queries"`
	AvgRetrievalTimeMS float64 `json:"avg_retrieval_time_ms"`
	AvgResponseTimeMS  float64 `json:"avg_response_time_ms"`
	AvgChunks          float64 `json:"avg_chunks"`
}

// QueryRecord represents one logged query.
type QueryRecord struct {
	ID              string  `json:"id"`
	QueryText       string  `json:"query_text"`
	Answer          string  `json:"answer"`
	RetrievalMethod string  `json:"retrieval_method"`
	RetrievalTimeMS float64 `json:"retrieval_time_ms"`
	ResponseTimeMS  float64 `json:"response_time_ms"`
	NumChunks       int     `json:"num_chunks"`
	TicketID        string  `json:"ticket_id,omitempty"`
	CreatedAt       string  `json:"created_at"`
}

// StatsCmd creates the stats command.
func StatsCmd() *cobra.Command {
	var recent int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show query analytics",
		Long:  "Shows aggregate query metrics, optionally followed by the most recent queries.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runStats(recent, outputJSON)
		},
	}

	cmd.Flags().IntVarP(&recent, "recent", "n", 0, "Also list the N most recent queries")

	return cmd
}

func runStats(recent int, outputJSON bool) error {
	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	resp, err := api.Get("/api/analytics/stats")
	if err != nil {
		return fmt.Errorf("failed to fetch stats: %w", err)
	}

	var stats QueryStats
	if err := json.Unmarshal(resp.Data, &stats); err != nil {
		return fmt.Errorf("failed to parse stats: %w", err)
	}

	var records []QueryRecord
	if recent > 0 {
		params := url.Values{}
		params.Set("limit", fmt.Sprintf("%d", recent))
		resp, err := api.Get("/api/analytics/queries?" + params.Encode())
		if err != nil {
			return fmt.Errorf("failed to fetch recent queries: %w", err)
		}
		if err := json.Unmarshal(resp.Data, &records); err != nil {
			return fmt.Errorf("failed to parse recent queries: %w", err)
		}
	}

	if outputJSON {
		payload := map[string]interface{}{"stats": stats}
		if recent > 0 {
			payload["recent"] = records
		}
		output, _ := json.MarshalIndent(payload, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("Total queries: %d\n", stats.TotalQueries)
	fmt.Printf("Avg retrieval time: %.1fms\n", stats.AvgRetrievalTimeMS)
	fmt.Printf("Avg response time: %.1fms\n", stats.AvgResponseTimeMS)
	fmt.Printf("Avg chunks per query: %.1f\n", stats.AvgChunks)

	if len(records) > 0 {
		fmt.Printf("\n%s\n", strings.Repeat("-", 40))
		fmt.Printf("Recent queries:\n\n")
		for _, rec := range records {
			fmt.Printf("%s  %s\n", rec.CreatedAt, rec.QueryText)
			fmt.Printf("    %d chunks, %.1fms", rec.NumChunks, rec.ResponseTimeMS)
			if rec.TicketID != "" {
				fmt.Printf(", ticket %s", rec.TicketID)
			}
			fmt.Println()
		}
	}

	return nil
}
