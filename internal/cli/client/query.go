package client

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// QueryRequest represents the RAG query API request.
type QueryRequest struct {
	Query    string `json:"query"`
	TopK     int    `json:"top_k,omitempty"`
	Category string `json:"category,omitempty"`
	Tag      string `json:"tag,omitempty"`
	TicketID string `json:"ticket_id,omitempty"`
}

// QuerySource represents one retrieved source in a query response.
type QuerySource struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Snippet  string  `json:"snippet"`
	Score    float64 `json:"score"`
	Category string  `json:"category,omitempty"`
}

// QueryCitation is one answer marker resolved to the source chunk it cites.
type QueryCitation struct {
	Marker   int    `json:"marker"`
	SourceID string `json:"source_id"`
}

// QueryResponse represents the RAG query API response.
type QueryResponse struct {
	QueryID         string          `json:"query_id"`
	Answer          string          `json:"answer"`
	Sources         []QuerySource   `json:"sources"`
	Citations       []QueryCitation `json:"citations"`
	RetrievalTimeMS float64         `json:"retrieval_time_ms"`
	ResponseTimeMS  float64         `json:"response_time_ms"`
	TotalTimeMS     float64         `json:"total_time_ms"`
	NumChunks       int             `json:"num_chunks"`
}

// QueryCmd creates the query command.
func QueryCmd() *cobra.Command {
	var (
		topK     int
		category string
		tag      string
		ticketID string
	)

	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Ask a question",
		Long:  "Asks a question against the knowledge base and prints the generated answer with its sources.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runQuery(args[0], topK, category, tag, ticketID, outputJSON)
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of chunks to retrieve (1-10, server default 5)")
	cmd.Flags().StringVarP(&category, "category", "c", "", "Restrict retrieval to a document category")
	cmd.Flags().StringVarP(&tag, "tag", "t", "", "Restrict retrieval to documents with a tag")
	cmd.Flags().StringVar(&ticketID, "ticket", "", "Ticket ID to associate with the query")

	return cmd
}

func runQuery(question string, topK int, category, tag, ticketID string, outputJSON bool) error {
	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	req := QueryRequest{
		Query:    question,
		TopK:     topK,
		Category: category,
		Tag:      tag,
		TicketID: ticketID,
	}

	resp, err := api.Post("/api/rag/query", req)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	var queryResp QueryResponse
	if err := json.Unmarshal(resp.Data, &queryResp); err != nil {
		return fmt.Errorf("failed to parse query response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(queryResp, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Println(queryResp.Answer)

	if len(queryResp.Sources) > 0 {
		fmt.Printf("\n%s\n", strings.Repeat("-", 40))
		fmt.Println("Sources:")
		for i, source := range queryResp.Sources {
			marker := ""
			for _, c := range queryResp.Citations {
				if c.SourceID == source.ID {
					marker = " (cited)"
					break
				}
			}
			fmt.Printf("[%d] %s (%.2f)%s\n", i+1, source.Title, source.Score, marker)
			if source.Snippet != "" {
				fmt.Printf("    %s\n", source.Snippet)
			}
		}
	}

	fmt.Printf("\nretrieval %.1fms, generation %.1fms, total %.1fms, %d chunks\n",
		queryResp.RetrievalTimeMS, queryResp.ResponseTimeMS, queryResp.TotalTimeMS, queryResp.NumChunks)

	return nil
}
