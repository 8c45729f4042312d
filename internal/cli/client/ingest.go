package client

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// IngestRequest represents the document ingest API request.
type IngestRequest struct {
	ID       string   `json:"id,omitempty"`
	Title    string   `json:"title,omitempty"`
	Content  string   `json:"content"`
	Category string   `json:"category,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Strategy string   `json:"strategy,omitempty"`
}

// Document represents a knowledge base document as returned by the API.
type Document struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Category   string   `json:"category,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	ChunkCount int      `json:"chunk_count"`
	Strategy   string   `json:"strategy"`
	State      string   `json:"state"`
	Error      string   `json:"error,omitempty"`
	CreatedAt  string   `json:"created_at"`
	UpdatedAt  string   `json:"updated_at"`
}

// IngestCmd creates the ingest command.
func IngestCmd() *cobra.Command {
	var (
		file     string
		id       string
		title    string
		category string
		tags     []string
		strategy string
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest a document from stdin or file",
		Long: `Ingest a document into the knowledge base from plain text (stdin or file)
or from a JSON object matching the ingest request format.

Examples:
  # Ingest plain text from a file
  desknow ingest --file reset-guide.md --title "Password Reset Guide" --category account

  # Ingest from stdin
  cat faq.txt | desknow ingest --title "Billing FAQ" --tag billing --tag invoices

  # Ingest a JSON request
  echo '{"title":"VPN Setup","content":"...","strategy":"semantic"}' | desknow ingest

  # Re-ingest an existing document under the same ID
  desknow ingest --file reset-guide.md --id doc-123 --title "Password Reset Guide"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runIngest(file, id, title, category, tags, strategy, outputJSON)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Input file (plain text or JSON)")
	cmd.Flags().StringVar(&id, "id", "", "Document ID (re-ingests when it already exists)")
	cmd.Flags().StringVar(&title, "title", "", "Document title")
	cmd.Flags().StringVarP(&category, "category", "c", "", "Document category")
	cmd.Flags().StringArrayVarP(&tags, "tag", "t", nil, "Document tag (repeatable)")
	cmd.Flags().StringVar(&strategy, "strategy", "", "Chunking strategy (fixed_size, semantic)")

	return cmd
}

func runIngest(file, id, title, category string, tags []string, strategy string, outputJSON bool) error {
	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	var input []byte
	if file != "" {
		input, err = os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
	} else {
		input, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
	}

	if len(strings.TrimSpace(string(input))) == 0 {
		return fmt.Errorf("no input provided")
	}

	var req IngestRequest
	if isJSONInput(input) {
		if err := json.Unmarshal(input, &req); err != nil {
			return fmt.Errorf("failed to parse JSON input: %w", err)
		}
	} else {
		req.Content = string(input)
	}

	// Flags override fields from JSON input
	if id != "" {
		req.ID = id
	}
	if title != "" {
		req.Title = title
	}
	if category != "" {
		req.Category = category
	}
	if len(tags) > 0 {
		req.Tags = tags
	}
	if strategy != "" {
		req.Strategy = strategy
	}

	if req.Content == "" {
		return fmt.Errorf("content is required")
	}

	resp, err := api.Post("/api/knowledge/ingest", req)
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(resp.Data, &doc); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(doc, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("Ingested document: %s\n", doc.ID)
	fmt.Printf("Title: %s\n", doc.Title)
	fmt.Printf("State: %s (%d chunks)\n", doc.State, doc.ChunkCount)
	if doc.Error != "" {
		fmt.Printf("Error: %s (the server will retry in the background)\n", doc.Error)
	}

	return nil
}

func isJSONInput(input []byte) bool {
	s := strings.TrimSpace(string(input))
	return len(s) > 0 && s[0] == '{'
}
