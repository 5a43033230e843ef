package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/casebot/backend/internal/retrieval"
)

var (
	searchK         int
	searchThreshold float64
	searchFiles     []string
	searchJSON      bool
)

var searchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Search indexed documents",
	Long: `Ranks indexed documents by similarity to text. With --files the search is
limited to those document names, filtered by --threshold, and missing
documents are ingested first when their source file can be found.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVar(&searchK, "k", 0, "maximum number of results (0 uses the configured default)")
	searchCmd.Flags().Float64Var(&searchThreshold, "threshold", -1, "minimum similarity for scoped searches (negative uses the configured default)")
	searchCmd.Flags().StringSliceVar(&searchFiles, "files", nil, "document names to scope the search to")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	var (
		out retrieval.Outcome
		err error
	)
	if len(searchFiles) > 0 {
		threshold := searchThreshold
		if threshold < 0 {
			threshold = searchService.Threshold()
		}
		out, err = searchService.RetrieveScoped(cmd.Context(), searchFiles, args[0], threshold, searchK)
	} else {
		out, err = searchService.Retrieve(cmd.Context(), args[0], searchK)
	}
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		data, err := json.MarshalIndent(toJSON(out), "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal results: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	if len(out.Results) == 0 {
		cmd.Printf("No results (%s).\n", out.Status)
	}
	for i, r := range out.Results {
		cmd.Printf("  [%d] %s (%.3f)\n", i+1, r.ID, r.Similarity)
		cmd.Printf("      %s\n", preview(r.Text, 120))
	}
	if len(out.Filled) > 0 {
		cmd.Printf("Ingested on demand: %s\n", strings.Join(out.Filled, ", "))
	}
	if len(out.Dropped) > 0 {
		cmd.Printf("Not found: %s\n", strings.Join(out.Dropped, ", "))
	}
	return nil
}

func preview(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > max {
		return string(r[:max]) + "..."
	}
	return s
}

type jsonResult struct {
	ID         string  `json:"id"`
	Similarity float64 `json:"similarity"`
}

type jsonOutcome struct {
	Mode    string       `json:"mode"`
	Status  string       `json:"status"`
	Results []jsonResult `json:"results"`
	Filled  []string     `json:"filled,omitempty"`
	Dropped []string     `json:"dropped,omitempty"`
}

func toJSON(out retrieval.Outcome) jsonOutcome {
	j := jsonOutcome{
		Mode:    string(out.Mode),
		Status:  out.Status.String(),
		Results: make([]jsonResult, 0, len(out.Results)),
		Filled:  out.Filled,
		Dropped: out.Dropped,
	}
	for _, r := range out.Results {
		j.Results = append(j.Results, jsonResult{ID: r.ID, Similarity: r.Similarity})
	}
	return j
}
