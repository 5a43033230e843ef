package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/casebot/backend/internal/evaluation"
)

var (
	evalK    int
	evalJSON bool
)

var evalCmd = &cobra.Command{
	Use:   "eval <dataset.json>",
	Short: "Measure retrieval quality on a labelled dataset",
	Long: `Runs every query in the dataset and reports hit rate and mean reciprocal
rank against the expected document names. Items with "files" run scoped.`,
	Args: cobra.ExactArgs(1),
	RunE: runEval,
}

func init() {
	evalCmd.Flags().IntVar(&evalK, "k", 3, "results considered per query")
	evalCmd.Flags().BoolVar(&evalJSON, "json", false, "output the full report as JSON")
	rootCmd.AddCommand(evalCmd)
}

func runEval(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	dataset, err := evaluation.LoadDataset(f)
	if err != nil {
		return err
	}

	report, err := evaluation.NewEvaluator(searchService, evalK).RunDataset(cmd.Context(), dataset)
	if err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}

	if evalJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Print(evaluation.GenerateReport(report))
	return nil
}
