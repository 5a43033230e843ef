package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var folderJSON bool

var folderCmd = &cobra.Command{
	Use:   "folder [dir]",
	Short: "Ingest every supported file in a folder",
	Long: `Ingests the regular files directly inside dir. Documents already in the
index are skipped. Without dir the configured ingestion folder is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFolder,
}

var fileCmd = &cobra.Command{
	Use:   "file <path>",
	Short: "Ingest a single file",
	Args:  cobra.ExactArgs(1),
	RunE:  runFile,
}

func init() {
	folderCmd.Flags().BoolVar(&folderJSON, "json", false, "output the summary as JSON")
	rootCmd.AddCommand(folderCmd, fileCmd)
}

func runFolder(cmd *cobra.Command, args []string) error {
	dir := defaultFolder
	if len(args) == 1 {
		dir = args[0]
	}
	if dir == "" {
		return errors.New("no folder given and none configured")
	}

	summary, err := ingestService.IngestFolder(cmd.Context(), dir)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	if folderJSON {
		data, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal summary: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Printf("%s: %d inserted, %d skipped, %d unsupported, %d failed\n",
		dir, summary.Inserted, summary.Skipped, summary.Unsupported, summary.Failed)
	for _, f := range summary.FailedFiles {
		cmd.Printf("  failed: %s\n", f)
	}
	return nil
}

func runFile(cmd *cobra.Command, args []string) error {
	status, err := ingestService.IngestFile(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}
	cmd.Printf("%s: %s\n", args[0], status)
	return nil
}
