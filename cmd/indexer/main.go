// Command indexer ingests case documents into the vector index and runs
// ad hoc searches against it.
package main

import (
	"context"
	"os"
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
