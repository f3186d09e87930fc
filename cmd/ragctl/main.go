// Command ragctl is the operator CLI for the corpus indexing platform:
// ingestion in its several modes, ad-hoc retrieval, and health checks.
package main

import (
	"fmt"
	"os"

	"github.com/corpusrag/ragcore/cmd/ragctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
