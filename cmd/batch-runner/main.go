// Command batch-runner fetches one API response per CSV row and exports the
// merged results, either as a one-shot run or as an HTTP service.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
