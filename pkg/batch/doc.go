// Package batch runs one HTTP fetch per input row on a bounded worker pool
// and merges each outcome back onto its row.
//
// Example usage:
//
//	fetcher, _ := client.New(client.DefaultConfig("batch-api-runner/0.1"))
//	orch, _ := batch.New(fetcher, batch.DefaultConfig("https://api.test/item/", ""))
//	set, err := orch.Run(ctx, rows)
//
// The orchestrator:
//   - Rejects the batch up front if any row lacks an id
//   - Queues every row, then starts min(concurrency, rows) workers
//   - Builds each URL as prefix + id + suffix and hands it to the Fetcher
//   - Merges row, outcome and extracted fields as each fetch completes
//   - Emits a progress update per completed row
//   - Never stops early on a failed row
//
// Records arrive in completion order; ResultSet.Sorted restores input order.
package batch
