// Package main hosts the site analyser CLI.
//
// Architecture overview:
//   - Pipeline: every URL passes through the fetch, certificate,
//     bot-protection and screenshot stages. Each stage runs behind a shared
//     retry policy; stage outcomes fold into a single per-URL result with a
//     monotone SUCCESS to PARTIAL to FAILED status.
//   - Fan-out: the orchestrator analyses a batch with a bounded number of
//     concurrent pipelines and preserves input order in the output.
//   - Persistence: batch results land in the configured result store
//     (filesystem JSON, Postgres or memory); screenshots go to the blob
//     store (local disk, memory or GCS). A Pub/Sub notification fires on
//     completion when a topic is configured.
//   - Observability: progress events flow through a buffering hub into zap
//     logs, Prometheus collectors and an in-memory status store; the
//     optional HTTP server exposes /metrics and /v1/batches on top of them.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
