// Package api hosts the HTTP status server for operator access. Notable
// routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/batches and /v1/batches/{job_id} for batch progress, backed by
//     the in-memory progress status store.
package api
