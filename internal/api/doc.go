// Package api hosts the HTTP server, middleware, and REST handlers for the
// metalink service. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/extract for single-URL metadata extraction.
//   - POST /v1/extract/batch for bounded-concurrency batch extraction.
package api
