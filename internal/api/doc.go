// Package api hosts the HTTP server, middleware, and REST handlers for crawl
// operators. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - /v1/targets for target management, manual runs, pause and resume.
//   - GET /v1/targets/{id}/metrics, /results and /status for observability.
package api
