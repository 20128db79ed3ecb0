// Package api hosts the HTTP server, middleware, and REST handlers. Notable routes:
//   - GET /healthz and /readyz for health checks.
//   - GET /metrics for Prometheus scraping.
//   - /v1/documents for listing, manual entry and extraction requests.
//   - /v1/crawls for starting crawls and following their progress, including an
//     event stream at /v1/crawls/{id}/events.
//   - POST /v1/labels/reload to force a label dictionary reload.
package api
