// Package cmd defines and implements the CLI commands for the regdocs executable.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, readiness, metrics, document, crawl and label endpoints. Every
//     handler delegates to internal/service, which returns a {success, message, data|error} Result.
//   - Crawl pipeline: the listing crawler walks registry pages (HTML first, reader-mode markdown as fallback), the
//     detail extractor maps localized labels to canonical fields through the hot-reloadable label dictionary, and
//     each record is normalized and upserted by document number.
//   - Jobs: extraction jobs go to a Redis-backed queue when queue.url is set and reachable, and run inline
//     otherwise. A fixed worker pool drains the queue, downloads the attachment, extracts its text with pdfcpu,
//     mines HS codes and product names, and records the outcome in the job log.
//   - Persistence & fanout: documents, extractions, the job log and reference data live in Postgres (or memory when
//     no DSN is set). Attachments are archived to GCS or a local directory when storage.backend is set. A Pub/Sub
//     notification is published per completed job when a topic is configured.
//   - Configuration & plumbing: Viper populates config from file, .env and REGDOCS_* env vars; zap provides
//     structured logging; Prometheus metrics are exported via the metrics middleware and /metrics handler.
//
// Operational notes:
//   - Concurrency model: one crawl goroutine per started crawl, a fixed worker pool for jobs, and a semaphore inside
//     the headless renderer. Shutdown is coordinated via context cancellation from SIGINT/SIGTERM.
//   - Retries: the network client retries transport failures with exponential backoff before trying the external
//     fallback command. HTTP status errors are final. Failed jobs are retried by the queue up to queue.attempts.
//
// Quick checklist:
//   - Configure env vars: REGDOCS_DB_DSN, REGDOCS_QUEUE_URL, REGDOCS_LABELS_FILE, REGDOCS_STORAGE_BACKEND and
//     REGDOCS_PUBSUB_* when persistence beyond memory is required.
//   - Run locally: go run . serve --config config.yaml, or go run . crawl --max-pages 2.
package cmd
