// Package jobs runs attachment extraction for documents. The Processor is the
// single per-document procedure; an Executor decides whether it runs inline or
// is handed to a durable queue consumed by the worker pool.
package jobs
