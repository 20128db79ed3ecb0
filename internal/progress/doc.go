// Package progress tracks the state of individual crawl runs. Each run owns its
// Tracker; callers poll Snapshot or Subscribe for updates.
package progress
