// Package crawler holds the registry crawl: shared document types, the store and
// queue contracts, the listing crawler and the detail extractor.
package crawler
