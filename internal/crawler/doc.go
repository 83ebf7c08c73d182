// Package crawler implements the single-domain crawl engine: a breadth-first
// frontier, per-page change detection by content hash, and hand-off of new
// chunks to the embedder and retrieval index.
package crawler
