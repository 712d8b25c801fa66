// Package imagecache implements the two-tier image cache used by the gateway.
//
// Lookups go through a bounded in-memory tier (decoded bitmaps, LRU by entry
// count and byte cost) and then the on-disk tier (JPEG files keyed by the
// SHA-256 of the URL). Misses are fetched through a Coordinator that runs at
// most one download per key; the decoded result is stored in memory right
// away and written to disk by a bounded background worker pool. Every
// failure is logged and absorbed, so callers only see present or absent.
package imagecache
