// Package cache defines the disk-backed store that persists encoded item
// photos as StoragePath/<key> files. Keys are derived from the image URL by
// KeyFor, so the directory itself is the index: presence of a file is a hit.
// The store exposes read/write primitives with safe semantics (temp file +
// rename) plus Clear/TotalSize for invalidation and diagnostics. The image
// cache depends on this package for its durable tier without duplicating
// filesystem logic.
package cache
