// Package redis wraps go-redis with the few primitives the pipeline uses:
// SETNX markers for enqueue deduplication and a single-holder lock for the
// reconciliation sweep.
package redis
