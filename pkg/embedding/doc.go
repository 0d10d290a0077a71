// Package embedding is the HTTP client for the inference service that turns
// media into vectors, captions and tags, and text into query vectors.
//
// Response statuses are mapped onto three sentinels: ErrUnsupportedMedia
// (415, 422), ErrCapacity (429, 503) and ErrUpstream (anything else).
package embedding
