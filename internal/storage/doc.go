// Package storage wraps the S3-compatible object store holding source
// uploads and pipeline exports. Keys are routed between the uploads and
// exports buckets based on their path, and every key is namespaced under
// the owning user's subject.
package storage
