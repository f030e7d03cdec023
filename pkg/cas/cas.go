// Package cas provides the content-addressed object store where source
// payloads and derivative bundles live.
//
// Keys are pure functions of the content digest (see keys.go), so writes
// are idempotent at the byte level and never require read-before-write.
// Every failure is classified as transient (worth a retry, see
// IsTransient) or permanent.
package cas

import (
	"context"
	"io"
	"time"
)

// Store is the object store contract used by the pipeline stages.
//
// Payload streams returned by Get must be closed by the caller and may
// exceed memory. User metadata values are stored ASCII-safe
// (percent-encoded, RFC 3986) and returned decoded by Head.
type Store interface {
	// Exists checks whether an object is present without fetching it.
	Exists(ctx context.Context, key string) (bool, error)

	// Head returns the object's size, content type and decoded user
	// metadata.
	Head(ctx context.Context, key string) (*ObjectInfo, error)

	// Get opens the payload for streaming.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Put stores a payload under key with the given content type and
	// user metadata.
	Put(ctx context.Context, key string, body io.Reader, contentType string, metadata map[string]string) error

	// PutBytes stores a small in-memory payload.
	PutBytes(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) error

	// ReplaceMetadata swaps the user metadata in place while preserving
	// the payload bytes, the content type and the digest identity field.
	ReplaceMetadata(ctx context.Context, key string, metadata map[string]string) error

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error

	// List streams object summaries under a prefix to fn until the
	// listing ends or fn returns an error.
	List(ctx context.Context, prefix string, fn func(ObjectSummary) error) error

	// ListVersions streams version summaries under a prefix, including
	// delete markers, for versioned buckets.
	ListVersions(ctx context.Context, prefix string, fn func(VersionSummary) error) error
}

// ObjectInfo describes an object head.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	Metadata     map[string]string
	LastModified time.Time
}

// ObjectSummary is one entry of a prefix listing.
type ObjectSummary struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// VersionSummary is one entry of a versioned listing.
type VersionSummary struct {
	Key            string
	VersionID      string
	IsLatest       bool
	IsDeleteMarker bool
}
