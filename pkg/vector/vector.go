// Package vector uploads extracted document text into a hosted
// vector-search service. The concrete implementation talks to the OpenAI
// Files and Vector Stores APIs; the indexing stage depends only on the
// Service interface so tests can substitute a fake.
package vector

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/openai/openai-go"
)

// Service is the slice of the vector-search API the indexing stage needs.
// Implementations must be safe for concurrent use.
type Service interface {
	// Upload streams a document's text to the service under the given
	// file name and returns the service-side file id.
	Upload(ctx context.Context, name string, body io.Reader) (string, error)

	// Attach adds a previously uploaded file to the configured vector
	// store so it becomes searchable.
	Attach(ctx context.Context, fileID string) error

	// StoreID reports which vector store Attach targets.
	StoreID() string
}

// IsRetryable reports whether err is worth another attempt: rate limiting
// or a server-side failure. Every other client error is final.
func IsRetryable(err error) bool {
	var apierr *openai.Error
	if !errors.As(err, &apierr) {
		return false
	}
	return apierr.StatusCode == http.StatusTooManyRequests ||
		apierr.StatusCode >= http.StatusInternalServerError
}
