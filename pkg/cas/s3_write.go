// This file contains write operations for the S3-backed store: streamed
// and in-memory uploads, metadata replacement, and deletes.
package cas

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/corpora-io/corpora/internal/logger"
)

// Put stores a payload under key. User metadata values are
// percent-encoded before upload.
//
// Retry Behavior:
// Transient errors are retried with exponential backoff when the body
// is rewindable (implements io.Seeker); a non-seekable stream cannot be
// replayed after a partial send, so its first transient error surfaces
// as a TransientError for the caller to retry at the document level.
// No per-attempt deadline: the upload runs under the caller's context
// for as long as the payload takes.
func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, contentType string, metadata map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	seeker, rewindable := body.(io.Seeker)
	encoded := encodeMetadata(metadata)

	var lastErr error

	for attempt := 0; attempt <= s.retry.maxRetries; attempt++ {
		if attempt > 0 {
			if !rewindable {
				break
			}
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("failed to rewind payload for retry: %w", err)
			}

			backoff := s.calculateBackoff(attempt - 1)
			logger.Debug("Put: retrying", "backoff", backoff, "attempt", attempt, "key", key)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		input := &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   body,
		}
		if contentType != "" {
			input.ContentType = aws.String(contentType)
		}
		if len(encoded) > 0 {
			input.Metadata = encoded
		}

		_, lastErr = s.client.PutObject(ctx, input)

		if lastErr == nil {
			return nil
		}

		if !isRetryableError(lastErr) {
			break
		}

		logger.Debug("Put: transient error", "attempt", attempt+1, "key", key, "error", lastErr)
	}

	return s.wrapFailure(ctx, "put", key, lastErr)
}

// PutBytes stores a small in-memory payload.
func (s *S3Store) PutBytes(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) error {
	return s.Put(ctx, key, bytes.NewReader(data), contentType, metadata)
}

// ReplaceMetadata swaps the user metadata in place via CopyObject onto
// the same key with MetadataDirective=REPLACE. Payload bytes and the
// content type are preserved, and the digest identity field carries
// over even when the new metadata omits it.
func (s *S3Store) ReplaceMetadata(ctx context.Context, key string, metadata map[string]string) error {
	info, err := s.Head(ctx, key)
	if err != nil {
		return err
	}

	merged := make(map[string]string, len(metadata)+1)
	if digest, ok := info.Metadata[MetaDigest]; ok {
		merged[MetaDigest] = digest
	}
	for k, v := range metadata {
		merged[k] = v
	}
	encoded := encodeMetadata(merged)

	// CAS keys are ASCII-only, no escaping needed in the copy source.
	copySource := s.bucket + "/" + key

	var lastErr error

	for attempt := 0; attempt <= s.retry.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := s.calculateBackoff(attempt - 1)
			logger.Debug("ReplaceMetadata: retrying", "backoff", backoff, "attempt", attempt, "key", key)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		input := &s3.CopyObjectInput{
			Bucket:            aws.String(s.bucket),
			Key:               aws.String(key),
			CopySource:        aws.String(copySource),
			Metadata:          encoded,
			MetadataDirective: types.MetadataDirectiveReplace,
		}
		if info.ContentType != "" {
			input.ContentType = aws.String(info.ContentType)
		}

		attemptCtx, cancel := s.attemptContext(ctx)
		_, lastErr = s.client.CopyObject(attemptCtx, input)
		cancel()

		if lastErr == nil {
			return nil
		}

		if isNotFoundError(lastErr) {
			return fmt.Errorf("object %s: %w", key, ErrNotFound)
		}

		if !isRetryableError(lastErr) && !attemptTimedOut(ctx, lastErr) {
			break
		}

		logger.Debug("ReplaceMetadata: transient error", "attempt", attempt+1, "key", key, "error", lastErr)
	}

	return s.wrapFailure(ctx, "copy", key, lastErr)
}

// Delete removes an object. Deleting a missing object is not an error.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var lastErr error

	for attempt := 0; attempt <= s.retry.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := s.calculateBackoff(attempt - 1)
			logger.Debug("Delete: retrying", "backoff", backoff, "attempt", attempt, "key", key)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		attemptCtx, cancel := s.attemptContext(ctx)
		_, lastErr = s.client.DeleteObject(attemptCtx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		cancel()

		if lastErr == nil || isNotFoundError(lastErr) {
			return nil
		}

		if !isRetryableError(lastErr) && !attemptTimedOut(ctx, lastErr) {
			break
		}

		logger.Debug("Delete: transient error", "attempt", attempt+1, "key", key, "error", lastErr)
	}

	return s.wrapFailure(ctx, "delete", key, lastErr)
}

func encodeMetadata(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		out[k] = EncodeMetadataValue(v)
	}
	return out
}
