// This file contains read operations for the S3-backed store: existence
// checks, head requests, streamed downloads, and prefix listings, plus
// the error classification and backoff helpers shared with the write
// path.
package cas

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/corpora-io/corpora/internal/logger"
)

// isRetryableError returns true if the error is transient and the operation should be retried.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Context errors are not retryable
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Network errors are retryable
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	// Check for AWS API errors
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()

		// Throttling errors - retryable
		if code == "Throttling" || code == "ThrottlingException" ||
			code == "RequestThrottled" || code == "SlowDown" ||
			code == "ProvisionedThroughputExceededException" {
			return true
		}

		// Server errors (5xx) - retryable
		if code == "InternalError" || code == "ServiceUnavailable" ||
			code == "ServiceException" || code == "InternalServiceException" {
			return true
		}

		// Not found, access denied, invalid request - not retryable
		if code == "NoSuchKey" || code == "NotFound" ||
			code == "AccessDenied" || code == "Forbidden" ||
			code == "InvalidRequest" {
			return false
		}
	}

	// Check error message for common patterns
	errStr := err.Error()
	if strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "i/o timeout") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "500") {
		return true
	}

	return false
}

// isNotFoundError returns true if the error indicates the object doesn't exist.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	// Check typed errors
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}

	// Check AWS API error code
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if code == "NoSuchKey" || code == "NotFound" || code == "404" {
			return true
		}
	}

	// Check error message for 404 patterns
	errStr := err.Error()
	return strings.Contains(errStr, "StatusCode: 404") ||
		strings.Contains(errStr, "NotFound") ||
		strings.Contains(errStr, "NoSuchKey")
}

// calculateBackoff returns the backoff duration for a given attempt using the store's retry config.
func (s *S3Store) calculateBackoff(attempt int) time.Duration {
	backoff := float64(s.retry.initialBackoff)
	for i := 0; i < attempt; i++ {
		backoff *= s.retry.backoffMultiplier
	}
	if backoff > float64(s.retry.maxBackoff) {
		backoff = float64(s.retry.maxBackoff)
	}
	return time.Duration(backoff)
}

// attemptContext bounds one metadata-level request so a stalled
// connection cannot hang a worker. Get and Put skip it: their context
// must outlive the body transfer.
func (s *S3Store) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.retry.attemptTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.retry.attemptTimeout)
}

// attemptTimedOut reports whether err came from the per-attempt
// deadline rather than cancellation of the surrounding context.
func attemptTimedOut(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil
}

// wrapFailure classifies an exhausted or non-retryable backend error so
// callers can tell retry-worthy failures from terminal ones. Outer
// context cancellation passes through unwrapped; a per-attempt timeout
// is transient like any other network fault.
func (s *S3Store) wrapFailure(ctx context.Context, op, key string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if ctx.Err() != nil {
			return err
		}
		return &TransientError{Op: op, Key: key, Err: fmt.Errorf("after %d attempts: %w", s.retry.maxRetries+1, err)}
	}
	if isRetryableError(err) {
		return &TransientError{Op: op, Key: key, Err: fmt.Errorf("after %d attempts: %w", s.retry.maxRetries+1, err)}
	}
	return &PermanentError{Op: op, Key: key, Err: err}
}

// Exists checks whether an object is present without fetching it.
//
// Transient errors are retried with exponential backoff. A missing
// object returns (false, nil), never an error.
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var lastErr error

	for attempt := 0; attempt <= s.retry.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := s.calculateBackoff(attempt - 1)
			logger.Debug("Exists: retrying", "backoff", backoff, "attempt", attempt, "key", key)

			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(backoff):
			}
		}

		attemptCtx, cancel := s.attemptContext(ctx)
		_, lastErr = s.client.HeadObject(attemptCtx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		cancel()

		if lastErr == nil {
			return true, nil
		}

		if isNotFoundError(lastErr) {
			return false, nil
		}

		if !isRetryableError(lastErr) && !attemptTimedOut(ctx, lastErr) {
			break
		}

		logger.Debug("Exists: transient error", "attempt", attempt+1, "key", key, "error", lastErr)
	}

	return false, s.wrapFailure(ctx, "head", key, lastErr)
}

// Head returns the object's size, content type and decoded user metadata.
func (s *S3Store) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result *s3.HeadObjectOutput
	var lastErr error

	for attempt := 0; attempt <= s.retry.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := s.calculateBackoff(attempt - 1)
			logger.Debug("Head: retrying", "backoff", backoff, "attempt", attempt, "key", key)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		attemptCtx, cancel := s.attemptContext(ctx)
		result, lastErr = s.client.HeadObject(attemptCtx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		cancel()

		if lastErr == nil {
			break
		}

		if isNotFoundError(lastErr) {
			return nil, fmt.Errorf("object %s: %w", key, ErrNotFound)
		}

		if !isRetryableError(lastErr) && !attemptTimedOut(ctx, lastErr) {
			break
		}

		logger.Debug("Head: transient error", "attempt", attempt+1, "key", key, "error", lastErr)
	}

	if lastErr != nil {
		return nil, s.wrapFailure(ctx, "head", key, lastErr)
	}

	meta := make(map[string]string, len(result.Metadata))
	for k, v := range result.Metadata {
		meta[strings.ToLower(k)] = DecodeMetadataValue(v)
	}

	return &ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(result.ContentLength),
		ContentType:  aws.ToString(result.ContentType),
		Metadata:     meta,
		LastModified: aws.ToTime(result.LastModified),
	}, nil
}

// Get opens the payload for streaming. The caller must close the
// returned reader. No per-attempt deadline here: the returned body
// reads under the caller's context for as long as the payload takes.
func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result *s3.GetObjectOutput
	var lastErr error

	for attempt := 0; attempt <= s.retry.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := s.calculateBackoff(attempt - 1)
			logger.Debug("Get: retrying", "backoff", backoff, "attempt", attempt, "key", key)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, lastErr = s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})

		if lastErr == nil {
			break
		}

		if isNotFoundError(lastErr) {
			return nil, fmt.Errorf("object %s: %w", key, ErrNotFound)
		}

		if !isRetryableError(lastErr) {
			break
		}

		logger.Debug("Get: transient error", "attempt", attempt+1, "key", key, "error", lastErr)
	}

	if lastErr != nil {
		return nil, s.wrapFailure(ctx, "get", key, lastErr)
	}

	return result.Body, nil
}

// List streams object summaries under a prefix to fn in lexical key
// order until the listing ends or fn returns an error.
func (s *S3Store) List(ctx context.Context, prefix string, fn func(ObjectSummary) error) error {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		if err := ctx.Err(); err != nil {
			return err
		}

		attemptCtx, cancel := s.attemptContext(ctx)
		page, err := paginator.NextPage(attemptCtx)
		cancel()
		if err != nil {
			return s.wrapFailure(ctx, "list", prefix, err)
		}

		for _, obj := range page.Contents {
			summary := ObjectSummary{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			}
			if err := fn(summary); err != nil {
				return err
			}
		}
	}

	return nil
}

// ListVersions streams version summaries under a prefix, including
// delete markers. The SDK has no paginator for ListObjectVersions, so
// the marker loop is explicit.
func (s *S3Store) ListVersions(ctx context.Context, prefix string, fn func(VersionSummary) error) error {
	input := &s3.ListObjectVersionsInput{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		attemptCtx, cancel := s.attemptContext(ctx)
		page, err := s.client.ListObjectVersions(attemptCtx, input)
		cancel()
		if err != nil {
			return s.wrapFailure(ctx, "list-versions", prefix, err)
		}

		for _, v := range page.Versions {
			summary := VersionSummary{
				Key:       aws.ToString(v.Key),
				VersionID: aws.ToString(v.VersionId),
				IsLatest:  aws.ToBool(v.IsLatest),
			}
			if err := fn(summary); err != nil {
				return err
			}
		}

		for _, m := range page.DeleteMarkers {
			summary := VersionSummary{
				Key:            aws.ToString(m.Key),
				VersionID:      aws.ToString(m.VersionId),
				IsLatest:       aws.ToBool(m.IsLatest),
				IsDeleteMarker: true,
			}
			if err := fn(summary); err != nil {
				return err
			}
		}

		if !aws.ToBool(page.IsTruncated) {
			return nil
		}

		input.KeyMarker = page.NextKeyMarker
		input.VersionIdMarker = page.NextVersionIdMarker
	}
}
