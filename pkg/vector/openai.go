package vector

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/corpora-io/corpora/internal/logger"
)

const uploadContentType = "text/plain"

// Config carries the connection settings for the hosted vector service.
type Config struct {
	// APIKey authenticates every request. Empty falls through to the
	// OPENAI_API_KEY environment variable.
	APIKey string

	// BaseURL overrides the default API endpoint. Empty means the
	// service's public endpoint.
	BaseURL string

	// StoreID is the vector store uploaded files are attached to.
	StoreID string

	// RequestTimeout bounds a single HTTP request. Each retry gets a
	// fresh budget.
	RequestTimeout time.Duration
}

// OpenAI implements Service against the OpenAI Files and Vector Stores
// APIs. The SDK's built-in retry loop is disabled so the backoff policy
// in this package is the only one in play.
type OpenAI struct {
	client  openai.Client
	storeID string
}

var _ Service = (*OpenAI)(nil)

// NewOpenAI builds a client from cfg. It does not talk to the service;
// credential problems surface on first use.
func NewOpenAI(cfg Config) *OpenAI {
	opts := []option.RequestOption{
		option.WithMaxRetries(0),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.RequestTimeout))
	}

	return &OpenAI{
		client:  openai.NewClient(opts...),
		storeID: cfg.StoreID,
	}
}

// StoreID reports the vector store Attach targets.
func (s *OpenAI) StoreID() string {
	return s.storeID
}

// Upload sends the text to the Files API with the assistants purpose and
// returns the file id.
//
// Retry Behavior:
// A retry must replay the body from the start, so transient failures are
// retried only when the body is rewindable (implements io.Seeker). A
// consumed non-seekable stream gets a single attempt and its first
// failure is final.
func (s *OpenAI) Upload(ctx context.Context, name string, body io.Reader) (string, error) {
	seeker, rewindable := body.(io.Seeker)

	var fileID string
	attempt := 0
	err := s.withRetry(ctx, "files.create", func() error {
		attempt++
		if attempt > 1 {
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return backoff.Permanent(fmt.Errorf("failed to rewind payload for retry: %w", err))
			}
		}

		f, err := s.client.Files.New(ctx, openai.FileNewParams{
			File:    openai.File(body, name, uploadContentType),
			Purpose: openai.FilePurposeAssistants,
		})
		if err != nil {
			if !rewindable {
				return backoff.Permanent(err)
			}
			return err
		}

		fileID = f.ID
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}

	logger.Debug("uploaded text to vector service", "name", name, "file_id", fileID)
	return fileID, nil
}

// Attach adds an uploaded file to the configured vector store.
func (s *OpenAI) Attach(ctx context.Context, fileID string) error {
	err := s.withRetry(ctx, "vector_stores.files.create", func() error {
		_, err := s.client.VectorStores.Files.New(ctx, s.storeID, openai.VectorStoreFileNewParams{
			FileID: fileID,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("attach %s to vector store %s: %w", fileID, s.storeID, err)
	}

	logger.Debug("attached file to vector store", "file_id", fileID, "store_id", s.storeID)
	return nil
}

func (s *OpenAI) withRetry(ctx context.Context, call string, op func() error) error {
	return retryCall(ctx, call, newServiceBackoff(), op)
}
