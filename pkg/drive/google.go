package drive

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/oauth2/google"
	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/corpora-io/corpora/internal/logger"
)

// defaultPageSize is the listing page size when the config leaves it unset.
const defaultPageSize = 100

// defaultPageTimeout bounds a single listing page request.
const defaultPageTimeout = 30 * time.Second

// listFields restricts listing responses to the fields the pipeline reads.
const listFields = "nextPageToken, files(id, name, mimeType, modifiedTime, createdTime, size)"

// GoogleConfig holds the settings for the Drive v3 adapter.
type GoogleConfig struct {
	// CredentialsFile is the path to a service account JSON file. When
	// empty, application default credentials are used.
	CredentialsFile string

	// Impersonate is the subject for domain-wide delegation. Requires
	// CredentialsFile.
	Impersonate string

	// PageSize is the listing page size. Defaults to 100.
	PageSize int64

	// RequestTimeout bounds a single listing page request. Defaults to
	// 30s; negative disables. Fetch is exempt: its context must outlive
	// the body transfer.
	RequestTimeout time.Duration
}

// GoogleDrive reads a shared drive folder through the Drive v3 API with
// read-only scope. Instances wrap a single HTTP client and must not be
// shared across workers.
type GoogleDrive struct {
	svc         *gdrive.Service
	pageSize    int64
	pageTimeout time.Duration
}

var _ Source = (*GoogleDrive)(nil)

// NewGoogleDrive builds a Drive v3 client from service account credentials,
// optionally impersonating a user via domain-wide delegation.
func NewGoogleDrive(ctx context.Context, cfg GoogleConfig) (*GoogleDrive, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts, err := googleClientOptions(ctx, cfg)
	if err != nil {
		return nil, err
	}

	svc, err := gdrive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive client: %w", err)
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	pageTimeout := cfg.RequestTimeout
	if pageTimeout == 0 {
		pageTimeout = defaultPageTimeout
	}

	return &GoogleDrive{svc: svc, pageSize: pageSize, pageTimeout: pageTimeout}, nil
}

func googleClientOptions(ctx context.Context, cfg GoogleConfig) ([]option.ClientOption, error) {
	if cfg.Impersonate != "" {
		if cfg.CredentialsFile == "" {
			return nil, fmt.Errorf("impersonation requires a service account credentials file")
		}
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials file: %w", err)
		}
		jwt, err := google.JWTConfigFromJSON(data, gdrive.DriveReadonlyScope)
		if err != nil {
			return nil, fmt.Errorf("failed to parse service account credentials: %w", err)
		}
		jwt.Subject = cfg.Impersonate
		return []option.ClientOption{option.WithTokenSource(jwt.TokenSource(ctx))}, nil
	}

	if cfg.CredentialsFile != "" {
		return []option.ClientOption{
			option.WithCredentialsFile(cfg.CredentialsFile),
			option.WithScopes(gdrive.DriveReadonlyScope),
		}, nil
	}

	return []option.ClientOption{option.WithScopes(gdrive.DriveReadonlyScope)}, nil
}

// ListChildren implements Lister. Folders are exempt from the watermark so
// the walk still reaches newer files inside folders whose own modified time
// never changed.
func (g *GoogleDrive) ListChildren(ctx context.Context, folderID string, modifiedAfter time.Time, fn func(Item) error) error {
	query := fmt.Sprintf("'%s' in parents and trashed=false", folderID)
	if !modifiedAfter.IsZero() {
		query += fmt.Sprintf(" and (modifiedTime > '%s' or mimeType = '%s')",
			modifiedAfter.UTC().Format(time.RFC3339), MIMEFolder)
	}

	pageToken := ""
	for {
		pageCtx, cancel := g.pageContext(ctx)
		call := g.svc.Files.List().
			Q(query).
			PageSize(g.pageSize).
			Fields(listFields).
			OrderBy("modifiedTime").
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true).
			Context(pageCtx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		page, err := call.Do()
		cancel()
		if err != nil {
			return fmt.Errorf("failed to list folder %s: %w", folderID, err)
		}
		logger.Debug("ListChildren: page fetched", "folder_id", folderID, "entries", len(page.Files))

		for _, f := range page.Files {
			if err := fn(itemFromFile(f)); err != nil {
				return err
			}
		}

		if page.NextPageToken == "" {
			return nil
		}
		pageToken = page.NextPageToken
	}
}

// pageContext bounds one listing page request so a stalled connection
// cannot hang the walk.
func (g *GoogleDrive) pageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.pageTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.pageTimeout)
}

// Fetch implements Fetcher. No per-page deadline here: the returned body
// reads under the caller's context for as long as the payload takes.
func (g *GoogleDrive) Fetch(ctx context.Context, item Item) (io.ReadCloser, string, error) {
	if exportMIME, exportExt, ok := ExportTarget(item.MIME); ok {
		resp, err := g.svc.Files.Export(item.OriginID, exportMIME).Context(ctx).Download()
		if err != nil {
			return nil, "", fmt.Errorf("failed to export document %s: %w", item.OriginID, err)
		}
		return resp.Body, ExportName(item.Name, exportExt), nil
	}

	resp, err := g.svc.Files.Get(item.OriginID).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return nil, "", fmt.Errorf("failed to download document %s: %w", item.OriginID, err)
	}
	return resp.Body, item.Name, nil
}

// itemFromFile converts a listing entry. Drive reports RFC 3339 timestamps;
// values that fail to parse come back zero. Entries missing a created time
// inherit the modified time.
func itemFromFile(f *gdrive.File) Item {
	modified, _ := time.Parse(time.RFC3339, f.ModifiedTime)
	created, _ := time.Parse(time.RFC3339, f.CreatedTime)
	if created.IsZero() {
		created = modified
	}

	return Item{
		OriginID:   f.Id,
		Name:       f.Name,
		MIME:       f.MimeType,
		CreatedAt:  created,
		ModifiedAt: modified,
		Size:       f.Size,
	}
}
