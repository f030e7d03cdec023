// Package drive reads documents out of a Google Drive folder tree.
//
// The traversal (Enumerate) and the sync stage work against the narrow
// Lister and Fetcher interfaces so they can be tested with fakes;
// GoogleDrive implements both against the real Drive v3 API. Clients are
// not assumed thread-safe: construct one adapter per worker.
package drive

import (
	"context"
	"io"
	"path"
	"strings"
	"time"
)

// Item is a single entry discovered during traversal. Leaves describe
// documents; folder entries (see IsFolder) only steer the walk and are
// never yielded by Enumerate.
type Item struct {
	// OriginID is the drive's stable identifier for the entry.
	OriginID string

	// Name is the display name, including the extension for regular files.
	Name string

	// Path is the logical folder path from the sync root, segments joined
	// with "/". Empty for entries directly under the root. The item's own
	// name is not part of Path.
	Path string

	// MIME is the drive-reported MIME type.
	MIME string

	CreatedAt  time.Time
	ModifiedAt time.Time

	// Size is the payload size in bytes. Zero for native workspace
	// documents, which have no byte representation until exported.
	Size int64
}

// IsFolder reports whether the item is a folder entry.
func (it Item) IsFolder() bool {
	return it.MIME == MIMEFolder
}

// Lister pages through the direct children of a folder.
type Lister interface {
	// ListChildren calls fn for every non-trashed child of folderID in
	// ascending modified-time order, following continuation tokens to
	// completion. A non-zero modifiedAfter restricts regular files to
	// those modified strictly after it; folders are always returned so
	// the walk can descend into subtrees that hold newer files. An error
	// from fn aborts the listing and is returned unchanged.
	ListChildren(ctx context.Context, folderID string, modifiedAfter time.Time, fn func(Item) error) error
}

// Fetcher opens item payloads for reading.
type Fetcher interface {
	// Fetch streams the item's bytes. Native workspace documents are
	// exported to their fixed office format and the returned name carries
	// the export extension; everything else downloads as-is with the
	// item's own name. The caller must close the stream.
	Fetch(ctx context.Context, item Item) (io.ReadCloser, string, error)
}

// Source is a complete drive backend: traversal plus payload access.
type Source interface {
	Lister
	Fetcher
}

// acceptedExtensions are the document types ingested directly. Native
// workspace documents are accepted through the export mapping instead.
var acceptedExtensions = map[string]bool{
	".pdf":  true,
	".doc":  true,
	".docx": true,
	".ppt":  true,
	".pptx": true,
	".txt":  true,
	".rtf":  true,
	".epub": true,
}

// Accepted reports whether the traversal should yield item: either its
// extension is in the accepted set or its MIME type requires export.
func Accepted(item Item) bool {
	if RequiresExport(item.MIME) {
		return true
	}
	return acceptedExtensions[strings.ToLower(path.Ext(item.Name))]
}
