package drive

import (
	"context"
	"time"
)

// Enumerate walks the folder tree rooted at rootID depth-first and calls fn
// for every accepted leaf item, with Path filled in relative to the root.
// A non-zero modifiedAfter limits the yield to items modified strictly
// after it; folders are still descended so newer files inside untouched
// folders are found. Listings are ordered by modified time ascending per
// folder, which keeps watermark advancement monotonic within a folder.
//
// An error from fn or from the lister aborts the walk and is returned.
func Enumerate(ctx context.Context, lister Lister, rootID string, modifiedAfter time.Time, fn func(Item) error) error {
	return walkFolder(ctx, lister, rootID, "", modifiedAfter, fn)
}

func walkFolder(ctx context.Context, lister Lister, folderID, folderPath string, modifiedAfter time.Time, fn func(Item) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return lister.ListChildren(ctx, folderID, modifiedAfter, func(child Item) error {
		if child.IsFolder() {
			return walkFolder(ctx, lister, child.OriginID, joinPath(folderPath, child.Name), modifiedAfter, fn)
		}
		if !Accepted(child) {
			return nil
		}
		child.Path = folderPath
		return fn(child)
	})
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
