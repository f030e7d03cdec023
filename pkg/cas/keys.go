package cas

import (
	"fmt"
	"path"
	"strings"
)

// Derivative bundle entry names under derivatives/AA/BB/<digest>/.
const (
	DerivativeElements = "elements.jsonl"
	DerivativeText     = "text.txt"
	DerivativeMeta     = "meta.json"
)

// Content types for derivative uploads.
const (
	ContentTypeJSONL = "application/jsonl"
	ContentTypeText  = "text/plain; charset=utf-8"
	ContentTypeJSON  = "application/json"
)

// ObjectKey derives the CAS key for a source payload from its digest and
// normalized extension. Keys shard on the first two byte pairs of the
// digest (like Git) so no listing prefix grows unbounded.
//
//	objects/aa/bb/aabbcc...digest.pdf
func ObjectKey(digest, ext string) string {
	return fmt.Sprintf("objects/%s/%s/%s%s", digest[0:2], digest[2:4], digest, ext)
}

// DerivativeKey derives the CAS key of one derivative bundle entry.
//
//	derivatives/aa/bb/aabbcc...digest/text.txt
func DerivativeKey(digest, name string) string {
	return DerivativePrefix(digest) + name
}

// DerivativePrefix is the key prefix of a digest's derivative bundle.
func DerivativePrefix(digest string) string {
	return fmt.Sprintf("derivatives/%s/%s/%s/", digest[0:2], digest[2:4], digest)
}

// LegacyIndexedKey is the marker key an older pipeline wrote after
// indexing a document. Read by the migration only.
func LegacyIndexedKey(digest string) string {
	return fmt.Sprintf("indexed/%s/%s.indexed", digest[0:2], digest)
}

// LegacyFailedKey is the marker key an older pipeline wrote after a
// processing failure. Read by the migration only.
func LegacyFailedKey(digest string) string {
	return fmt.Sprintf("failed/%s/%s.txt", digest[0:2], digest)
}

// ParseObjectKey extracts the digest and extension from a source object
// key. Returns ok=false for keys outside the objects/ layout.
func ParseObjectKey(key string) (digest, ext string, ok bool) {
	parts := strings.Split(key, "/")
	if len(parts) != 4 || parts[0] != "objects" {
		return "", "", false
	}
	base := parts[3]
	if len(base) < 64 {
		return "", "", false
	}
	digest, ext = base[:64], base[64:]
	if !IsDigest(digest) || parts[1] != digest[0:2] || parts[2] != digest[2:4] {
		return "", "", false
	}
	return digest, ext, true
}

// ParseDerivativeKey extracts the digest and entry name from a
// derivative bundle key. Returns ok=false for keys outside the
// derivatives/ layout.
func ParseDerivativeKey(key string) (digest, name string, ok bool) {
	parts := strings.Split(key, "/")
	if len(parts) != 5 || parts[0] != "derivatives" {
		return "", "", false
	}
	digest, name = parts[3], parts[4]
	if !IsDigest(digest) || parts[1] != digest[0:2] || parts[2] != digest[2:4] {
		return "", "", false
	}
	return digest, name, true
}

// ParseLegacyMarkerKey extracts the digest from an indexed/ or failed/
// marker key.
func ParseLegacyMarkerKey(key string) (digest string, ok bool) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 {
		return "", false
	}
	base := parts[2]
	switch parts[0] {
	case "indexed":
		base = strings.TrimSuffix(base, ".indexed")
	case "failed":
		base = strings.TrimSuffix(base, ".txt")
	default:
		return "", false
	}
	if !IsDigest(base) || parts[1] != base[0:2] {
		return "", false
	}
	return base, true
}

// IsDigest reports whether s looks like a lower-case SHA-256 hex digest.
func IsDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}

// NormalizeExtension lower-cases a file name's extension, keeping the
// leading dot. Returns "" when the name has no extension.
func NormalizeExtension(name string) string {
	return strings.ToLower(path.Ext(name))
}

// contentTypes maps normalized extensions to upload content types.
var contentTypes = map[string]string{
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".rtf":  "application/rtf",
	".epub": "application/epub+zip",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// ContentTypeForExtension returns the upload content type for a
// normalized extension, defaulting to application/octet-stream.
func ContentTypeForExtension(ext string) string {
	if ct, ok := contentTypes[strings.ToLower(ext)]; ok {
		return ct
	}
	return "application/octet-stream"
}
