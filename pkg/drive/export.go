package drive

import (
	"path"
	"strings"
)

// MIMEFolder is the MIME type drive assigns to folder entries.
const MIMEFolder = "application/vnd.google-apps.folder"

// exportTarget is the fixed office format a native workspace document is
// exported to.
type exportTarget struct {
	mime      string
	extension string
}

// exportTargets maps Google Workspace native formats to the office format
// used for download. Native documents have no byte representation of their
// own and must be exported.
var exportTargets = map[string]exportTarget{
	"application/vnd.google-apps.document": {
		mime:      "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		extension: ".docx",
	},
	"application/vnd.google-apps.presentation": {
		mime:      "application/vnd.openxmlformats-officedocument.presentationml.presentation",
		extension: ".pptx",
	},
	"application/vnd.google-apps.spreadsheet": {
		mime:      "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		extension: ".xlsx",
	},
}

// RequiresExport reports whether mime is a Google Workspace native format
// that must be exported rather than downloaded.
func RequiresExport(mime string) bool {
	_, ok := exportTargets[mime]
	return ok
}

// ExportTarget returns the office MIME type and file extension used to
// export a native workspace document, and whether mime is native at all.
func ExportTarget(mime string) (exportMIME, extension string, ok bool) {
	t, ok := exportTargets[mime]
	return t.mime, t.extension, ok
}

// ExportName rewrites a display name for an exported payload: the original
// extension, if any, is replaced by the export extension.
func ExportName(name, extension string) string {
	return strings.TrimSuffix(name, path.Ext(name)) + extension
}
