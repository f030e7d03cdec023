package cas

import (
	"strings"
	"testing"
)

const testDigest = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func TestObjectKey(t *testing.T) {
	got := ObjectKey(testDigest, ".pdf")
	want := "objects/01/23/" + testDigest + ".pdf"
	if got != want {
		t.Errorf("ObjectKey() = %q, want %q", got, want)
	}

	// No extension is legal (extension-less origin names).
	got = ObjectKey(testDigest, "")
	want = "objects/01/23/" + testDigest
	if got != want {
		t.Errorf("ObjectKey() = %q, want %q", got, want)
	}
}

func TestDerivativeKeys(t *testing.T) {
	prefix := DerivativePrefix(testDigest)
	want := "derivatives/01/23/" + testDigest + "/"
	if prefix != want {
		t.Errorf("DerivativePrefix() = %q, want %q", prefix, want)
	}

	for _, name := range []string{DerivativeElements, DerivativeText, DerivativeMeta} {
		key := DerivativeKey(testDigest, name)
		if !strings.HasPrefix(key, prefix) {
			t.Errorf("DerivativeKey(%q) = %q, want prefix %q", name, key, prefix)
		}
		if !strings.HasSuffix(key, "/"+name) {
			t.Errorf("DerivativeKey(%q) = %q, want suffix %q", name, key, "/"+name)
		}
	}
}

func TestLegacyMarkerKeys(t *testing.T) {
	indexed := LegacyIndexedKey(testDigest)
	if indexed != "indexed/01/"+testDigest+".indexed" {
		t.Errorf("LegacyIndexedKey() = %q", indexed)
	}

	failed := LegacyFailedKey(testDigest)
	if failed != "failed/01/"+testDigest+".txt" {
		t.Errorf("LegacyFailedKey() = %q", failed)
	}
}

func TestParseObjectKey(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		wantDigest string
		wantExt    string
		wantOK     bool
	}{
		{"pdf roundtrip", ObjectKey(testDigest, ".pdf"), testDigest, ".pdf", true},
		{"no extension", ObjectKey(testDigest, ""), testDigest, "", true},
		{"double extension", ObjectKey(testDigest, ".tar.gz"), testDigest, ".tar.gz", true},
		{"wrong root", "derivatives/01/23/" + testDigest + ".pdf", "", "", false},
		{"shard mismatch", "objects/aa/bb/" + testDigest + ".pdf", "", "", false},
		{"short digest", "objects/01/23/0123.pdf", "", "", false},
		{"uppercase digest", "objects/01/23/" + strings.ToUpper(testDigest) + ".pdf", "", "", false},
		{"missing shard level", "objects/01/" + testDigest + ".pdf", "", "", false},
		{"empty", "", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			digest, ext, ok := ParseObjectKey(tt.key)
			if ok != tt.wantOK {
				t.Fatalf("ParseObjectKey(%q) ok = %v, want %v", tt.key, ok, tt.wantOK)
			}
			if digest != tt.wantDigest || ext != tt.wantExt {
				t.Errorf("ParseObjectKey(%q) = (%q, %q), want (%q, %q)", tt.key, digest, ext, tt.wantDigest, tt.wantExt)
			}
		})
	}
}

func TestParseDerivativeKey(t *testing.T) {
	key := DerivativeKey(testDigest, DerivativeMeta)
	digest, name, ok := ParseDerivativeKey(key)
	if !ok {
		t.Fatalf("ParseDerivativeKey(%q) ok = false", key)
	}
	if digest != testDigest || name != DerivativeMeta {
		t.Errorf("ParseDerivativeKey(%q) = (%q, %q)", key, digest, name)
	}

	if _, _, ok := ParseDerivativeKey("objects/01/23/" + testDigest + ".pdf"); ok {
		t.Error("ParseDerivativeKey accepted objects/ key")
	}
	if _, _, ok := ParseDerivativeKey("derivatives/99/23/" + testDigest + "/" + DerivativeMeta); ok {
		t.Error("ParseDerivativeKey accepted shard mismatch")
	}
}

func TestParseLegacyMarkerKey(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		wantOK bool
	}{
		{"indexed marker", LegacyIndexedKey(testDigest), true},
		{"failed marker", LegacyFailedKey(testDigest), true},
		{"wrong root", "objects/01/" + testDigest + ".indexed", false},
		{"shard mismatch", "indexed/aa/" + testDigest + ".indexed", false},
		{"bad digest", "indexed/01/not-a-digest.indexed", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			digest, ok := ParseLegacyMarkerKey(tt.key)
			if ok != tt.wantOK {
				t.Fatalf("ParseLegacyMarkerKey(%q) ok = %v, want %v", tt.key, ok, tt.wantOK)
			}
			if ok && digest != testDigest {
				t.Errorf("ParseLegacyMarkerKey(%q) digest = %q, want %q", tt.key, digest, testDigest)
			}
		})
	}
}

func TestIsDigest(t *testing.T) {
	if !IsDigest(testDigest) {
		t.Error("IsDigest rejected a valid digest")
	}
	for _, bad := range []string{
		"",
		"0123",
		strings.ToUpper(testDigest),
		testDigest[:63] + "g",
		testDigest + "0",
	} {
		if IsDigest(bad) {
			t.Errorf("IsDigest(%q) = true, want false", bad)
		}
	}
}

func TestNormalizeExtension(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase pdf", "report.pdf", ".pdf"},
		{"uppercase", "REPORT.PDF", ".pdf"},
		{"mixed case docx", "Minutes.DocX", ".docx"},
		{"no extension", "README", ""},
		{"trailing dot", "weird.", "."},
		{"nested path", "folder/some.name.txt", ".txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeExtension(tt.in); got != tt.want {
				t.Errorf("NormalizeExtension(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestContentTypeForExtension(t *testing.T) {
	tests := []struct {
		ext  string
		want string
	}{
		{".pdf", "application/pdf"},
		{".txt", "text/plain"},
		{".doc", "application/msword"},
		{".docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
		{".ppt", "application/vnd.ms-powerpoint"},
		{".pptx", "application/vnd.openxmlformats-officedocument.presentationml.presentation"},
		{".xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
		{".epub", "application/epub+zip"},
		{".rtf", "application/rtf"},
		{".PDF", "application/pdf"},
		{".unknown", "application/octet-stream"},
		{"", "application/octet-stream"},
	}

	for _, tt := range tests {
		if got := ContentTypeForExtension(tt.ext); got != tt.want {
			t.Errorf("ContentTypeForExtension(%q) = %q, want %q", tt.ext, got, tt.want)
		}
	}
}
