package cas

import (
	"net/url"
	"strings"
)

// Object metadata keys. S3 stores these under the x-amz-meta- prefix
// and lower-cases them on the wire, so they are lower-case here too.
const (
	MetaDigest       = "digest"
	MetaOriginID     = "origin-id"
	MetaOriginalName = "original-name"
	MetaOriginPath   = "origin-path"
)

// EncodeMetadataValue makes an arbitrary string safe for S3 object
// metadata, which only survives HTTP headers as printable ASCII.
// Control characters other than tab, LF and CR are dropped, then
// everything outside the URL-unreserved set is percent-encoded. The
// result round-trips through DecodeMetadataValue.
func EncodeMetadataValue(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			continue
		}
		b.WriteRune(r)
	}

	var out strings.Builder
	for _, c := range []byte(b.String()) {
		if isUnreserved(c) {
			out.WriteByte(c)
			continue
		}
		out.WriteByte('%')
		out.WriteByte(upperhex[c>>4])
		out.WriteByte(upperhex[c&0xf])
	}
	return out.String()
}

// DecodeMetadataValue reverses EncodeMetadataValue. Values that are not
// valid percent-encodings are returned verbatim so metadata written by
// older tooling stays readable.
func DecodeMetadataValue(value string) string {
	decoded, err := url.PathUnescape(value)
	if err != nil {
		return value
	}
	return decoded
}

const upperhex = "0123456789ABCDEF"

func isUnreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z':
		return true
	case c >= 'a' && c <= 'z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_' || c == '.' || c == '~':
		return true
	}
	return false
}
