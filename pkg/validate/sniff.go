package validate

import (
	"net/http"
	"strings"
	"unicode"
)

// sniffMime detects the MIME type from the leading bytes.
// http.DetectContentType implements the WHATWG sniffing algorithm and covers
// all three accepted formats; parameters (e.g. "; charset=") are stripped.
func sniffMime(data []byte) string {
	mime := http.DetectContentType(data)
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	return mime
}

// maxFilenameBytes bounds the stored original filename.
const maxFilenameBytes = 255

// SanitizeFilename strips directory components and control characters and
// truncates to 255 bytes. An empty or fully stripped name yields "upload".
func SanitizeFilename(name string) string {
	// Keep only the final path element, whichever separator the client used.
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}

	var b strings.Builder
	for _, r := range name {
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	name = b.String()

	// Path traversal leftovers become meaningless after the base-name cut,
	// but "." and ".." themselves are not usable names.
	if name == "" || name == "." || name == ".." {
		return "upload"
	}

	if len(name) > maxFilenameBytes {
		// Cut on a rune boundary.
		cut := maxFilenameBytes
		for cut > 0 && !isRuneStart(name[cut]) {
			cut--
		}
		name = name[:cut]
	}
	return name
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
