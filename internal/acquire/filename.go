package acquire

import (
	"path"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// SanitizeFilename reduces a client-supplied name to a safe base name made of
// ASCII letters, digits, '_', '.' and '-'. It returns "" when nothing usable
// remains.
func SanitizeFilename(name string) string {
	name = norm.NFKD.String(name)

	// Treat both separators as path boundaries regardless of the client OS.
	name = strings.ReplaceAll(name, `\`, "/")
	name = path.Base(name)
	if name == "." || name == "/" {
		return ""
	}

	name = strings.Join(strings.Fields(name), "_")

	var b strings.Builder
	for _, r := range name {
		if r > unicode.MaxASCII {
			continue
		}
		if isSafeRune(r) {
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "._")
}

func isSafeRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_', r == '.', r == '-':
		return true
	}
	return false
}
