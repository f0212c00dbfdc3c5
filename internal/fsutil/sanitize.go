package fsutil

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// MaxNameBytes is the longest filename most host filesystems accept.
const MaxNameBytes = 255

// SanitizeFilename reduces a client-supplied upload name to a single safe path
// element: directory components are dropped, control characters removed,
// characters reserved on common filesystems replaced with '_', and leading or
// trailing dots and spaces trimmed. The result is in Unicode NFC, so a name
// typed on macOS (NFD) and the same name typed elsewhere land on one file.
// It returns ErrInvalidFilename when nothing usable is left.
//
// "../../etc/passwd" becomes "passwd".
func SanitizeFilename(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r == utf8.RuneError, r == 0, unicode.IsControl(r):
			continue
		case strings.ContainsRune(`<>:"|?*`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}

	out := norm.NFC.String(b.String())
	out = strings.Trim(out, ". \t")
	out = truncateUTF8(out, MaxNameBytes)
	out = strings.TrimRight(out, ". ")
	if out == "" || out == "." || out == ".." {
		return "", fmt.Errorf("%q: %w", name, ErrInvalidFilename)
	}
	return out, nil
}

func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	s = s[:max]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
