package vault

import (
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const (
	forbiddenChars = `\/:*?"<>|`
	maxNameRunes   = 128
	minStemRunes   = 3
)

// SanitizeFilename makes a page-supplied filename safe to write to disk:
// path separators and other forbidden characters become underscores, the
// length is capped, and an empty or too-short title falls back to a generic
// item_<mediaID> name. The extension is preserved.
func SanitizeFilename(name, mediaID string) string {
	name = strings.TrimSpace(name)

	mapped := strings.Map(func(r rune) rune {
		if r < 0x20 || strings.ContainsRune(forbiddenChars, r) {
			return '_'
		}

		return r
	}, name)

	ext := filepath.Ext(mapped)
	stem := strings.TrimSuffix(mapped, ext)

	if utf8.RuneCountInString(strings.Trim(stem, " ._")) < minStemRunes {
		stem = "item_" + mediaID
	}

	if max := maxNameRunes - utf8.RuneCountInString(ext); utf8.RuneCountInString(stem) > max {
		runes := []rune(stem)
		stem = string(runes[:max])
	}

	return stem + ext
}
