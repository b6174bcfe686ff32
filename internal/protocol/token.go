package protocol

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Token converts a free-form name into a single whitespace-free command-line
// argument. Diacritics are folded and control characters dropped.
func Token(name string) string {
	fields := strings.FieldsFunc(name, unicode.IsSpace)
	folder := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), runes.Remove(runes.In(unicode.Cc)), norm.NFC)
	for i, field := range fields {
		if folded, _, err := transform.String(folder, field); err == nil {
			fields[i] = folded
		}
	}
	return strings.Join(fields, "_")
}
