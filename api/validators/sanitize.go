package validators

import (
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	pkgerrors "github.com/angelmondragon/threadline-backend/pkg/errors"
)

const maxSizeLabelLength = 16

// SanitizeText trims input, folds whitespace runs into single spaces and caps the
// result at maxLen runes.
func SanitizeText(input string, maxLen int) string {
	folded := strings.Join(strings.Fields(input), " ")
	if maxLen > 0 && utf8.RuneCountInString(folded) > maxLen {
		folded = strings.TrimSpace(string([]rune(folded)[:maxLen]))
	}
	return folded
}

// SizeLabel checks a garment size picked by the shopper. Sizes are compared with the
// catalog verbatim, so only surrounding whitespace is removed.
func SizeLabel(raw string) (string, error) {
	size := strings.TrimSpace(raw)
	if size == "" {
		return "", pkgerrors.Invalid("size", "size is required")
	}
	if utf8.RuneCountInString(size) > maxSizeLabelLength || strings.IndexFunc(size, unicode.IsControl) >= 0 {
		return "", pkgerrors.Invalid("size", "size is invalid")
	}
	return size, nil
}

// PathSizeLabel decodes an escaped URL segment ("One%20Size") before checking it.
func PathSizeLabel(segment string) (string, error) {
	decoded, err := url.PathUnescape(segment)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "size is invalid").WithDetails(map[string]any{"field": "size"})
	}
	return SizeLabel(decoded)
}
