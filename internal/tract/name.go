package tract

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

// Suffixes distinguishing the two aggregation kinds on generated columns.
const (
	ActivitySuffix    = "_ACT"
	ResidentialSuffix = "_RES"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	nonIdentifier = regexp.MustCompile(`[^A-Za-z0-9_]`)
)

// SanitizeIndexName turns a user-supplied index name into a column-safe base
// name: whitespace runs collapse to underscores, everything outside
// [A-Za-z0-9_] is stripped. An empty result is an input error.
func SanitizeIndexName(name string) (string, error) {
	cleaned := whitespaceRun.ReplaceAllString(strings.TrimSpace(name), "_")
	cleaned = nonIdentifier.ReplaceAllString(cleaned, "")
	if cleaned == "" || allUnderscores(cleaned) {
		return "", eris.Wrapf(ErrInvalidInput, "index name %q sanitizes to nothing", name)
	}
	return cleaned, nil
}

func allUnderscores(s string) bool {
	for _, r := range s {
		if r != '_' {
			return false
		}
	}
	return true
}
