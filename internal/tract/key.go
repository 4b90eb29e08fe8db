package tract

import (
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// KeyColumn is the canonical join key present in both source tables.
const KeyColumn = "tract_id"

// NormalizeKey canonicalizes a tract identifier into its join representation.
// Identifiers arrive in mixed forms across independently produced files:
// integers, floats with a trailing .0, plain strings, and nulls. The policy is
// a trimmed integer decimal string; nulls and values that cannot be read as a
// whole number normalize to "", a sentinel key that never joins.
func NormalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return normalizeKeyString(t)
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case float32:
		return normalizeKeyFloat(float64(t))
	case float64:
		return normalizeKeyFloat(t)
	default:
		return ""
	}
}

func normalizeKeyString(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	// Fast path: already an integer string. Reformatting drops leading
	// zeros and signs so both sources agree on one canonical form.
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return strconv.FormatInt(n, 10)
	}
	// "12345.0" and scientific forms from spreadsheet exports.
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return ""
	}
	return normalizeKeyFloat(f)
}

func normalizeKeyFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return ""
	}
	if f != math.Trunc(f) {
		return ""
	}
	return strconv.FormatInt(int64(f), 10)
}

// NormalizeKeys applies NormalizeKey to a whole column. Unconvertible values
// become null-keyed rows that will never join; that is deliberate leniency,
// but any occurrence is worth a data-quality warning.
func NormalizeKeys(source string, keys []any) []string {
	out := make([]string, len(keys))
	var bad int
	for i, k := range keys {
		out[i] = NormalizeKey(k)
		if out[i] == "" {
			bad++
		}
	}
	if bad > 0 {
		zap.L().Warn("tract: non-numeric tract identifiers normalized to null key",
			zap.String("source", source),
			zap.Int("count", bad),
			zap.Int("total", len(keys)),
		)
	}
	return out
}
