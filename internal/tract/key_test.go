package tract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeKey_MixedRepresentations(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want string
	}{
		{"plain string", "13121001100", "13121001100"},
		{"padded string", "  13121001100  ", "13121001100"},
		{"float with trailing zero", 13121001100.0, "13121001100"},
		{"float string", "13121001100.0", "13121001100"},
		{"scientific notation string", "1.31e2", "131"},
		{"int", 42, "42"},
		{"int64", int64(42), "42"},
		{"leading plus", "+42", "42"},
		{"leading zeros", "00123", "123"},
		{"nil", nil, ""},
		{"empty string", "", ""},
		{"blank string", "   ", ""},
		{"non-numeric string", "tract-A", ""},
		{"fractional float", 42.5, ""},
		{"fractional string", "42.5", ""},
		{"bool", true, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeKey(tc.in))
		})
	}
}

func TestNormalizeKey_IdenticalAcrossSources(t *testing.T) {
	// The same tract arriving as float from GeoJSON and string from CSV must
	// land on one representation.
	fromGeoJSON := NormalizeKey(13121001100.0)
	fromCSV := NormalizeKey("13121001100")
	fromSpreadsheet := NormalizeKey("13121001100.0")

	assert.Equal(t, fromGeoJSON, fromCSV)
	assert.Equal(t, fromCSV, fromSpreadsheet)
}

func TestNormalizeKeys_LenientOnBadValues(t *testing.T) {
	got := NormalizeKeys("test", []any{"100", nil, "oops", 200.0})
	assert.Equal(t, []string{"100", "", "", "200"}, got)
}
