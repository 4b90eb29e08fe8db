package tract

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeIndexName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"  My Index!! ", "My_Index"},
		{"My Index", "My_Index"},
		{"simple", "simple"},
		{"a  b   c", "a_b_c"},
		{"already_clean_123", "already_clean_123"},
		{"dash-and.dot", "dashanddot"},
	}
	for _, tc := range cases {
		got, err := SanitizeIndexName(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestSanitizeIndexName_EmptyAfterCleaning(t *testing.T) {
	for _, in := range []string{"", "   ", "!!!", "??", "_", " _ "} {
		_, err := SanitizeIndexName(in)
		require.Error(t, err, "input %q", in)
		assert.True(t, eris.Is(err, ErrInvalidInput), "input %q", in)
	}
}

func TestSanitizeIndexName_SuffixComposition(t *testing.T) {
	base, err := SanitizeIndexName("  My Index!! ")
	require.NoError(t, err)
	assert.Equal(t, "My_Index_ACT", base+ActivitySuffix)
	assert.Equal(t, "My_Index_RES", base+ResidentialSuffix)
}
