package units

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEther(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"1", "1000000000000000000"},
		{"0.5", "500000000000000000"},
		{"2", "2000000000000000000"},
		{"0.000000000000000001", "1"},
		{" 100 ", "100000000000000000000"},
	}
	for _, c := range cases {
		got, err := ParseEther(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got.String(), c.in)
	}

	for _, bad := range []string{"", "abc", "-1", "0.0000000000000000001"} {
		_, err := ParseEther(bad)
		assert.Error(t, err, bad)
	}
}

func TestFormatUnits(t *testing.T) {
	assert.Equal(t, "1.5", FormatEther(MustEther("1.5")))
	assert.Equal(t, "0", FormatEther(nil))
	assert.Equal(t, "100", FormatUnits(new(big.Int).Mul(big.NewInt(100), big.NewInt(1e6)), 6))
}

func TestParseUnits_TokenDecimals(t *testing.T) {
	v, err := ParseUnits("12.34", 6)
	require.NoError(t, err)
	assert.Equal(t, int64(12340000), v.Int64())

	_, err = ParseUnits("0.1234567", 6)
	assert.Error(t, err)
}
