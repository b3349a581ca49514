package format

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoins(t *testing.T) {
	assert.Equal(t, "0.00153846", Coins(100.0/65000))
	assert.Equal(t, "2.00000000", Coins(2))
}

func TestUSD(t *testing.T) {
	assert.Equal(t, "100.00", USD(100))
	assert.Equal(t, "1,234,567.89", USD(1234567.891))
}

func TestCompact(t *testing.T) {
	cases := map[float64]string{
		1250000000000: "1.25T",
		89000000000:   "89.00B",
		1500000:       "1.50M",
		2000:          "2.00K",
		999.5:         "999.50",
		-2500000:      "-2.50M",
	}
	for in, want := range cases {
		assert.Equal(t, want, Compact(in), "input %v", in)
	}
}

func TestRound(t *testing.T) {
	assert.Equal(t, 1.24, Round(1.235, 2))
	assert.Equal(t, -10.0, Round(-9.999, 2))
	assert.Equal(t, 150.0, Round(150, 2))
	assert.Equal(t, 0.0, Round(math.Inf(1), 2))
	assert.Equal(t, 0.0, Round(math.NaN(), 2))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Bitcoin", DisplayName("bitcoin"))
	assert.Equal(t, "Avalanche-2", DisplayName("avalanche-2"))
	assert.Equal(t, "", DisplayName(""))
}

func TestSigned(t *testing.T) {
	assert.Equal(t, "+2.34%", Signed(2.34))
	assert.Equal(t, "-1.23%", Signed(-1.23))
	assert.Equal(t, "+0.00%", Signed(0))
}
