// Package format renders prices and quantities for notifications and logs.
package format

import (
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// Coins renders a coin quantity with eight decimals.
func Coins(q float64) string {
	return strconv.FormatFloat(q, 'f', 8, 64)
}

// USD renders a dollar amount with thousands separators and two decimals.
func USD(v float64) string {
	return humanize.FormatFloat("#,###.##", v)
}

var compactUnits = []struct {
	suffix string
	size   decimal.Decimal
}{
	{"T", decimal.New(1, 12)},
	{"B", decimal.New(1, 9)},
	{"M", decimal.New(1, 6)},
	{"K", decimal.New(1, 3)},
}

// Compact abbreviates large amounts: 1.25T, 89.00B, 1.50M, 2.00K.
func Compact(v float64) string {
	if !finite(v) {
		return strconv.FormatFloat(v, 'f', 2, 64)
	}
	d := decimal.NewFromFloat(v)
	for _, u := range compactUnits {
		if d.Abs().GreaterThanOrEqual(u.size) {
			return d.Div(u.size).StringFixed(2) + u.suffix
		}
	}
	return d.StringFixed(2)
}

// Round rounds half away from zero to the given number of decimal places.
// NaN and infinities become 0 so the result always encodes as JSON.
func Round(v float64, places int32) float64 {
	if !finite(v) {
		return 0
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// DisplayName turns an asset id such as "bitcoin" into "Bitcoin".
func DisplayName(assetID string) string {
	if assetID == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(assetID)
	return string(unicode.ToUpper(r)) + assetID[size:]
}

// Signed prefixes non-negative percentages with "+": "+2.34%", "-1.23%".
func Signed(pct float64) string {
	s := strconv.FormatFloat(pct, 'f', 2, 64)
	if !strings.HasPrefix(s, "-") {
		s = "+" + s
	}
	return s + "%"
}
