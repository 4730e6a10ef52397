// Package numeric converts fixed-point indexer values into human-readable
// numbers and formats them for display. Decimal precision is always passed
// in by the caller; this package holds no per-token constants.
package numeric

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Normalize converts a fixed-point decimal string with an implied decimal
// exponent into a float. Malformed input normalizes to 0 rather than
// returning an error, keeping downstream derivation total.
func Normalize(raw string, decimals int) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v / math.Pow10(decimals)
}

// Denormalize is the inverse of Normalize, producing the raw fixed-point
// string for a human-readable value. Fractional dust below the implied
// precision rounds to the nearest unit.
func Denormalize(value float64, decimals int) string {
	return strconv.FormatFloat(math.Round(value*math.Pow10(decimals)), 'f', 0, 64)
}

// ParseFloat parses a plain decimal string, treating malformed input as 0.
func ParseFloat(raw string) float64 {
	return Normalize(raw, 0)
}

// ParseInt parses a string-encoded integer (e.g. a subgraph timestamp),
// treating malformed input as 0.
func ParseInt(raw string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// FormatMoney renders a USD amount with a fixed two decimal places and
// thousands separators, e.g. 1234567.891 -> "1,234,567.89". NaN and
// infinities render as "0.00" so formatting stays total.
func FormatMoney(n float64) string {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return "0.00"
	}

	neg := n < 0
	s := strconv.FormatFloat(math.Abs(n), 'f', 2, 64)

	parts := strings.SplitN(s, ".", 2)
	intPart := parts[0]

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}

	out := b.String() + "." + parts[1]
	if neg {
		return "-" + out
	}
	return out
}

// FormatPercent renders a percentage with an explicit sign and two decimal
// places, e.g. 3.14159 -> "+3.14%".
func FormatPercent(n float64) string {
	if n >= 0 {
		return fmt.Sprintf("+%.2f%%", n)
	}
	return fmt.Sprintf("%.2f%%", n)
}

// ShortAddress abbreviates a hex address to its first 6 and last 4
// characters joined by an ellipsis. Strings shorter than 10 characters
// pass through unchanged.
func ShortAddress(addr string) string {
	if len(addr) < 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}
