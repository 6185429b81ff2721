package wallet

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// DefaultAmount is used when a human-entered amount has no usable
// numeric content.
const DefaultAmount = "1.00"

var leadingNumeric = regexp.MustCompile(`^[\d.]+`)

// SanitizeAmount strips embedded token-symbol text down to the leading
// numeric substring: "1.5 SONIC" and "1.5" both yield "1.5". Inputs with
// no leading number fall back to DefaultAmount.
func SanitizeAmount(input string) string {
	s := strings.TrimSpace(input)
	if s == "" {
		return DefaultAmount
	}
	if m := leadingNumeric.FindString(s); m != "" && m != "." {
		return m
	}
	return DefaultAmount
}

// ParseUnits converts a human-readable decimal amount into the chain's
// smallest-unit integer for the given token decimals.
func ParseUnits(amount string, decimals int) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("empty amount")
	}
	if decimals < 0 {
		return nil, fmt.Errorf("negative decimals %d", decimals)
	}

	parts := strings.SplitN(amount, ".", 2)
	whole := parts[0]
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > decimals {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", amount, decimals)
	}
	frac += strings.Repeat("0", decimals-len(frac))

	combined := whole + frac
	value, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", amount)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", amount)
	}
	return value, nil
}

// FormatUnits renders a smallest-unit integer as a decimal string, with
// trailing fractional zeros trimmed.
func FormatUnits(value *big.Int, decimals int) string {
	if value == nil {
		return "0"
	}
	s := value.String()
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	whole := s[:len(s)-decimals]
	frac := strings.TrimRight(s[len(s)-decimals:], "0")

	out := whole
	if frac != "" {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}

// ToHex renders a big integer as a 0x-prefixed hex quantity.
func ToHex(value *big.Int) string {
	if value == nil || value.Sign() == 0 {
		return "0x0"
	}
	return "0x" + value.Text(16)
}
