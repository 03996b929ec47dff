// Package money converts between the gateway's decimal major-unit strings
// ("1500.00") and the minor-unit integers stored internally. The conversion is
// pure integer arithmetic; a single kopeck of drift would make reconciliation
// reject an otherwise valid payment.
package money

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrMalformedAmount = errors.New("malformed amount")

// ParseMajor parses a decimal major-unit string with at most two fraction
// digits into minor units. "1500.00" -> 150000, "1500" -> 150000.
func ParseMajor(s string) (int64, error) {
	if s == "" {
		return 0, ErrMalformedAmount
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" || strings.HasPrefix(whole, "-") || strings.HasPrefix(whole, "+") {
		return 0, fmt.Errorf("%w: %q", ErrMalformedAmount, s)
	}
	major, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedAmount, s)
	}

	var cents int64
	if hasFrac {
		if len(frac) == 0 || len(frac) > 2 {
			return 0, fmt.Errorf("%w: %q", ErrMalformedAmount, s)
		}
		cents, err = strconv.ParseInt(frac, 10, 64)
		if err != nil || cents < 0 {
			return 0, fmt.Errorf("%w: %q", ErrMalformedAmount, s)
		}
		if len(frac) == 1 {
			cents *= 10
		}
	}

	return major*100 + cents, nil
}

// FormatMinor renders minor units as the gateway's two-digit decimal string.
// 150000 -> "1500.00".
func FormatMinor(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}
