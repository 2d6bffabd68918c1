// Package money provides exact-decimal amount parsing and ISO-4217
// currency helpers. Amounts are always shopspring/decimal values;
// floating point never touches a ledger figure.
package money

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	gomoney "github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Common currency codes (ISO-4217)
const (
	USD = "USD"
	EUR = "EUR"
	GBP = "GBP"
	BRL = "BRL"
	JPY = "JPY"
	CHF = "CHF"
)

var ErrInvalidAmount = errors.New("invalid amount")

// currency symbols mapped to ISO codes, checked longest-first so "R$"
// wins over "$".
var symbolCodes = []struct {
	Symbol string
	Code   string
}{
	{"R$", BRL},
	{"€", EUR},
	{"£", GBP},
	{"¥", JPY},
	{"₹", "INR"},
	{"$", USD},
}

// IsValidCode reports whether code is a known ISO-4217 currency code.
func IsValidCode(code string) bool {
	return gomoney.GetCurrency(strings.ToUpper(code)) != nil
}

// SymbolCode returns the ISO code for a currency symbol found in s.
func SymbolCode(s string) (string, bool) {
	for _, sc := range symbolCodes {
		if strings.Contains(s, sc.Symbol) {
			return sc.Code, true
		}
	}
	return "", false
}

// ParseAmount parses a textual amount into an exact decimal. It strips
// currency symbols and thousands separators and understands both
// US (1,234.56) and European (1.234,56) conventions. Parenthesised
// amounts are negative, following common bank statement style.
func ParseAmount(s string, european bool) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.Trim(s, "()")
	}

	// Keep digits, separators and sign; drop symbols, codes, spaces.
	s = strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) || r == ',' || r == '.' || r == '-' || r == '+' {
			return r
		}
		return -1
	}, s)
	if s == "" || s == "-" || s == "+" {
		return decimal.Zero, fmt.Errorf("%w: no digits", ErrInvalidAmount)
	}

	if strings.HasPrefix(s, "-") {
		negative = true
		s = s[1:]
	}
	s = strings.TrimPrefix(s, "+")

	if european {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	} else {
		s = strings.ReplaceAll(s, ",", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// DetectEuropean inspects an amount string and reports whether it uses
// the European decimal-comma convention. The second return value is
// false when the string is ambiguous.
func DetectEuropean(s string) (european, ok bool) {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) || r == ',' || r == '.' {
			return r
		}
		return -1
	}, s)

	hasComma := strings.Contains(cleaned, ",")
	hasDot := strings.Contains(cleaned, ".")

	switch {
	case hasComma && hasDot:
		return strings.LastIndex(cleaned, ",") > strings.LastIndex(cleaned, "."), true
	case hasComma:
		if decimalSuffix(cleaned, ',') {
			return true, true
		}
	case hasDot:
		if decimalSuffix(cleaned, '.') {
			return false, true
		}
	}
	return false, false
}

func decimalSuffix(s string, sep rune) bool {
	idx := strings.LastIndex(s, string(sep))
	if idx == -1 || idx == len(s)-1 {
		return false
	}
	tail := s[idx+1:]
	if len(tail) > 2 {
		return false
	}
	for _, r := range tail {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// Format renders an amount with its currency's display conventions,
// used by the export engine for human-facing documents.
func Format(amount decimal.Decimal, code string) string {
	cur := gomoney.GetCurrency(strings.ToUpper(code))
	if cur == nil {
		return amount.StringFixed(2) + " " + strings.ToUpper(code)
	}
	minor := amount.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return gomoney.New(minor, cur.Code).Display()
}
