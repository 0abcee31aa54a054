// Package parse turns the price and rating text scraped from listings into
// structured values.
package parse

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Convention is the decimal separator a site uses when only one separator
// character appears in a price.
type Convention string

const (
	CommaDecimal Convention = ","
	DotDecimal   Convention = "."
)

// ConventionFor maps a configured separator onto a Convention, defaulting to
// CommaDecimal.
func ConventionFor(sep string) Convention {
	if sep == string(DotDecimal) {
		return DotDecimal
	}
	return CommaDecimal
}

// Price is a parsed price. Amount is invalid when the numeric part could not
// be read; Currency is empty when the text carried no label.
type Price struct {
	Amount   decimal.NullDecimal
	Currency string
}

// Valid reports whether the numeric part parsed.
func (p Price) Valid() bool {
	return p.Amount.Valid
}

// Float returns the amount in major units.
func (p Price) Float() (float64, bool) {
	if !p.Amount.Valid {
		return 0, false
	}
	f, _ := p.Amount.Decimal.Float64()
	return f, true
}

var (
	maxMinor = decimal.NewFromInt(math.MaxInt64)
	minMinor = decimal.NewFromInt(math.MinInt64)
)

// Minor returns the amount in minor currency units (hundredths), rounded
// half away from zero. It returns nil for an invalid amount, for one that
// rounds to zero and for one outside the int64 range.
func (p Price) Minor() *int64 {
	if !p.Amount.Valid {
		return nil
	}
	m := p.Amount.Decimal.Shift(2).Round(0)
	if m.IsZero() || m.GreaterThan(maxMinor) || m.LessThan(minMinor) {
		return nil
	}
	v := m.IntPart()
	return &v
}

// ParsePrice reads text such as "1.234,56 RON", "1,234.56" or "12,5".
// The first whitespace separated token is the number and the last one, when
// there are several, is the currency label.
func ParsePrice(text string, conv Convention) Price {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return Price{}
	}

	var p Price
	if len(tokens) > 1 {
		p.Currency = tokens[len(tokens)-1]
	}

	amount, err := decimal.NewFromString(canonicalNumber(tokens[0], conv))
	if err != nil {
		return p
	}
	p.Amount = decimal.NewNullDecimal(amount)
	return p
}

func canonicalNumber(num string, conv Convention) string {
	comma := strings.LastIndex(num, ",")
	dot := strings.LastIndex(num, ".")

	switch {
	case comma >= 0 && dot >= 0:
		if comma > dot {
			num = strings.ReplaceAll(num, ".", "")
			return strings.ReplaceAll(num, ",", ".")
		}
		return strings.ReplaceAll(num, ",", "")
	case comma >= 0:
		return strings.ReplaceAll(num, ",", ".")
	case dot >= 0 && conv == CommaDecimal:
		return strings.ReplaceAll(num, ".", "")
	}
	return num
}
