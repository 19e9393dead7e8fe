package ledger

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// FormatUSD renders amount as US dollars with digit grouping, e.g. $12,500.00.
func FormatUSD(amount decimal.Decimal) string {
	p := message.NewPrinter(language.AmericanEnglish)
	rounded := amount.Round(2)
	sign := ""
	if rounded.IsNegative() {
		sign = "-"
		rounded = rounded.Abs()
	}
	whole := rounded.Truncate(0)
	cents := rounded.Sub(whole).Shift(2).IntPart()
	return p.Sprintf("%s$%d.%02d", sign, whole.IntPart(), cents)
}
