package receipt

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/retail-pos/internal/checkout"
	"github.com/noah-isme/retail-pos/internal/money"
)

// DefaultWidth is the character width of an 80mm roll in font A.
const DefaultWidth = 40

const minWidth = 24

var (
	escInit = []byte{0x1B, '@'}
	gsCut   = []byte{0x1D, 'V', 0x42, 0x00}
)

// Render lays out a sale as fixed-width text, one column pair per row.
func Render(s checkout.Sale, width int) []byte {
	if width <= 0 {
		width = DefaultWidth
	}
	if width < minWidth {
		width = minWidth
	}
	var b bytes.Buffer
	rule := strings.Repeat("-", width)

	pair(&b, width, "Sale", s.Number)
	pair(&b, width, "Date", s.CreatedAt.Local().Format("2006-01-02 15:04"))
	if s.Operator != "" {
		pair(&b, width, "Operator", s.Operator)
	}
	b.WriteString(rule + "\n")
	for _, l := range s.Lines {
		b.WriteString(clip(l.Name, width) + "\n")
		qty := strconv.Itoa(l.Quantity) + " x " + money.Format(l.UnitPrice)
		pair(&b, width, "  "+qty, money.Format(l.Total))
		if !l.Deposit.IsZero() {
			pair(&b, width, "  deposit", money.Format(l.Deposit))
		}
	}
	b.WriteString(rule + "\n")
	pair(&b, width, "Subtotal", money.Format(s.SubTotal))
	pair(&b, width, "VAT", money.Format(s.VATTotal))
	if !s.DepositTotal.IsZero() {
		pair(&b, width, "Deposit", money.Format(s.DepositTotal))
	}
	pair(&b, width, "TOTAL", money.Format(s.Total))
	pair(&b, width, string(s.Method), money.Format(s.Tendered))
	if s.Method == checkout.MethodCash {
		pair(&b, width, "Change", money.Format(s.Change))
	}
	if s.Method == checkout.MethodDebt {
		paid := decimal.Zero
		if s.PaidAmount != nil {
			paid = *s.PaidAmount
		}
		pair(&b, width, "Balance due", money.Format(s.Total.Sub(paid)))
		if s.DebtorName != "" {
			pair(&b, width, "Debtor", s.DebtorName)
		}
	}
	return b.Bytes()
}

// Frame wraps a rendered body with the ESC/POS initialise and cut commands.
func Frame(body []byte) []byte {
	out := make([]byte, 0, len(escInit)+len(body)+len(gsCut)+4)
	out = append(out, escInit...)
	out = append(out, body...)
	out = append(out, '\n', '\n', '\n')
	return append(out, gsCut...)
}

func pair(b *bytes.Buffer, width int, left, right string) {
	right = clip(right, width)
	room := width - utf8.RuneCountInString(right) - 1
	if room < 1 {
		fmt.Fprintf(b, "%s\n", right)
		return
	}
	left = clip(left, room)
	pad := width - utf8.RuneCountInString(left) - utf8.RuneCountInString(right)
	fmt.Fprintf(b, "%s%s%s\n", left, strings.Repeat(" ", pad), right)
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
