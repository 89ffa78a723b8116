package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zulandar/tradepost/internal/messaging"
)

// formatPrice renders an optional amount as "$12.50", or "-" when unset.
func formatPrice(p *float64) string {
	if p == nil {
		return "-"
	}
	return formatAmount(*p)
}

// formatAmount renders v with two decimals and comma separators.
func formatAmount(v float64) string {
	if v < 0 {
		return "-" + formatAmount(-v)
	}
	s := strconv.FormatFloat(v, 'f', 2, 64)
	whole, frac, _ := strings.Cut(s, ".")
	if len(whole) <= 3 {
		return "$" + whole + "." + frac
	}

	var b strings.Builder
	remainder := len(whole) % 3
	if remainder > 0 {
		b.WriteString(whole[:remainder])
	}
	for i := remainder; i < len(whole); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(whole[i : i+3])
	}
	return "$" + b.String() + "." + frac
}

// formatTime renders t in UTC to the minute, or "-" for the zero time.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04 UTC")
}

// formatItem renders an optional item id.
func formatItem(id *uint) string {
	if id == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *id)
}

// formatEntry renders one history line: "#id sender -> receiver [card] text".
func formatEntry(e messaging.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d %s %d -> %d", e.ID, formatTime(e.CreatedAt), e.SenderID, e.ReceiverID)
	if e.Card != nil {
		fmt.Fprintf(&b, " [%s]", e.Card.Type())
	}
	if e.ImageRef != "" {
		fmt.Fprintf(&b, " <image %s>", e.ImageRef)
	}
	if e.Content != "" {
		b.WriteString(" ")
		b.WriteString(e.Content)
	}
	return b.String()
}
