// Package locale renders numbers and dates for display. Nothing here feeds
// back into sale computation.
package locale

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/noah-isme/pos-kasir/internal/pricing"
)

// Grouping selects how integer digits are grouped.
type Grouping int

const (
	// GroupThousands groups every three digits: 1,234,567.
	GroupThousands Grouping = iota
	// GroupSouthAsian groups the last three digits then pairs: 12,34,567.
	GroupSouthAsian
)

const (
	dateLayout     = "02/01/2006"
	dateTimeLayout = "02/01/2006 15:04"
)

var inputLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Formatter renders values for one display locale.
type Formatter struct {
	Tag      language.Tag
	Digits   [10]rune
	Grouping Grouping
}

var (
	// Bangla renders Bengali digits with South Asian grouping.
	Bangla = Formatter{
		Tag:      language.Bengali,
		Digits:   [10]rune{'০', '১', '২', '৩', '৪', '৫', '৬', '৭', '৮', '৯'},
		Grouping: GroupSouthAsian,
	}
	// English renders ASCII digits grouped by thousands.
	English = Formatter{
		Tag:      language.English,
		Digits:   [10]rune{'0', '1', '2', '3', '4', '5', '6', '7', '8', '9'},
		Grouping: GroupThousands,
	}
)

// ToLocalizedDigits maps ASCII digits to the formatter's script. Every other
// character is kept, so it never rounds or reformats.
func (f Formatter) ToLocalizedDigits(value string) string {
	var b strings.Builder
	b.Grow(len(value) * 3)
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(f.Digits[r-'0'])
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// FormatMoney rounds to two places and renders with grouping separators.
func (f Formatter) FormatMoney(amount pricing.Money) string {
	fixed := pricing.Round2(amount).StringFixed(2)
	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign = "-"
		fixed = fixed[1:]
	}
	whole, frac, _ := strings.Cut(fixed, ".")
	return f.ToLocalizedDigits(sign + group(whole, f.Grouping) + "." + frac)
}

// FormatInt renders an integer, for quantities and counts.
func (f Formatter) FormatInt(n int) string {
	s := strconv.Itoa(n)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign = "-"
		s = s[1:]
	}
	return f.ToLocalizedDigits(sign + group(s, f.Grouping))
}

// FormatDate renders DD/MM/YYYY. The zero time renders as "".
func (f Formatter) FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return f.ToLocalizedDigits(t.Format(dateLayout))
}

// FormatDateTime renders DD/MM/YYYY HH:MM on a 24-hour clock. The zero time
// renders as "".
func (f Formatter) FormatDateTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return f.ToLocalizedDigits(t.Format(dateTimeLayout))
}

// FormatDateString parses value and renders it with FormatDate, returning ""
// for anything unparsable.
func (f Formatter) FormatDateString(value string) string {
	return f.FormatDate(parseTime(value))
}

// FormatDateTimeString parses value and renders it with FormatDateTime,
// returning "" for anything unparsable.
func (f Formatter) FormatDateTimeString(value string) string {
	return f.FormatDateTime(parseTime(value))
}

func parseTime(value string) time.Time {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}
	}
	for _, layout := range inputLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t
		}
	}
	return time.Time{}
}

func group(digits string, grouping Grouping) string {
	if len(digits) <= 3 {
		return digits
	}
	head, tail := digits[:len(digits)-3], digits[len(digits)-3:]
	size := 3
	if grouping == GroupSouthAsian {
		size = 2
	}
	var parts []string
	for len(head) > size {
		parts = append([]string{head[len(head)-size:]}, parts...)
		head = head[:len(head)-size]
	}
	parts = append([]string{head}, parts...)
	return strings.Join(append(parts, tail), ",")
}
