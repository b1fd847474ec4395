package tasks

import (
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a calendar day in YYYY-MM-DD form. The zero value means "no date".
// Lexical order matches chronological order.
type Date string

func DateOf(t time.Time) Date {
	return Date(t.Format(dateLayout))
}

// Today uses the local clock.
func Today() Date {
	return DateOf(time.Now())
}

func ParseDate(raw string) (Date, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	t, err := time.ParseInLocation(dateLayout, raw, time.Local)
	if err != nil {
		return "", fmt.Errorf("parse date %q: %w", raw, err)
	}
	return DateOf(t), nil
}

func (d Date) IsZero() bool { return d == "" }

func (d Date) Before(o Date) bool { return d < o }

func (d Date) Time() time.Time {
	t, err := time.ParseInLocation(dateLayout, string(d), time.Local)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (d Date) AddDays(n int) Date {
	if d.IsZero() {
		return d
	}
	return DateOf(d.Time().AddDate(0, 0, n))
}

func (d Date) String() string { return string(d) }
