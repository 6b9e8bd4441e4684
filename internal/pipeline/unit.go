package pipeline

import (
	"fmt"
	"strings"
	"time"
)

// UnitKind distinguishes date-driven from ticker-driven work.
type UnitKind int

const (
	UnitDate UnitKind = iota
	UnitTicker
)

// Unit is one step of a batch run: a trade date or a ticker code.
type Unit struct {
	Kind   UnitKind
	Date   time.Time
	Ticker string
}

func (u Unit) String() string {
	if u.Kind == UnitTicker {
		return u.Ticker
	}
	return u.Date.Format(time.DateOnly)
}

// BaseDate is the provider's YYYYMMDD form of a date unit.
func (u Unit) BaseDate() string {
	return u.Date.Format("20060102")
}

// DateUnit builds a single date unit.
func DateUnit(t time.Time) Unit {
	y, m, d := t.Date()
	return Unit{Kind: UnitDate, Date: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// TickerUnit builds a single ticker unit.
func TickerUnit(code string) Unit {
	return Unit{Kind: UnitTicker, Ticker: strings.TrimSpace(code)}
}

// DateUnits returns one unit per calendar day in [from, to]. With weekdaysOnly
// set, Saturdays and Sundays are left out; exchange holidays still come back
// from the provider as no-data units.
func DateUnits(from, to time.Time, weekdaysOnly bool) []Unit {
	start := DateUnit(from).Date
	end := DateUnit(to).Date

	var units []Unit
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if weekdaysOnly && (d.Weekday() == time.Saturday || d.Weekday() == time.Sunday) {
			continue
		}
		units = append(units, Unit{Kind: UnitDate, Date: d})
	}
	return units
}

// TickerUnits returns one unit per non-empty code, in order, without duplicates.
func TickerUnits(codes []string) []Unit {
	seen := make(map[string]struct{}, len(codes))
	units := make([]Unit, 0, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		units = append(units, TickerUnit(c))
	}
	return units
}

// ParseDate accepts YYYYMMDD or YYYY-MM-DD.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"20060102", time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q: want YYYYMMDD or YYYY-MM-DD", s)
}
