package facet

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"
)

// Precision records how a Date was written.
type Precision uint8

const (
	PrecisionYear Precision = iota + 1
	PrecisionMonth
	PrecisionDay
)

// Date is a calendar day with the precision it was written in. Start dates
// resolve to the first day of their period and end dates to the last one.
// Days are compared as (year, month, day) tuples so that 360-day and noleap
// model calendars order correctly.
type Date struct {
	year  int
	month int
	day   int
	prec  Precision
}

// NewDate returns a day-precision date. It does not validate its arguments.
func NewDate(year, month, day int) Date {
	return Date{year: year, month: month, day: day, prec: PrecisionDay}
}

// ParseStart parses s as the beginning of a period. Accepted forms are
// YYYY, YYYYMM, YYYYMMDD, sub-daily stamps such as YYYYMMDDhhmm, and the ISO
// forms YYYY-MM, YYYY-MM-DD and YYYY-MM-DDThh:mm[:ss][Z]. Time of day is
// dropped.
//
// Days are checked against 1..31 only, never against the Gregorian length of
// the month, so 360-day calendar dates such as 18500230 and 18500231 parse.
func ParseStart(s string) (Date, error) { return parseDate(s, false) }

// ParseEnd parses s as the end of a period. It accepts the same forms as
// ParseStart; year and month stamps resolve to the last day of the period.
func ParseEnd(s string) (Date, error) { return parseDate(s, true) }

var isoTimeLayouts = []string{"15:04:05", "15:04"}

// compactISO rewrites YYYY-MM and YYYY-MM-DD[Thh:mm[:ss][Z]] to the compact
// form. Other input is returned unchanged.
func compactISO(s string) (string, error) {
	switch {
	case len(s) == 7 && s[4] == '-':
		return s[:4] + s[5:], nil
	case len(s) < 10 || s[4] != '-' || s[7] != '-':
		return s, nil
	}
	day := s[:4] + s[5:7] + s[8:10]
	if len(s) == 10 {
		return day, nil
	}
	clock, ok := strings.CutPrefix(s[10:], "T")
	if !ok {
		return "", fmt.Errorf("invalid time separator in %q", s)
	}
	clock = strings.TrimSuffix(clock, "Z")
	for _, layout := range isoTimeLayouts {
		if _, err := time.Parse(layout, clock); err == nil {
			return day, nil
		}
	}
	return "", fmt.Errorf("invalid time of day in %q", s)
}

func parseDate(raw string, end bool) (Date, error) {
	s, err := compactISO(strings.TrimSpace(raw))
	if err != nil {
		return Date{}, err
	}
	if len(s) > 8 {
		// sub-daily stamps such as 185001010030 are truncated to the day
		s = s[:8]
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return Date{}, fmt.Errorf("invalid date %q", raw)
		}
	}
	var d Date
	switch len(s) {
	case 4:
		d.prec = PrecisionYear
	case 6:
		d.prec = PrecisionMonth
	case 8:
		d.prec = PrecisionDay
	default:
		return Date{}, fmt.Errorf("invalid date %q", raw)
	}
	d.year, _ = strconv.Atoi(s[:4])
	d.month, d.day = 1, 1
	if end {
		d.month, d.day = 12, 31
	}
	if d.prec >= PrecisionMonth {
		d.month, _ = strconv.Atoi(s[4:6])
		if d.month < 1 || d.month > 12 {
			return Date{}, fmt.Errorf("invalid month in date %q", raw)
		}
		if end {
			d.day = daysIn(d.year, d.month)
		}
	}
	if d.prec == PrecisionDay {
		d.day, _ = strconv.Atoi(s[6:8])
		if d.day < 1 || d.day > 31 {
			return Date{}, fmt.Errorf("invalid day in date %q", raw)
		}
	}
	return d, nil
}

func daysIn(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func (d Date) Year() int            { return d.year }
func (d Date) Month() int           { return d.month }
func (d Date) Day() int             { return d.day }
func (d Date) Precision() Precision { return d.prec }
func (d Date) IsZero() bool         { return d.prec == 0 }

// Compare returns -1, 0 or +1 comparing the resolved days of d and o.
func (d Date) Compare(o Date) int {
	switch {
	case d.year != o.year:
		return sign(d.year - o.year)
	case d.month != o.month:
		return sign(d.month - o.month)
	default:
		return sign(d.day - o.day)
	}
}

func (d Date) Before(o Date) bool { return d.Compare(o) < 0 }
func (d Date) After(o Date) bool  { return d.Compare(o) > 0 }

// Time returns the resolved day at midnight UTC. Days that do not exist in
// the Gregorian calendar are normalised by time.Date.
func (d Date) Time() time.Time {
	return time.Date(d.year, time.Month(d.month), d.day, 0, 0, 0, 0, time.UTC)
}

// String renders the date in the precision it was written.
func (d Date) String() string {
	switch d.prec {
	case PrecisionYear:
		return fmt.Sprintf("%04d", d.year)
	case PrecisionMonth:
		return fmt.Sprintf("%04d%02d", d.year, d.month)
	case PrecisionDay:
		return fmt.Sprintf("%04d%02d%02d", d.year, d.month, d.day)
	default:
		return ""
	}
}

// followedBy reports whether n is the day after d or earlier. Month ends
// from day 28 onwards are accepted as the last day so that intervals written
// in model calendars stay contiguous.
func (d Date) followedBy(n Date) bool {
	if n.Compare(d) <= 0 {
		return true
	}
	if n.year == d.year && n.month == d.month {
		return n.day == d.day+1
	}
	if d.day < 28 || n.day != 1 {
		return false
	}
	if d.month == 12 {
		return n.year == d.year+1 && n.month == 1
	}
	return n.year == d.year && n.month == d.month+1
}

func sign(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	default:
		return 0
	}
}

// Interval is a closed range of days.
type Interval struct {
	Start Date
	End   Date
}

// ParseInterval parses a start and end value.
func ParseInterval(start, end string) (Interval, error) {
	s, err := ParseStart(start)
	if err != nil {
		return Interval{}, err
	}
	e, err := ParseEnd(end)
	if err != nil {
		return Interval{}, err
	}
	if e.Before(s) {
		return Interval{}, fmt.Errorf("interval %s-%s ends before it starts", start, end)
	}
	return Interval{Start: s, End: e}, nil
}

// Intersects reports whether the closed intervals share at least one day.
func (i Interval) Intersects(o Interval) bool {
	return i.Start.Compare(o.End) <= 0 && o.Start.Compare(i.End) <= 0
}

// Contains reports whether o lies fully inside i.
func (i Interval) Contains(o Interval) bool {
	return i.Start.Compare(o.Start) <= 0 && o.End.Compare(i.End) <= 0
}

// Equal reports whether both intervals resolve to the same days.
func (i Interval) Equal(o Interval) bool {
	return i.Start.Compare(o.Start) == 0 && i.End.Compare(o.End) == 0
}

// Years returns the number of calendar years touched by the interval.
func (i Interval) Years() int { return i.End.year - i.Start.year + 1 }

func (i Interval) String() string { return i.Start.String() + "-" + i.End.String() }

// Coverage merges overlapping and contiguous intervals. The input order does
// not matter; the result is sorted by start.
func Coverage(intervals []Interval) []Interval {
	if len(intervals) == 0 {
		return nil
	}
	sorted := make([]Interval, len(intervals))
	copy(sorted, intervals)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Start.Before(sorted[j-1].Start); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	out := []Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &out[len(out)-1]
		if last.End.followedBy(iv.Start) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// DatesFromFilename extracts the trailing start-end stamp of a file name such
// as tas_Amon_M_historical_r1i1p1f1_gn_185001-201412.nc.
func DatesFromFilename(name string) (start, end string, ok bool) {
	base := path.Base(name)
	if i := strings.Index(base, "."); i >= 0 {
		base = base[:i]
	}
	idx := strings.LastIndex(base, "_")
	if idx < 0 {
		return "", "", false
	}
	start, end, found := strings.Cut(base[idx+1:], "-")
	if !found || start == "" || end == "" {
		return "", "", false
	}
	if _, err := ParseStart(start); err != nil {
		return "", "", false
	}
	if _, err := ParseEnd(end); err != nil {
		return "", "", false
	}
	return start, end, true
}

// Extension returns the extension of a file name without the dot, or "".
func Extension(name string) string {
	ext := path.Ext(path.Base(name))
	return strings.TrimPrefix(ext, ".")
}
