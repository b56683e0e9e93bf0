// Package interval splits a date range into the acquisition windows of a
// run.
package interval

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrRange = errors.New("invalid date range")

// Interval is an inclusive range of calendar days.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Label names the interval, "2006-01" for whole months.
func (i Interval) Label() string {
	first := time.Date(i.Start.Year(), i.Start.Month(), 1, 0, 0, 0, 0, time.UTC)
	if i.Start.Equal(first) && i.End.Equal(monthEnd(first)) {
		return i.Start.Format("2006-01")
	}
	return i.Start.Format(time.DateOnly) + "_" + i.End.Format(time.DateOnly)
}

func (i Interval) String() string {
	return i.Start.Format(time.DateOnly) + ".." + i.End.Format(time.DateOnly)
}

// Generator splits [start, end] into intervals.
type Generator func(start, end time.Time) ([]Interval, error)

var now = time.Now

// ParseDate accepts YYYY-MM-DD or "now" (today, UTC).
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "now") {
		return day(now()), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrRange, err)
	}
	return t, nil
}

// Monthly returns one interval per calendar month touching [start, end].
// The first and last months are clipped to the range.
func Monthly(start, end time.Time) ([]Interval, error) {
	start, end = day(start), day(end)
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end %s before start %s", ErrRange, end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	var out []Interval
	for m := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC); !m.After(end); m = m.AddDate(0, 1, 0) {
		iv := Interval{Start: m, End: monthEnd(m)}
		if iv.Start.Before(start) {
			iv.Start = start
		}
		if iv.End.After(end) {
			iv.End = end
		}
		out = append(out, iv)
	}
	return out, nil
}

// July returns July 1st to 31st of every year from start's year to end's
// year, regardless of the days within those years.
func July(start, end time.Time) ([]Interval, error) {
	if end.Year() < start.Year() {
		return nil, fmt.Errorf("%w: end year %d before start year %d", ErrRange, end.Year(), start.Year())
	}
	var out []Interval
	for y := start.Year(); y <= end.Year(); y++ {
		out = append(out, Interval{
			Start: time.Date(y, time.July, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(y, time.July, 31, 0, 0, 0, 0, time.UTC),
		})
	}
	return out, nil
}

// EveryDays returns consecutive windows of n days; the last one is clipped.
func EveryDays(n int) Generator {
	return func(start, end time.Time) ([]Interval, error) {
		if n <= 0 {
			return nil, fmt.Errorf("%w: window of %d days", ErrRange, n)
		}
		start, end = day(start), day(end)
		if end.Before(start) {
			return nil, fmt.Errorf("%w: end %s before start %s", ErrRange, end.Format(time.DateOnly), start.Format(time.DateOnly))
		}
		var out []Interval
		for s := start; !s.After(end); s = s.AddDate(0, 0, n) {
			e := s.AddDate(0, 0, n-1)
			if e.After(end) {
				e = end
			}
			out = append(out, Interval{Start: s, End: e})
		}
		return out, nil
	}
}

// ParseGenerator understands "monthly", "july" and "days:<n>".
func ParseGenerator(spec string) (Generator, error) {
	spec = strings.ToLower(strings.TrimSpace(spec))
	switch spec {
	case "", "monthly":
		return Monthly, nil
	case "july":
		return July, nil
	}
	if v, ok := strings.CutPrefix(spec, "days:"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: bad window %q", ErrRange, spec)
		}
		return EveryDays(n), nil
	}
	return nil, fmt.Errorf("%w: unknown interval kind %q", ErrRange, spec)
}

func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func monthEnd(first time.Time) time.Time {
	return first.AddDate(0, 1, -1)
}
