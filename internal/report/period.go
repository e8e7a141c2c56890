package report

import (
	"fmt"
	"time"
)

// Period is a named reporting window in the store's local calendar.
type Period string

const (
	PeriodToday Period = "today"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
)

// ParsePeriod validates a period name. An empty name means today.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(s); p {
	case "":
		return PeriodToday, nil
	case PeriodToday, PeriodWeek, PeriodMonth, PeriodYear:
		return p, nil
	default:
		return "", fmt.Errorf("unknown report period %q", s)
	}
}

// Window returns the [from, to) bounds of p containing now, in loc. The
// week is the last seven days including today.
func (p Period) Window(now time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	midnight := startOfDay(local)

	switch p {
	case PeriodWeek:
		return midnight.AddDate(0, 0, -6), midnight.AddDate(0, 0, 1)
	case PeriodMonth:
		first := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
		return first, first.AddDate(0, 1, 0)
	case PeriodYear:
		first := time.Date(local.Year(), time.January, 1, 0, 0, 0, 0, loc)
		return first, first.AddDate(1, 0, 0)
	default:
		return midnight, midnight.AddDate(0, 0, 1)
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
