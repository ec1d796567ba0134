package console

import (
	"sort"
	"strings"
	"time"

	"uolems/internal/model"
)

type MainFilter string

const (
	FilterAll      MainFilter = "all"
	FilterUpcoming MainFilter = "upcoming"
	FilterPast     MainFilter = "past"
)

type TimeFilter string

const (
	TimeAll  TimeFilter = "all_time"
	TimeWeek TimeFilter = "week"
)

const weekWindow = 7 * 24 * time.Hour

// ParseMainFilter maps a query value to a filter; unknown values mean all.
func ParseMainFilter(s string) MainFilter {
	switch MainFilter(strings.ToLower(strings.TrimSpace(s))) {
	case FilterUpcoming:
		return FilterUpcoming
	case FilterPast:
		return FilterPast
	default:
		return FilterAll
	}
}

func ParseTimeFilter(s string) TimeFilter {
	if TimeFilter(strings.ToLower(strings.TrimSpace(s))) == TimeWeek {
		return TimeWeek
	}
	return TimeAll
}

// ApplyFilters partitions events around now. Open events (strictly after now)
// come first in ascending date order, past events follow in descending order.
// The week window only narrows the open side. The input is not modified.
func ApplyFilters(events []model.Event, main MainFilter, tf TimeFilter, now time.Time) []model.Event {
	open := make([]model.Event, 0, len(events))
	past := make([]model.Event, 0, len(events))
	horizon := now.Add(weekWindow)

	for _, e := range events {
		if !e.OpenAt(now) {
			past = append(past, e)
			continue
		}
		if tf == TimeWeek && !e.Date.Before(horizon) {
			continue
		}
		open = append(open, e)
	}

	sort.SliceStable(open, func(i, j int) bool { return open[i].Date.Before(open[j].Date) })
	sort.SliceStable(past, func(i, j int) bool { return past[i].Date.After(past[j].Date) })

	switch main {
	case FilterUpcoming:
		return open
	case FilterPast:
		return past
	default:
		return append(open, past...)
	}
}
