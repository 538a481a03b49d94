package history

import (
	"context"
	"time"
)

// DailyStats counts the posture events of one local day
type DailyStats struct {
	Date time.Time `json:"date"`
	Good int       `json:"good"`
	Bad  int       `json:"bad"`
}

// Score is the share of good events in percent, 100 for a day without events.
func (d DailyStats) Score() int {
	total := d.Good + d.Bad
	if total == 0 {
		return 100
	}
	return d.Good * 100 / total
}

// Total returns the number of events counted.
func (d DailyStats) Total() int {
	return d.Good + d.Bad
}

// StartOfDay truncates t to local midnight in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Count tallies events into stats dated date.
func Count(date time.Time, events []Event) DailyStats {
	stats := DailyStats{Date: date}
	for _, e := range events {
		switch e.Type {
		case BadPosture:
			stats.Bad++
		case GoodPosture:
			stats.Good++
		}
	}
	return stats
}

// Today returns the stats of the day containing now.
func Today(ctx context.Context, store Store, now time.Time) (DailyStats, error) {
	start := StartOfDay(now)
	events, err := store.Since(ctx, start)
	if err != nil {
		return DailyStats{Date: start}, err
	}
	return Count(start, events), nil
}

// Week returns seven daily buckets ending with the day containing now, oldest first.
func Week(ctx context.Context, store Store, now time.Time) ([]DailyStats, error) {
	today := StartOfDay(now)
	week := make([]DailyStats, 0, 7)
	for i := 6; i >= 0; i-- {
		start := today.AddDate(0, 0, -i)
		end := start.AddDate(0, 0, 1).Add(-time.Millisecond)
		events, err := store.InRange(ctx, start, end)
		if err != nil {
			return nil, err
		}
		week = append(week, Count(start, events))
	}
	return week, nil
}
