// Package timeutil holds the local-zone date/time conventions shared by
// the store, the router, and the notification policy. Messages persist
// their timestamp as separate date and time strings rendered in the
// local zone; availability windows are "HH:MM" pairs per weekday.
package timeutil

import "time"

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
	clockHHMM  = "15:04"
)

// Date renders t's date in the local zone.
func Date(t time.Time) string { return t.Local().Format(DateLayout) }

// Clock renders t's time of day in the local zone.
func Clock(t time.Time) string { return t.Local().Format(TimeLayout) }

// Weekday returns the 1-based weekday for t, Sunday=1 through
// Saturday=7, matching the availability row numbering.
func Weekday(t time.Time) int { return int(t.Local().Weekday()) + 1 }

// WithinWindow reports whether t's local time of day falls inside the
// inclusive start..end window. Malformed bounds count as within, so a
// contact with a broken profile is never silently muted.
func WithinWindow(t time.Time, start, end string) bool {
	s, err1 := time.Parse(clockHHMM, start)
	e, err2 := time.Parse(clockHHMM, end)
	if err1 != nil || err2 != nil {
		return true
	}
	now := t.Local()
	cur := now.Hour()*60 + now.Minute()
	lo := s.Hour()*60 + s.Minute()
	hi := e.Hour()*60 + e.Minute()
	return cur >= lo && cur <= hi
}

// SinceLocal returns the elapsed time between now and a stored
// date+time pair. Used to bound the history window requested when
// rejoining a room: a missing or unparsable watermark falls back to 30
// days so long-idle rooms never trigger an unbounded replay.
func SinceLocal(now time.Time, date, clock string) time.Duration {
	const fallback = 30 * 24 * time.Hour
	if date == "" || clock == "" {
		return fallback
	}
	then, err := time.ParseInLocation(DateLayout+" "+TimeLayout, date+" "+clock, time.Local)
	if err != nil {
		return fallback
	}
	d := now.Sub(then)
	if d < 0 {
		return 0
	}
	return d
}
