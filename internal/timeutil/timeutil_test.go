package timeutil

import (
	"testing"
	"time"
)

func TestWithinWindow(t *testing.T) {
	at := func(hh, mm int) time.Time {
		return time.Date(2026, 8, 28, hh, mm, 0, 0, time.Local)
	}
	tests := []struct {
		name       string
		now        time.Time
		start, end string
		want       bool
	}{
		{"inside", at(12, 0), "08:00", "17:00", true},
		{"before", at(7, 59), "08:00", "17:00", false},
		{"after", at(20, 0), "08:00", "17:00", false},
		{"boundary start", at(8, 0), "08:00", "17:00", true},
		{"boundary end", at(17, 0), "08:00", "17:00", true},
		{"malformed start", at(3, 0), "junk", "17:00", true},
		{"empty window", at(3, 0), "", "", true},
	}
	for _, tt := range tests {
		if got := WithinWindow(tt.now, tt.start, tt.end); got != tt.want {
			t.Errorf("%s: WithinWindow = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestWeekday(t *testing.T) {
	// 2026-08-23 is a Sunday.
	sun := time.Date(2026, 8, 23, 12, 0, 0, 0, time.Local)
	if got := Weekday(sun); got != 1 {
		t.Errorf("Weekday(sunday) = %d, want 1", got)
	}
	sat := sun.AddDate(0, 0, 6)
	if got := Weekday(sat); got != 7 {
		t.Errorf("Weekday(saturday) = %d, want 7", got)
	}
}

func TestSinceLocal(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.Local)

	d := SinceLocal(now, "2026-08-28", "11:00:00")
	if d != time.Hour {
		t.Errorf("SinceLocal = %v, want 1h", d)
	}
	if d := SinceLocal(now, "", ""); d != 30*24*time.Hour {
		t.Errorf("missing watermark = %v, want 720h", d)
	}
	if d := SinceLocal(now, "garbage", "11:00:00"); d != 30*24*time.Hour {
		t.Errorf("unparsable watermark = %v, want 720h", d)
	}
	// Clock skew: a watermark in the future clamps to zero.
	if d := SinceLocal(now, "2026-08-28", "13:00:00"); d != 0 {
		t.Errorf("future watermark = %v, want 0", d)
	}
}
