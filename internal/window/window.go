// Package window implements maintenance-window gating for the update
// pipeline: an optional operator-declared schedule restricting when
// automatic (registry-triggered) updates may apply. The grammar covers
// daily and weekly ranges, including ones that cross midnight or a weekday
// boundary, and a ;-separated union of several ranges.
package window

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const minutesPerDay = 24 * 60

// span is one half-open [start, end) range of minutes. Daily spans count
// minutes since midnight modulo a day; weekly spans count minutes since
// Sunday 00:00 modulo a week. start > end means the span wraps past the
// modulus boundary.
type span struct {
	start, end int
	weekly     bool
}

func (s span) contains(t time.Time) bool {
	now := t.Hour()*60 + t.Minute()
	if s.weekly {
		now += int(t.Weekday()) * minutesPerDay
	}
	if s.start <= s.end {
		return now >= s.start && now < s.end
	}
	return now >= s.start || now < s.end
}

// Window is a union of spans during which automatic updates may apply. A
// nil Window carries no restriction and is always open.
type Window struct {
	spans []span
}

// Parse parses a maintenance window expression:
//
//	"HH:MM-HH:MM"             daily window, may cross midnight
//	"Day HH:MM-Day HH:MM"     weekly window, e.g. "Sat 02:00-Sat 06:00"
//	"a;b;c"                   multiple windows, union of all of them
//	""                        no restriction (always open)
//
// A malformed expression returns an error and no Window; Config.Validate
// rejects such an expression at startup.
func Parse(expr string) (*Window, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}

	var spans []span
	for _, part := range strings.Split(expr, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		parsed, err := parseRange(part)
		if err != nil {
			return nil, fmt.Errorf("invalid maintenance window %q: %w", part, err)
		}
		spans = append(spans, parsed...)
	}
	if len(spans) == 0 {
		return nil, nil
	}
	return &Window{spans: spans}, nil
}

// IsOpen reports whether t falls inside any configured span. A nil Window
// (no expression configured) is always open.
func (w *Window) IsOpen(t time.Time) bool {
	if w == nil {
		return true
	}
	for _, s := range w.spans {
		if s.contains(t) {
			return true
		}
	}
	return false
}

var weekdayNames = map[string]int{
	"sun": 0, "sunday": 0,
	"mon": 1, "monday": 1,
	"tue": 2, "tuesday": 2,
	"wed": 3, "wednesday": 3,
	"thu": 4, "thursday": 4,
	"fri": 5, "friday": 5,
	"sat": 6, "saturday": 6,
}

// parseRange turns one "start-end" expression into spans. Most expressions
// become a single span; a weekly window that wraps within its own day
// ("Sat 23:00-Sat 05:00") splits into two, since the wrap is bounded to
// that weekday rather than spilling across the week.
func parseRange(expr string) ([]span, error) {
	startPart, endPart, ok := strings.Cut(expr, "-")
	if !ok {
		return nil, fmt.Errorf("expected HH:MM-HH:MM format")
	}

	startDay, startMins, err := parseEndpoint(strings.TrimSpace(startPart))
	if err != nil {
		return nil, fmt.Errorf("start time: %w", err)
	}
	endDay, endMins, err := parseEndpoint(strings.TrimSpace(endPart))
	if err != nil {
		return nil, fmt.Errorf("end time: %w", err)
	}

	if startDay < 0 {
		// Daily window; an end weekday without a start one is meaningless
		// and ignored.
		return []span{{start: startMins, end: endMins}}, nil
	}

	sameDay := endDay < 0 || endDay == startDay
	if sameDay && startMins > endMins {
		base := startDay * minutesPerDay
		return []span{
			{start: base + startMins, end: base + minutesPerDay, weekly: true},
			{start: base, end: base + endMins, weekly: true},
		}, nil
	}
	if sameDay {
		endDay = startDay
	}
	return []span{{
		start:  startDay*minutesPerDay + startMins,
		end:    endDay*minutesPerDay + endMins,
		weekly: true,
	}}, nil
}

// parseEndpoint parses "HH:MM" or "Day HH:MM", returning the weekday (-1
// when unqualified) and minutes past midnight.
func parseEndpoint(s string) (day, mins int, err error) {
	day = -1
	if fields := strings.Fields(s); len(fields) == 2 {
		d, ok := weekdayNames[strings.ToLower(fields[0])]
		if !ok {
			return 0, 0, fmt.Errorf("unknown weekday %q", fields[0])
		}
		day = d
		s = fields[1]
	}

	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour %q", hh)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute %q", mm)
	}
	return day, h*60 + m, nil
}
