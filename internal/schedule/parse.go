package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tues": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseWeekdays parses day names ("mon", "Tuesday") or numbers (0=Sunday).
// Any bad entry yields an empty list together with the error; callers log
// the error and keep the empty list.
func ParseWeekdays(raw []string) ([]time.Weekday, error) {
	seen := make(map[time.Weekday]bool, len(raw))
	for _, r := range raw {
		for _, part := range strings.Split(r, ",") {
			s := strings.ToLower(strings.TrimSpace(part))
			if s == "" {
				continue
			}
			d, ok := weekdayNames[s]
			if !ok {
				n, err := strconv.Atoi(s)
				if err != nil || n < 0 || n > 6 {
					return nil, fmt.Errorf("invalid weekday %q", part)
				}
				d = time.Weekday(n)
			}
			seen[d] = true
		}
	}
	out := make([]time.Weekday, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// ParseTimeOfDay parses "HH:mm:ss" into an offset from midnight. An empty or
// malformed value yields midnight together with the error.
func ParseTimeOfDay(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("time of day required")
	}
	t, err := time.Parse("15:04:05", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q, expected HH:mm:ss", raw)
	}
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second, nil
}
