package schedule

import (
	"time"

	"github.com/robfig/cron/v3"

	"tickflow/internal/domain"
)

// HorizonDays bounds how many calendar days ahead an Each schedule is
// searched, today included as day 0.
const HorizonDays = 7

// starBit mirrors cron's marker for an unrestricted field. Setting it on Dom
// makes day matching depend on the weekday mask alone.
const starBit = 1 << 63

// ComputeNext returns the next instant task is due, or false when the task
// should not fire again. It reads only the schedule and LastRun.
func ComputeNext(task *domain.TimedTask, now time.Time) (time.Time, bool) {
	switch s := task.Schedule.(type) {
	case domain.Every:
		if task.LastRun != nil {
			return task.LastRun.Add(s.Interval), true
		}
		return now.Add(s.Interval), true
	case domain.Once:
		if task.LastRun != nil {
			return time.Time{}, false
		}
		return s.At, true
	case domain.Each:
		return nextEach(s, now)
	default:
		return time.Time{}, false
	}
}

// nextEach builds one candidate per calendar day, today first, and returns
// the earliest on an allowed weekday that is not before now.
func nextEach(s domain.Each, now time.Time) (time.Time, bool) {
	spec := eachSpec(s, now.Location())
	if spec == nil {
		return time.Time{}, false
	}
	tod := normalizeTimeOfDay(s.TimeOfDay)
	h := int(tod / time.Hour)
	m := int(tod % time.Hour / time.Minute)
	sec := int(tod % time.Minute / time.Second)
	nsec := int(tod % time.Second)

	y, mo, d := now.Date()
	for off := 0; off <= HorizonDays; off++ {
		c := candidate(y, mo, d+off, h, m, sec, nsec, now.Location())
		if !dayMatches(spec, c) || c.Before(now) {
			continue
		}
		return c, true
	}
	return time.Time{}, false
}

// candidate returns the wall-clock time h:m:sec on the given day. A time
// skipped by a DST jump moves forward by the length of the gap, so the day
// still fires (02:30 on a spring-forward day becomes 03:30).
func candidate(y int, mo time.Month, d, h, m, sec, nsec int, loc *time.Location) time.Time {
	c := time.Date(y, mo, d, h, m, sec, nsec, loc)
	if c.Hour() == h && c.Minute() == m && c.Second() == sec {
		return c
	}
	midnight := time.Date(y, mo, d, 0, 0, 0, 0, loc)
	return midnight.Add(time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(sec)*time.Second +
		time.Duration(nsec))
}

func dayMatches(spec *cron.SpecSchedule, t time.Time) bool {
	return spec.Dow&(1<<uint(t.Weekday())) != 0 && spec.Month&(1<<uint(t.Month())) != 0
}

func normalizeTimeOfDay(tod time.Duration) time.Duration {
	tod %= 24 * time.Hour
	if tod < 0 {
		tod += 24 * time.Hour
	}
	return tod
}

func eachSpec(s domain.Each, loc *time.Location) *cron.SpecSchedule {
	var dow uint64
	for _, d := range s.Weekdays {
		if d < time.Sunday || d > time.Saturday {
			continue
		}
		dow |= 1 << uint(d)
	}
	if dow == 0 {
		return nil
	}

	tod := normalizeTimeOfDay(s.TimeOfDay)
	h := uint(tod / time.Hour)
	m := uint(tod % time.Hour / time.Minute)
	sec := uint(tod % time.Minute / time.Second)

	return &cron.SpecSchedule{
		Second:   1 << sec,
		Minute:   1 << m,
		Hour:     1 << h,
		Dom:      bitRange(1, 31) | starBit,
		Month:    bitRange(1, 12),
		Dow:      dow,
		Location: loc,
	}
}

func bitRange(min, max uint) uint64 {
	var b uint64
	for i := min; i <= max; i++ {
		b |= 1 << i
	}
	return b
}
