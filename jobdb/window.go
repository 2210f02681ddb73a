package jobdb

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// WindowPolicy controls when a destination may receive files.
type WindowPolicy int

const (
	WindowNone WindowPolicy = iota
	// WindowCollect holds files outside the window and releases them when it opens.
	WindowCollect
	// WindowSendOnly sends inside the window and ignores files outside it.
	WindowSendOnly
)

func (p WindowPolicy) String() string {
	switch p {
	case WindowCollect:
		return "collect"
	case WindowSendOnly:
		return "send-only"
	default:
		return "none"
	}
}

// TimeWindow is a cron-style minute/hour/day-of-month/month/day-of-week spec.
type TimeWindow struct {
	Policy   WindowPolicy
	Spec     string
	schedule cron.Schedule
}

var windowParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseWindow compiles spec for the given policy.
func ParseWindow(policy WindowPolicy, spec string) (TimeWindow, error) {
	if policy == WindowNone {
		return TimeWindow{}, nil
	}
	sched, err := windowParser.Parse(spec)
	if err != nil {
		return TimeWindow{}, fmt.Errorf("parse window %q: %w", spec, err)
	}
	return TimeWindow{Policy: policy, Spec: spec, schedule: sched}, nil
}

// Contains reports whether the minute containing now matches the window.
func (w TimeWindow) Contains(now time.Time) bool {
	if w.Policy == WindowNone || w.schedule == nil {
		return true
	}
	minute := now.Truncate(time.Minute)
	return w.schedule.Next(minute.Add(-time.Second)).Equal(minute)
}

// NextStart returns the first window minute after now.
func (w TimeWindow) NextStart(now time.Time) time.Time {
	if w.schedule == nil {
		return now
	}
	return w.schedule.Next(now)
}
