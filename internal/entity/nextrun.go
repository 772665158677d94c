package entity

import (
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom,
// month, dow), the format the remote system reports for recurring tasks.
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// NextRun returns the next fire time of a cron-type task after now.
// It returns false for non-cron tasks, empty schedules, and expressions
// that fail to parse.
func (t Task) NextRun(now time.Time) (time.Time, bool) {
	if t.Type != TaskCron || t.Schedule == "" {
		return time.Time{}, false
	}
	sched, err := cronParser.Parse(t.Schedule)
	if err != nil {
		return time.Time{}, false
	}
	return sched.Next(now), true
}
