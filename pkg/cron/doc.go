// Package cron runs a handler on a cron schedule.
//
// A Service computes the next occurrence of its schedule, sleeps until then
// and runs a fresh handler under a per-run timeout. Handler errors, panics
// and timeouts are reported to the observer and never stop the schedule.
//
// Expressions use the standard five fields (minute hour day-of-month month
// day-of-week) or six when IncludingSeconds is set, with the seconds field
// first. Descriptors such as "@hourly" or "@every 5m" are accepted in both
// modes. Parsing is done by github.com/robfig/cron/v3.
//
// By default each run finishes before the next occurrence is computed
// (WaitForCompletion). Without it, runs are started in the background and
// may overlap; Stop still waits for them.
package cron
