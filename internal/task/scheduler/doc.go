// Package scheduler runs named background jobs on cron or interval schedules.
//
// Jobs never overlap with themselves: a trigger that fires while the previous
// run is still active is skipped and logged.
package scheduler
