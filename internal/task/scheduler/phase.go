package scheduler

import (
	"hash/fnv"
	"time"
)

const maxPhase = 30 * time.Second

// phasedInterval fires on a fixed grid: every multiple of interval plus a
// per-job phase. Runs keep their slot across restarts, and jobs sharing an
// interval are spread apart by their names.
type phasedInterval struct {
	every time.Duration
	phase time.Duration
}

func newPhasedInterval(every time.Duration, name string) phasedInterval {
	if every < time.Second {
		every = time.Second
	}
	every = every.Truncate(time.Second)
	return phasedInterval{every: every, phase: phaseFor(name, every)}
}

// phaseFor maps name to [0, min(every, maxPhase)) in whole milliseconds.
func phaseFor(name string, every time.Duration) time.Duration {
	limit := min(every, maxPhase) / time.Millisecond
	if limit <= 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return time.Duration(h.Sum64()%uint64(limit)) * time.Millisecond
}

func (p phasedInterval) Next(t time.Time) time.Time {
	next := t.Truncate(p.every).Add(p.phase)
	for !next.After(t) {
		next = next.Add(p.every)
	}
	return next.In(t.Location())
}
