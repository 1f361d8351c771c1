package bridge

import "time"

// Delay returns the wait between the start of one cycle and the next.
//
// With no consecutive failures it is interval. Otherwise it is
// interval*2^failures, capped at maxBackoff. A maxBackoff below interval is
// treated as interval.
func Delay(state PollState, interval, maxBackoff time.Duration) time.Duration {
	if maxBackoff < interval {
		maxBackoff = interval
	}
	d := interval
	for i := 0; i < state.ConsecutiveFailures; i++ {
		if d > maxBackoff/2 {
			return maxBackoff
		}
		d *= 2
	}
	return min(d, maxBackoff)
}

// nextStart returns when the cycle after one started at start may begin.
//
// A cycle that ran past start+delay does not cause an immediate catch-up
// run: the missed tick is skipped and the next one on the same grid is used.
func nextStart(start, now time.Time, delay time.Duration) time.Time {
	if delay <= 0 {
		return now
	}
	next := start.Add(delay)
	for !next.After(now) {
		next = next.Add(delay)
	}
	return next
}
