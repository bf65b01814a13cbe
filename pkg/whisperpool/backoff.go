package whisperpool

import "time"

// backoffRecord is per-port state gating respawn frequency after repeated
// spawn failures (spec.md §3, Backoff Record).
type backoffRecord struct {
	count       int
	lastAttempt time.Time
}

// blocked reports whether a spawn attempt on this record should be aborted
// right now, per spec.md §4.3.2 step 1: once count has reached
// MAX_SPAWN_FAILURES, the wait grows exponentially in the number of
// failures past that threshold.
func (b *backoffRecord) blocked(now time.Time) bool {
	if b.count < maxSpawnFailures {
		return false
	}
	backoff := baseBackoff << uint(b.count-maxSpawnFailures)
	return now.Sub(b.lastAttempt) < backoff
}
