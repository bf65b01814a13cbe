package whisperpool

import (
	"testing"
	"time"
)

func TestBackoffRecordNotBlockedBelowThreshold(t *testing.T) {
	rec := &backoffRecord{count: maxSpawnFailures - 1, lastAttempt: time.Now()}

	if rec.blocked(time.Now()) {
		t.Fatal("expected not blocked below maxSpawnFailures")
	}
}

func TestBackoffRecordBlockedAtThreshold(t *testing.T) {
	now := time.Now()
	rec := &backoffRecord{count: maxSpawnFailures, lastAttempt: now}

	if !rec.blocked(now.Add(time.Millisecond)) {
		t.Fatal("expected blocked immediately after reaching threshold")
	}
	if rec.blocked(now.Add(baseBackoff + time.Second)) {
		t.Fatal("expected unblocked once baseBackoff has elapsed")
	}
}

func TestBackoffRecordDoublesPastThreshold(t *testing.T) {
	now := time.Now()
	rec := &backoffRecord{count: maxSpawnFailures + 1, lastAttempt: now}

	// one failure past threshold doubles the wait
	if rec.blocked(now.Add(baseBackoff + time.Second)) == false {
		t.Fatal("expected still blocked after one baseBackoff at count+1")
	}
	if rec.blocked(now.Add(2*baseBackoff + time.Second)) {
		t.Fatal("expected unblocked after two baseBackoff windows at count+1")
	}
}
