package liveness

import (
	"testing"
	"time"
)

func TestTrackerRecordsSuccessAndFailure(t *testing.T) {
	tr := NewTracker()
	tr.RecordFailure("http://eu")
	tr.RecordFailure("http://eu")
	tr.RecordSuccess("http://eu")

	snap := tr.Snapshot()
	r, ok := snap["http://eu"]
	if !ok {
		t.Fatal("expected a record for http://eu")
	}
	if !r.Connected {
		t.Fatal("expected Connected = true after RecordSuccess")
	}
	if r.ConsecutiveFailures != 0 {
		t.Fatalf("expected ConsecutiveFailures reset to 0, got %d", r.ConsecutiveFailures)
	}
}

func TestFSMStaysConnectedWithNoPeers(t *testing.T) {
	fsm := NewFSM(10)
	fsm.Evaluate(true)
	status := fsm.Snapshot()
	if status.State != Connected {
		t.Fatalf("expected Connected, got %v", status.State)
	}
}

func TestFSMEntersSuspectThenIsland(t *testing.T) {
	fsm := NewFSM(1) // 1-second threshold to keep the test fast

	fsm.Evaluate(false)
	status := fsm.Snapshot()
	if status.State != Suspect {
		t.Fatalf("expected Suspect immediately after first failure cycle, got %v", status.State)
	}

	time.Sleep(1100 * time.Millisecond)
	fsm.Evaluate(false)
	status = fsm.Snapshot()
	if status.State != Island {
		t.Fatalf("expected Island after threshold elapsed, got %v", status.State)
	}
}

func TestFSMDemotesImmediatelyOnSuccess(t *testing.T) {
	fsm := NewFSM(1)
	fsm.Evaluate(false)
	time.Sleep(1100 * time.Millisecond)
	fsm.Evaluate(false)
	if fsm.Snapshot().State != Island {
		t.Fatal("setup: expected Island before recovery")
	}

	fsm.Evaluate(true)
	status := fsm.Snapshot()
	if status.State != Connected {
		t.Fatalf("expected immediate demotion to Connected, got %v", status.State)
	}
	if status.IsolationStart != nil {
		t.Fatal("expected isolation_start cleared on recovery")
	}
}
