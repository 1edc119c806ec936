package conflict

import (
	"testing"
	"time"

	"meshrelief/internal/store"
)

func TestResolveRemoteWinsOnLaterTimestamp(t *testing.T) {
	metrics := NewMetrics()
	r := New(metrics)

	t0 := time.Now().UTC()
	local := store.Document{"name": "A", "last_modified": t0, "region_origin": "north_america"}
	remote := store.Document{"name": "B", "last_modified": t0.Add(time.Second), "region_origin": "europe"}

	winner, outcome := r.Resolve("users", "u1", remote, local)
	if outcome != RemoteWins {
		t.Fatalf("expected RemoteWins, got %v", outcome)
	}
	if winner["name"] != "B" {
		t.Fatalf("expected winner name B, got %v", winner["name"])
	}

	snap := metrics.Snapshot()
	if snap.RemoteWins != 1 || snap.Total != 1 {
		t.Fatalf("unexpected metrics snapshot: %+v", snap)
	}
}

func TestResolveLocalWinsOnEarlierRemote(t *testing.T) {
	metrics := NewMetrics()
	r := New(metrics)

	t0 := time.Now().UTC()
	local := store.Document{"name": "A", "last_modified": t0, "region_origin": "north_america"}
	remote := store.Document{"name": "B", "last_modified": t0.Add(-time.Second), "region_origin": "europe"}

	winner, outcome := r.Resolve("users", "u1", remote, local)
	if outcome != LocalWins {
		t.Fatalf("expected LocalWins, got %v", outcome)
	}
	if winner["name"] != "A" {
		t.Fatalf("expected winner name A, got %v", winner["name"])
	}
}

func TestResolveTieBreaksByRegionOriginLexOrder(t *testing.T) {
	metrics := NewMetrics()
	r := New(metrics)

	t0 := time.Now().UTC()
	local := store.Document{"name": "A", "last_modified": t0, "region_origin": "asia_pacific"}
	remote := store.Document{"name": "B", "last_modified": t0, "region_origin": "europe"}

	// "europe" > "asia_pacific" lexicographically ("e" > "a"), so remote's
	// region_origin wins the tie here.
	_, outcome := r.Resolve("users", "u1", remote, local)
	if outcome != RemoteWins {
		t.Fatalf("expected RemoteWins on this tie-break ordering, got %v", outcome)
	}
}

func TestResolveUnresolvedOnMissingTimestamp(t *testing.T) {
	metrics := NewMetrics()
	r := New(metrics)

	local := store.Document{"name": "A", "region_origin": "north_america"}
	remote := store.Document{"name": "B", "region_origin": "europe"}

	winner, outcome := r.Resolve("users", "u1", remote, local)
	if outcome != Unresolved {
		t.Fatalf("expected Unresolved, got %v", outcome)
	}
	if winner["name"] != "A" {
		t.Fatalf("expected local document kept, got %v", winner["name"])
	}
}

func TestResolveRepairsStringTimestampOnLocalWins(t *testing.T) {
	metrics := NewMetrics()
	r := New(metrics)

	t0 := time.Now().UTC()
	local := store.Document{
		"name":          "A",
		"last_modified": t0,
		"timestamp":     t0.Format("2006-01-02T15:04:05.999999999Z"),
		"region_origin": "north_america",
	}
	remote := store.Document{"name": "B", "last_modified": t0.Add(-time.Second), "region_origin": "europe"}

	winner, outcome := r.Resolve("users", "u1", remote, local)
	if outcome != LocalWins {
		t.Fatalf("expected LocalWins, got %v", outcome)
	}
	if _, ok := winner["timestamp"].(time.Time); !ok {
		t.Fatalf("expected timestamp field rewritten to time.Time, got %T", winner["timestamp"])
	}
}

func TestMetricsRingBufferCapsAtTen(t *testing.T) {
	metrics := NewMetrics()
	r := New(metrics)

	t0 := time.Now().UTC()
	for i := 0; i < 15; i++ {
		local := store.Document{"last_modified": t0, "region_origin": "north_america"}
		remote := store.Document{"last_modified": t0.Add(-time.Second), "region_origin": "europe"}
		r.Resolve("posts", "p", remote, local)
	}

	snap := metrics.Snapshot()
	if len(snap.Recent) != ringBufferCapacity {
		t.Fatalf("expected ring buffer capped at %d, got %d", ringBufferCapacity, len(snap.Recent))
	}
	if snap.Total != 15 {
		t.Fatalf("expected total counter to keep counting past ring capacity, got %d", snap.Total)
	}
}
