// Package conflict implements deterministic Last-Write-Wins resolution
// between an incoming (remote) document and the one already stored locally,
// plus the metrics and recent-conflicts ring buffer operators use to
// diagnose convergence behavior.
package conflict

import (
	"log"
	"sync"
	"time"

	"meshrelief/internal/store"
	"meshrelief/internal/tstamp"
)

// Outcome is the result recorded for one resolution.
type Outcome string

const (
	RemoteWins Outcome = "remote_wins"
	LocalWins  Outcome = "local_wins"
	Unresolved Outcome = "unresolved"
)

// Record is one entry in the recent-conflicts ring buffer.
type Record struct {
	Collection string    `json:"collection"`
	DocumentID string    `json:"doc_id"`
	Outcome    Outcome   `json:"outcome"`
	Timestamp  time.Time `json:"timestamp"`
}

const ringBufferCapacity = 10

// Metrics tracks conflict outcome counters and a bounded history, protected
// by its own mutex per the rule that the daemon and HTTP handlers never hold
// two of these shared aggregates' locks at once.
type Metrics struct {
	mu sync.Mutex

	total      int
	remoteWins int
	localWins  int
	unresolved int

	byCollection map[string]*collectionCounts

	ring     [ringBufferCapacity]Record
	ringLen  int
	ringHead int
}

type collectionCounts struct {
	Total      int
	RemoteWins int
	LocalWins  int
	Unresolved int
}

// NewMetrics returns an empty Metrics aggregate.
func NewMetrics() *Metrics {
	return &Metrics{byCollection: make(map[string]*collectionCounts)}
}

func (m *Metrics) record(collection, docID string, outcome Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	cc, ok := m.byCollection[collection]
	if !ok {
		cc = &collectionCounts{}
		m.byCollection[collection] = cc
	}
	cc.Total++

	switch outcome {
	case RemoteWins:
		m.remoteWins++
		cc.RemoteWins++
	case LocalWins:
		m.localWins++
		cc.LocalWins++
	case Unresolved:
		m.unresolved++
		cc.Unresolved++
	}

	m.ring[m.ringHead] = Record{Collection: collection, DocumentID: docID, Outcome: outcome, Timestamp: time.Now().UTC()}
	m.ringHead = (m.ringHead + 1) % ringBufferCapacity
	if m.ringLen < ringBufferCapacity {
		m.ringLen++
	}
}

// Snapshot is a point-in-time, copy-safe view of Metrics for /status.
type Snapshot struct {
	Total      int                          `json:"total"`
	RemoteWins int                          `json:"remote_wins"`
	LocalWins  int                          `json:"local_wins"`
	Unresolved int                          `json:"unresolved"`
	ByCollection map[string]collectionCounts `json:"by_collection"`
	Recent     []Record                     `json:"recent"`
}

// Snapshot returns a copy of the current metrics state.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	byColl := make(map[string]collectionCounts, len(m.byCollection))
	for k, v := range m.byCollection {
		byColl[k] = *v
	}

	recent := make([]Record, 0, m.ringLen)
	start := (m.ringHead - m.ringLen + ringBufferCapacity) % ringBufferCapacity
	for i := 0; i < m.ringLen; i++ {
		recent = append(recent, m.ring[(start+i)%ringBufferCapacity])
	}

	return Snapshot{
		Total:        m.total,
		RemoteWins:   m.remoteWins,
		LocalWins:    m.localWins,
		Unresolved:   m.unresolved,
		ByCollection: byColl,
		Recent:       recent,
	}
}

// Resolver resolves conflicting document versions and records metrics.
type Resolver struct {
	metrics *Metrics
}

// New returns a Resolver backed by metrics.
func New(metrics *Metrics) *Resolver {
	return &Resolver{metrics: metrics}
}

// Resolve compares remote and local document versions for (collection,
// docID) and returns the winning document plus the outcome. It also rewrites
// string-typed timestamp fields on the winning document in place when the
// local side wins, keeping the store's timestamp type monotone-improving.
func (r *Resolver) Resolve(collection, docID string, remote, local store.Document) (winner store.Document, outcome Outcome) {
	remoteTS, remoteOK := documentTimestamp(remote)
	localTS, localOK := documentTimestamp(local)

	switch {
	case !remoteOK || !localOK:
		log.Printf("conflict: %s/%s missing timestamp on %s side, keeping local", collection, docID, missingSide(remoteOK, localOK))
		r.metrics.record(collection, docID, Unresolved)
		return local, Unresolved

	case remoteTS.After(localTS):
		r.metrics.record(collection, docID, RemoteWins)
		return remote, RemoteWins

	case remoteTS.Equal(localTS) && remoteOriginWins(remote, local):
		r.metrics.record(collection, docID, RemoteWins)
		return remote, RemoteWins

	default:
		repairTimestamps(local)
		r.metrics.record(collection, docID, LocalWins)
		return local, LocalWins
	}
}

func missingSide(remoteOK, localOK bool) string {
	if !remoteOK && !localOK {
		return "both"
	}
	if !remoteOK {
		return "remote"
	}
	return "local"
}

// documentTimestamp returns last_modified, falling back to timestamp.
func documentTimestamp(doc store.Document) (time.Time, bool) {
	if v, ok := doc["last_modified"]; ok {
		if t, ok := tstamp.Parse(v); ok {
			return t, true
		}
	}
	if v, ok := doc["timestamp"]; ok {
		if t, ok := tstamp.Parse(v); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// remoteOriginWins breaks an exact-tie by lexicographic region_origin order —
// a specification choice made in the absence of any ordering in the source
// this was distilled from.
func remoteOriginWins(remote, local store.Document) bool {
	ro, _ := remote["region_origin"].(string)
	lo, _ := local["region_origin"].(string)
	return ro > lo
}

// repairTimestamps rewrites any string-typed timestamp field on doc to a
// native time.Time, in place.
func repairTimestamps(doc store.Document) {
	for _, field := range []string{"timestamp", "last_modified", "created_at"} {
		v, ok := doc[field]
		if !ok || !tstamp.IsString(v) {
			continue
		}
		if t, ok := tstamp.Parse(v); ok {
			doc[field] = t
		}
	}
}
