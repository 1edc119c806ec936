// Package partition implements the hash-partitioning helper used to pick
// which local database node serves a read. It performs no cross-site
// routing — replication between sites is the job of internal/replication —
// it only spreads local document reads across however many backing database
// nodes this site's store adapter is configured with.
package partition

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"
	"strconv"
	"sync"
)

const defaultVnodes = 150

// Ring is a consistent-hash ring over local database node identifiers.
// Safe for concurrent use.
type Ring struct {
	mu     sync.RWMutex
	vnodes int
	ring   map[uint32]string
	sorted []uint32
}

// NewRing creates an empty ring. vnodes <= 0 uses the default of 150.
func NewRing(vnodes int) *Ring {
	if vnodes <= 0 {
		vnodes = defaultVnodes
	}
	return &Ring{vnodes: vnodes, ring: make(map[uint32]string)}
}

// AddNode adds a database node to the ring.
func (r *Ring) AddNode(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < r.vnodes; i++ {
		pos := hashPosition(nodeID, i)
		r.ring[pos] = nodeID
	}
	r.rebuild()
}

// RemoveNode removes a database node and all of its virtual positions.
func (r *Ring) RemoveNode(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < r.vnodes; i++ {
		pos := hashPosition(nodeID, i)
		delete(r.ring, pos)
	}
	r.rebuild()
}

// NodeFor returns the database node responsible for key, or "" if the ring
// is empty.
func (r *Ring) NodeFor(key string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.sorted) == 0 {
		return ""
	}
	pos := hash(key)
	idx := r.search(pos)
	return r.ring[r.sorted[idx]]
}

// Nodes returns all distinct database node IDs, sorted.
func (r *Ring) Nodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var nodes []string
	for _, id := range r.ring {
		if !seen[id] {
			seen[id] = true
			nodes = append(nodes, id)
		}
	}
	sort.Strings(nodes)
	return nodes
}

// Stats reports how the ring's virtual positions distribute across physical
// nodes — the data backend/partitioning.py's get_partitioning_stats exposed
// for operators.
type Stats struct {
	NodeCount      int            `json:"node_count"`
	VirtualNodes   int            `json:"virtual_nodes_per_node"`
	TotalPositions int            `json:"total_positions"`
	Distribution   map[string]int `json:"distribution"`
}

// Stats returns the current node set and virtual-position distribution.
func (r *Ring) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dist := make(map[string]int)
	for _, id := range r.ring {
		dist[id]++
	}
	return Stats{
		NodeCount:      len(dist),
		VirtualNodes:   r.vnodes,
		TotalPositions: len(r.ring),
		Distribution:   dist,
	}
}

func (r *Ring) rebuild() {
	r.sorted = make([]uint32, 0, len(r.ring))
	for pos := range r.ring {
		r.sorted = append(r.sorted, pos)
	}
	sort.Slice(r.sorted, func(i, j int) bool { return r.sorted[i] < r.sorted[j] })
}

func (r *Ring) search(pos uint32) int {
	idx := sort.Search(len(r.sorted), func(i int) bool { return r.sorted[i] >= pos })
	if idx == len(r.sorted) {
		idx = 0
	}
	return idx
}

func hash(s string) uint32 {
	h := sha256.Sum256([]byte(s))
	return binary.BigEndian.Uint32(h[:4])
}

func hashPosition(nodeID string, vnode int) uint32 {
	return hash(nodeID + "#" + strconv.Itoa(vnode))
}
