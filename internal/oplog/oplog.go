// Package oplog implements the per-site operation log: an append-only record
// of locally-originated mutations awaiting propagation to peers, along with
// the bookkeeping (per-peer acknowledgement sets, retention GC) the
// replication daemon needs to drive push cycles.
package oplog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"meshrelief/internal/store"
)

const collectionName = "oplog"

// OpType is the closed set of mutation kinds a log entry can record.
type OpType string

const (
	OpInsert OpType = "insert"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// idField maps a document collection to its application-level identifier
// field, preserving the "collection[:-1]" convention as an explicit table
// rather than a string-slicing trick.
var idField = map[string]string{
	"posts": "post_id",
	"users": "user_id",
}

// IDField returns the identifier field name for collection.
func IDField(collection string) string {
	if f, ok := idField[collection]; ok {
		return f
	}
	return collection + "_id"
}

// Entry is one operation-log record.
type Entry struct {
	ID           string          `json:"id"`
	OperationType OpType         `json:"operation_type"`
	Collection   string          `json:"collection"`
	DocumentID   string          `json:"document_id"`
	Data         json.RawMessage `json:"data"`
	Timestamp    time.Time       `json:"timestamp"`
	RegionOrigin string          `json:"region_origin"`
	SyncedTo     []string        `json:"synced_to"`
}

// Log is the append-only operation queue for one site.
type Log struct {
	store  store.Store
	region string
}

// New returns a Log that records entries as originating from region and
// persists them through s.
func New(s store.Store, region string) *Log {
	return &Log{store: s, region: region}
}

// Queue appends a new entry for a local mutation. Every successful local
// write — insert, update, delete — must call this exactly once; delete's
// data payload is empty.
func (l *Log) Queue(ctx context.Context, opType OpType, collection, docID string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal operation data: %w", err)
	}

	entry := Entry{
		OperationType: opType,
		Collection:    collection,
		DocumentID:    docID,
		Data:          raw,
		Timestamp:     time.Now().UTC(),
		RegionOrigin:  l.region,
		SyncedTo:      []string{},
	}

	doc := store.Document{
		"operation_type": string(entry.OperationType),
		"collection":     entry.Collection,
		"document_id":    entry.DocumentID,
		"data":           json.RawMessage(entry.Data),
		"timestamp":      entry.Timestamp,
		"region_origin":  entry.RegionOrigin,
		"synced_to":      []string{},
	}
	_, err = l.store.InsertOne(ctx, collectionName, doc)
	return err
}

// Pushable returns up to 100 locally-originated entries not yet acknowledged
// by every peer in configuredPeers, sorted ascending by timestamp.
func (l *Log) Pushable(ctx context.Context, configuredPeers []string) ([]Entry, error) {
	filter := store.Filter{
		"region_origin": l.region,
		"synced_to":     store.NotContainsAll{Values: configuredPeers},
	}
	docs, err := l.store.FindMany(ctx, collectionName, filter, store.FindOptions{
		SortField: "timestamp",
		Limit:     100,
	})
	if err != nil {
		return nil, err
	}
	return decodeEntries(docs)
}

// Ack atomically adds peerURL to the synced_to set of every entry in
// entries — idempotent on replay, since AddToSet is at-most-once.
func (l *Log) Ack(ctx context.Context, entries []Entry, peerURL string) error {
	for _, e := range entries {
		filter := store.Filter{"document_id": e.DocumentID, "operation_type": string(e.OperationType), "timestamp": e.Timestamp}
		if _, err := l.store.AddToSet(ctx, collectionName, filter, "synced_to", peerURL); err != nil {
			return err
		}
	}
	return nil
}

// Changes returns up to 100 locally-originated entries with timestamp after
// since (or the oldest 100 of them if since is nil), sorted ascending —
// the feed /internal/changes exposes to peers pulling from this site.
func (l *Log) Changes(ctx context.Context, since *time.Time) ([]Entry, error) {
	filter := store.Filter{"region_origin": l.region}
	if since != nil {
		filter["timestamp"] = store.Range{Gt: since}
	}
	docs, err := l.store.FindMany(ctx, collectionName, filter, store.FindOptions{
		SortField: "timestamp",
		Limit:     100,
	})
	if err != nil {
		return nil, err
	}
	return decodeEntries(docs)
}

// GC deletes every local entry whose synced_to set covers every configured
// peer and whose timestamp is older than retention. Best-effort: a store
// error is returned to the caller (the daemon logs and continues) rather
// than panicking.
func (l *Log) GC(ctx context.Context, configuredPeers []string, retention time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-retention)
	docs, err := l.store.FindMany(ctx, collectionName, store.Filter{
		"region_origin": l.region,
		"timestamp":     store.Range{Lt: &cutoff},
	}, store.FindOptions{})
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, doc := range docs {
		if !syncedToAll(doc, configuredPeers) {
			continue
		}
		filter := store.Filter{"document_id": doc["document_id"], "timestamp": doc["timestamp"], "operation_type": doc["operation_type"]}
		ok, err := l.store.DeleteOne(ctx, collectionName, filter)
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted++
		}
	}
	return deleted, nil
}

func syncedToAll(doc store.Document, peers []string) bool {
	have := map[string]bool{}
	switch v := doc["synced_to"].(type) {
	case []string:
		for _, s := range v {
			have[s] = true
		}
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok {
				have[s] = true
			}
		}
	}
	for _, p := range peers {
		if !have[p] {
			return false
		}
	}
	return true
}

func decodeEntries(docs []store.Document) ([]Entry, error) {
	entries := make([]Entry, 0, len(docs))
	for _, doc := range docs {
		e, err := decodeEntry(doc)
		if err != nil {
			continue // best-effort: skip a malformed record rather than fail the whole batch
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func decodeEntry(doc store.Document) (Entry, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return Entry{}, err
	}
	var wire struct {
		OperationType string          `json:"operation_type"`
		Collection    string          `json:"collection"`
		DocumentID    string          `json:"document_id"`
		Data          json.RawMessage `json:"data"`
		Timestamp     time.Time       `json:"timestamp"`
		RegionOrigin  string          `json:"region_origin"`
		SyncedTo      []string        `json:"synced_to"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Entry{}, err
	}
	return Entry{
		OperationType: OpType(wire.OperationType),
		Collection:    wire.Collection,
		DocumentID:    wire.DocumentID,
		Data:          wire.Data,
		Timestamp:     wire.Timestamp,
		RegionOrigin:  wire.RegionOrigin,
		SyncedTo:      wire.SyncedTo,
	}, nil
}
