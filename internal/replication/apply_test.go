package replication

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"meshrelief/internal/conflict"
	"meshrelief/internal/liveness"
	"meshrelief/internal/oplog"
	"meshrelief/internal/peers"
	"meshrelief/internal/store"
)

func newTestDaemon(t *testing.T) (*Daemon, store.Store) {
	t.Helper()
	s, err := store.NewMemStore("")
	if err != nil {
		t.Fatalf("NewMemStore: %v", err)
	}
	metrics := conflict.NewMetrics()
	d := New(Config{
		Region:         "north_america",
		Log:            oplog.New(s, "north_america"),
		Store:          s,
		Registry:       peers.NewRegistry(nil),
		Liveness:       liveness.NewTracker(),
		FSM:            liveness.NewFSM(10),
		Resolver:       conflict.New(metrics),
		SyncInterval:   5 * time.Second,
		RequestTimeout: 1 * time.Second,
	})
	return d, s
}

func entry(t *testing.T, opType oplog.OpType, collection, docID string, data map[string]any) oplog.Entry {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal entry data: %v", err)
	}
	return oplog.Entry{
		OperationType: opType,
		Collection:    collection,
		DocumentID:    docID,
		Data:          raw,
		Timestamp:     time.Now().UTC(),
		RegionOrigin:  "europe",
	}
}

func TestApplyInsertCreatesDocumentWhenAbsent(t *testing.T) {
	d, s := newTestDaemon(t)
	ctx := context.Background()

	e := entry(t, oplog.OpInsert, "posts", "p1", map[string]any{"post_id": "p1", "message": "m", "timestamp": time.Now().UTC()})
	applied := d.ApplyOperations(ctx, []oplog.Entry{e})
	if applied != 1 {
		t.Fatalf("expected 1 applied, got %d", applied)
	}

	doc, err := s.FindOne(ctx, "posts", store.Filter{"post_id": "p1"})
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if doc["message"] != "m" {
		t.Fatalf("expected inserted document, got %v", doc)
	}
}

func TestApplyInsertIdempotentOnReplay(t *testing.T) {
	d, s := newTestDaemon(t)
	ctx := context.Background()

	e := entry(t, oplog.OpInsert, "posts", "p1", map[string]any{"post_id": "p1", "message": "m", "timestamp": time.Now().UTC()})
	d.ApplyOperations(ctx, []oplog.Entry{e})
	d.ApplyOperations(ctx, []oplog.Entry{e}) // same entry applied twice

	n, err := s.Count(ctx, "posts", store.Filter{"post_id": "p1"})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly 1 document after re-applying the same insert, got %d", n)
	}
}

func TestApplyUpdateAsInsertWhenDocumentAbsent(t *testing.T) {
	d, s := newTestDaemon(t)
	ctx := context.Background()

	e := entry(t, oplog.OpUpdate, "users", "u1", map[string]any{"user_id": "u1", "name": "Alice", "last_modified": time.Now().UTC()})
	applied := d.ApplyOperations(ctx, []oplog.Entry{e})
	if applied != 1 {
		t.Fatalf("expected 1 applied, got %d", applied)
	}

	doc, err := s.FindOne(ctx, "users", store.Filter{"user_id": "u1"})
	if err != nil {
		t.Fatalf("expected update-as-insert to create the document: %v", err)
	}
	if doc["name"] != "Alice" {
		t.Fatalf("expected name Alice, got %v", doc["name"])
	}
}

func TestApplyUpdateResolvesConflictWhenDocumentPresent(t *testing.T) {
	d, s := newTestDaemon(t)
	ctx := context.Background()

	t0 := time.Now().UTC()
	if _, err := s.InsertOne(ctx, "users", store.Document{
		"user_id": "u1", "name": "Local", "last_modified": t0, "region_origin": "north_america",
	}); err != nil {
		t.Fatalf("seed InsertOne: %v", err)
	}

	e := entry(t, oplog.OpUpdate, "users", "u1", map[string]any{
		"user_id": "u1", "name": "Remote", "last_modified": t0.Add(time.Second), "region_origin": "europe",
	})
	applied := d.ApplyOperations(ctx, []oplog.Entry{e})
	if applied != 1 {
		t.Fatalf("expected 1 applied, got %d", applied)
	}

	doc, err := s.FindOne(ctx, "users", store.Filter{"user_id": "u1"})
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if doc["name"] != "Remote" {
		t.Fatalf("expected later remote write to win LWW, got %v", doc["name"])
	}
}

func TestApplyDeleteRemovesDocumentUnconditionally(t *testing.T) {
	d, s := newTestDaemon(t)
	ctx := context.Background()

	if _, err := s.InsertOne(ctx, "posts", store.Document{"post_id": "p1", "message": "m"}); err != nil {
		t.Fatalf("seed InsertOne: %v", err)
	}

	e := entry(t, oplog.OpDelete, "posts", "p1", map[string]any{})
	applied := d.ApplyOperations(ctx, []oplog.Entry{e})
	if applied != 1 {
		t.Fatalf("expected 1 applied, got %d", applied)
	}

	if _, err := s.FindOne(ctx, "posts", store.Filter{"post_id": "p1"}); err != store.ErrNotFound {
		t.Fatalf("expected document deleted, got err=%v", err)
	}
}

func TestApplyOperationsIsBestEffortAcrossABatch(t *testing.T) {
	d, s := newTestDaemon(t)
	ctx := context.Background()

	bad := oplog.Entry{OperationType: "bogus", Collection: "posts", DocumentID: "p1", Timestamp: time.Now().UTC()}
	good := entry(t, oplog.OpInsert, "posts", "p2", map[string]any{"post_id": "p2", "message": "m"})

	applied := d.ApplyOperations(ctx, []oplog.Entry{bad, good})
	if applied != 1 {
		t.Fatalf("expected exactly 1 applied out of 2 entries (1 bad, 1 good), got %d", applied)
	}

	if _, err := s.FindOne(ctx, "posts", store.Filter{"post_id": "p2"}); err != nil {
		t.Fatalf("expected the valid entry to still apply despite the bad one: %v", err)
	}
}
