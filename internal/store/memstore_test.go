package store

import (
	"context"
	"testing"
	"time"
)

func TestMemStoreInsertAndFind(t *testing.T) {
	s, err := NewMemStore("")
	if err != nil {
		t.Fatalf("NewMemStore: %v", err)
	}
	ctx := context.Background()

	id, err := s.InsertOne(ctx, "posts", Document{"post_id": "p1", "region": "north_america"})
	if err != nil {
		t.Fatalf("InsertOne: %v", err)
	}
	if id == "" {
		t.Fatal("expected a non-empty generated id")
	}

	doc, err := s.FindOne(ctx, "posts", Filter{"post_id": "p1"})
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if doc["region"] != "north_america" {
		t.Fatalf("unexpected region: %v", doc["region"])
	}
}

func TestMemStoreFindOneNotFound(t *testing.T) {
	s, _ := NewMemStore("")
	_, err := s.FindOne(context.Background(), "posts", Filter{"post_id": "missing"})
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemStoreUpdateOne(t *testing.T) {
	s, _ := NewMemStore("")
	ctx := context.Background()
	s.InsertOne(ctx, "posts", Document{"post_id": "p1", "message": "original"})

	ok, err := s.UpdateOne(ctx, "posts", Filter{"post_id": "p1"}, Document{"message": "updated"})
	if err != nil || !ok {
		t.Fatalf("UpdateOne: ok=%v err=%v", ok, err)
	}

	doc, _ := s.FindOne(ctx, "posts", Filter{"post_id": "p1"})
	if doc["message"] != "updated" {
		t.Fatalf("expected updated message, got %v", doc["message"])
	}
}

func TestMemStoreAddToSetIsIdempotent(t *testing.T) {
	s, _ := NewMemStore("")
	ctx := context.Background()
	s.InsertOne(ctx, "oplog", Document{"document_id": "d1", "synced_to": []string{}})

	filter := Filter{"document_id": "d1"}
	if _, err := s.AddToSet(ctx, "oplog", filter, "synced_to", "http://eu"); err != nil {
		t.Fatalf("AddToSet: %v", err)
	}
	if _, err := s.AddToSet(ctx, "oplog", filter, "synced_to", "http://eu"); err != nil {
		t.Fatalf("second AddToSet: %v", err)
	}

	doc, _ := s.FindOne(ctx, "oplog", filter)
	synced := doc["synced_to"].([]string)
	if len(synced) != 1 {
		t.Fatalf("expected synced_to to contain exactly one entry, got %v", synced)
	}
}

func TestMemStoreDeleteMany(t *testing.T) {
	s, _ := NewMemStore("")
	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour)
	recent := time.Now().UTC()
	s.InsertOne(ctx, "oplog", Document{"document_id": "old", "timestamp": old})
	s.InsertOne(ctx, "oplog", Document{"document_id": "new", "timestamp": recent})

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	n, err := s.DeleteMany(ctx, "oplog", Filter{"timestamp": Range{Lt: &cutoff}})
	if err != nil {
		t.Fatalf("DeleteMany: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deletion, got %d", n)
	}

	count, _ := s.Count(ctx, "oplog", Filter{})
	if count != 1 {
		t.Fatalf("expected 1 remaining document, got %d", count)
	}
}

func TestMemStoreFindManySortAndLimit(t *testing.T) {
	s, _ := NewMemStore("")
	ctx := context.Background()
	base := time.Now().UTC()
	s.InsertOne(ctx, "posts", Document{"post_id": "a", "timestamp": base})
	s.InsertOne(ctx, "posts", Document{"post_id": "b", "timestamp": base.Add(time.Second)})
	s.InsertOne(ctx, "posts", Document{"post_id": "c", "timestamp": base.Add(2 * time.Second)})

	docs, err := s.FindMany(ctx, "posts", Filter{}, FindOptions{SortField: "timestamp", SortDesc: true, Limit: 2})
	if err != nil {
		t.Fatalf("FindMany: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 results, got %d", len(docs))
	}
	if docs[0]["post_id"] != "c" || docs[1]["post_id"] != "b" {
		t.Fatalf("unexpected sort order: %v, %v", docs[0]["post_id"], docs[1]["post_id"])
	}
}
