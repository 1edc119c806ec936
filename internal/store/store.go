// Package store provides the thin document-store abstraction described in
// spec §4.1. The real document store (an external, replicated database) is
// out of scope for this repository — what lives here is the adapter
// boundary: CRUD, sorted/paginated scans, counted deletes, and the
// at-most-once array-add used by the operation log's acknowledgement
// bookkeeping.
//
// Two implementations satisfy Store: mongostore (production, backed by
// go.mongodb.org/mongo-driver against a real replica set) and memstore (a
// WAL-backed in-process store with no snapshots, adapted from the teacher's
// write-ahead log, used for tests and dependency-free local runs).
package store

import (
	"context"
	"errors"
	"time"
)

// Document is a loosely-typed record, mirroring the dynamic document bodies
// the original service passed around as dict/BSON. Call sites marshal their
// concrete Post/User/operation-log structs into a Document before handing
// them to the store, and unmarshal on the way back out (spec §9 "dynamic
// typed document bodies").
type Document = map[string]any

// Range expresses exclusive lower (Gt) and/or upper (Lt) timestamp bounds used in filters,
// e.g. Filter{"timestamp": Range{Gt: &since}}.
type Range struct {
	Gt *time.Time
	Lt *time.Time
}

// NotContainsAll matches documents whose named array field does not contain
// every value in Values — the "not yet acknowledged by every peer" predicate
// the operation log's pushable-entries query relies on (spec §4.2, §9 "push
// synced_to predicate").
type NotContainsAll struct {
	Values []string
}

// Near expresses a geospatial proximity filter over a GeoJSON Point field.
type Near struct {
	Longitude         float64
	Latitude          float64
	MaxDistanceMeters float64
}

// Filter maps field name to either a scalar (equality) or one of Range,
// NotContainsAll, Near.
type Filter = map[string]any

// FindOptions controls sorting and pagination for FindMany.
type FindOptions struct {
	SortField string
	SortDesc  bool
	Skip      int
	Limit     int
}

// HealthReport mirrors check_health()'s {status, primary, members} shape.
type HealthReport struct {
	Status  string
	Primary string
	Members []string
}

// ErrUnavailable is the typed error the adapter raises on connection loss
// (spec §4.1 "Failure"). Callers log and abort the current cycle rather than
// crashing the process.
var ErrUnavailable = errors.New("store unavailable")

// ErrNotFound is returned by FindOne-style lookups with no typed result.
var ErrNotFound = errors.New("document not found")

// Store is the document-store adapter boundary.
type Store interface {
	InsertOne(ctx context.Context, collection string, doc Document) (string, error)
	FindOne(ctx context.Context, collection string, filter Filter) (Document, error)
	FindMany(ctx context.Context, collection string, filter Filter, opts FindOptions) ([]Document, error)
	Count(ctx context.Context, collection string, filter Filter) (int, error)
	// UpdateOne applies update as a field-level $set against the first
	// document matching filter.
	UpdateOne(ctx context.Context, collection string, filter Filter, update Document) (bool, error)
	// AddToSet appends value to the named array field at-most-once (the
	// Mongo $addToSet operator semantics spec §4.1 requires distinguishing
	// from a plain field replace).
	AddToSet(ctx context.Context, collection string, filter Filter, field, value string) (bool, error)
	DeleteOne(ctx context.Context, collection string, filter Filter) (bool, error)
	DeleteMany(ctx context.Context, collection string, filter Filter) (int, error)
	CheckHealth(ctx context.Context) (HealthReport, error)
	Close(ctx context.Context) error
}
