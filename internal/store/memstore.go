package store

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"meshrelief/internal/tstamp"
)

// MemStore is a WAL-backed in-process Store, adapted from the teacher's
// store.go/wal.go concurrency pattern: an in-memory map guarded by a single
// mutex, with every mutation durably appended to the WAL. Inserts are logged
// before they are applied; updates and deletes are applied to the map first
// and logged afterwards. It backs
// tests and dependency-free local runs; mongostore is what production talks
// to.
type MemStore struct {
	mu         sync.RWMutex
	wal        *wal
	collection map[string]map[string]Document // collection -> id -> doc
}

// NewMemStore opens (or creates) the WAL at path and replays it to rebuild
// in-memory state. path == "" gives a pure in-memory store with no
// durability, useful in unit tests.
func NewMemStore(path string) (*MemStore, error) {
	w, err := newWAL(path)
	if err != nil {
		return nil, err
	}
	m := &MemStore{
		wal:        w,
		collection: make(map[string]map[string]Document),
	}
	entries, err := w.readAll()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		m.applyReplay(e)
	}
	return m, nil
}

func (m *MemStore) applyReplay(e walEntry) {
	coll := m.collection[e.Collection]
	if coll == nil {
		coll = make(map[string]Document)
		m.collection[e.Collection] = coll
	}
	switch e.Op {
	case opPut:
		coll[e.ID] = e.Doc
	case opDelete:
		delete(coll, e.ID)
	}
}

func (m *MemStore) collectionLocked(name string) map[string]Document {
	coll := m.collection[name]
	if coll == nil {
		coll = make(map[string]Document)
		m.collection[name] = coll
	}
	return coll
}

// InsertOne assigns an internal "_id" if the document doesn't already carry
// one, durably logs the insert, and applies it.
func (m *MemStore) InsertOne(ctx context.Context, collection string, doc Document) (string, error) {
	id, _ := doc["_id"].(string)
	if id == "" {
		id = uuid.NewString()
		doc["_id"] = id
	}

	if err := m.wal.append(walEntry{Op: opPut, Collection: collection, ID: id, Doc: doc}); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.collectionLocked(collection)[id] = doc
	return id, nil
}

// FindOne returns the first document in collection matching filter, in map
// iteration order: which match is returned is not defined, as with the
// underlying real store's own unordered scan absent an explicit sort.
func (m *MemStore) FindOne(ctx context.Context, collection string, filter Filter) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, doc := range m.collection[collection] {
		if matches(doc, filter) {
			return doc, nil
		}
	}
	return nil, ErrNotFound
}

// FindMany returns every matching document, sorted and paginated per opts.
func (m *MemStore) FindMany(ctx context.Context, collection string, filter Filter, opts FindOptions) ([]Document, error) {
	m.mu.RLock()
	var matched []Document
	for _, doc := range m.collection[collection] {
		if matches(doc, filter) {
			matched = append(matched, doc)
		}
	}
	m.mu.RUnlock()

	if opts.SortField != "" {
		sortDocuments(matched, opts.SortField, opts.SortDesc)
	}

	if opts.Skip > 0 {
		if opts.Skip >= len(matched) {
			return nil, nil
		}
		matched = matched[opts.Skip:]
	}
	if opts.Limit > 0 && opts.Limit < len(matched) {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

// Count returns the number of documents matching filter.
func (m *MemStore) Count(ctx context.Context, collection string, filter Filter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, doc := range m.collection[collection] {
		if matches(doc, filter) {
			n++
		}
	}
	return n, nil
}

// UpdateOne applies update as a field-level $set against the first matching
// document.
func (m *MemStore) UpdateOne(ctx context.Context, collection string, filter Filter, update Document) (bool, error) {
	m.mu.Lock()
	var id string
	var target Document
	for docID, doc := range m.collection[collection] {
		if matches(doc, filter) {
			id, target = docID, doc
			break
		}
	}
	if target == nil {
		m.mu.Unlock()
		return false, nil
	}
	for k, v := range update {
		target[k] = v
	}
	m.mu.Unlock()

	if err := m.wal.append(walEntry{Op: opPut, Collection: collection, ID: id, Doc: target}); err != nil {
		return false, err
	}
	return true, nil
}

// AddToSet appends value to the named array field at-most-once.
func (m *MemStore) AddToSet(ctx context.Context, collection string, filter Filter, field, value string) (bool, error) {
	m.mu.Lock()
	var id string
	var target Document
	for docID, doc := range m.collection[collection] {
		if matches(doc, filter) {
			id, target = docID, doc
			break
		}
	}
	if target == nil {
		m.mu.Unlock()
		return false, nil
	}

	existing, _ := target[field].([]string)
	if existing == nil {
		if raw, ok := target[field].([]interface{}); ok {
			for _, v := range raw {
				if s, ok := v.(string); ok {
					existing = append(existing, s)
				}
			}
		}
	}
	for _, v := range existing {
		if v == value {
			m.mu.Unlock()
			return true, nil // already present, $addToSet is a no-op
		}
	}
	target[field] = append(existing, value)
	m.mu.Unlock()

	if err := m.wal.append(walEntry{Op: opPut, Collection: collection, ID: id, Doc: target}); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteOne removes the first document matching filter.
func (m *MemStore) DeleteOne(ctx context.Context, collection string, filter Filter) (bool, error) {
	m.mu.Lock()
	var id string
	for docID, doc := range m.collection[collection] {
		if matches(doc, filter) {
			id = docID
			break
		}
	}
	if id == "" {
		m.mu.Unlock()
		return false, nil
	}
	delete(m.collection[collection], id)
	m.mu.Unlock()

	if err := m.wal.append(walEntry{Op: opDelete, Collection: collection, ID: id}); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteMany removes every document matching filter and returns the count
// deleted.
func (m *MemStore) DeleteMany(ctx context.Context, collection string, filter Filter) (int, error) {
	m.mu.Lock()
	var ids []string
	for docID, doc := range m.collection[collection] {
		if matches(doc, filter) {
			ids = append(ids, docID)
		}
	}
	for _, id := range ids {
		delete(m.collection[collection], id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.wal.append(walEntry{Op: opDelete, Collection: collection, ID: id}); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// CheckHealth always reports healthy: there is no replica set to degrade.
func (m *MemStore) CheckHealth(ctx context.Context) (HealthReport, error) {
	return HealthReport{Status: "healthy", Primary: "memstore", Members: []string{"memstore"}}, nil
}

// Close flushes and closes the WAL file.
func (m *MemStore) Close(ctx context.Context) error {
	return m.wal.close()
}

// matches implements Filter semantics: plain values compare by equality,
// Range compares a normalized timestamp field, NotContainsAll checks an
// array field lacks at least one of the given values, Near computes
// haversine distance against a Point-shaped location field.
func matches(doc Document, filter Filter) bool {
	for field, want := range filter {
		got := doc[field]
		switch w := want.(type) {
		case Range:
			t, ok := tstamp.Parse(got)
			if !ok {
				return false
			}
			if w.Gt != nil && !t.After(*w.Gt) {
				return false
			}
			if w.Lt != nil && !t.Before(*w.Lt) {
				return false
			}
		case NotContainsAll:
			if containsAll(got, w.Values) {
				return false
			}
		case Near:
			lon, lat, ok := extractCoords(got)
			if !ok {
				return false
			}
			if haversineMeters(w.Latitude, w.Longitude, lat, lon) > w.MaxDistanceMeters {
				return false
			}
		default:
			if !equalValue(got, want) {
				return false
			}
		}
	}
	return true
}

func equalValue(got, want any) bool {
	if wt, ok := want.(time.Time); ok {
		gt, ok := tstamp.Parse(got)
		return ok && gt.Equal(wt)
	}
	if gs, ok := got.(fmtStringer); ok {
		got = gs.String()
	}
	return got == want
}

type fmtStringer interface {
	String() string
}

func containsAll(field any, values []string) bool {
	have := map[string]bool{}
	switch v := field.(type) {
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
	for _, want := range values {
		if !have[want] {
			return false
		}
	}
	return true
}

func extractCoords(v any) (lon, lat float64, ok bool) {
	switch p := v.(type) {
	case map[string]interface{}:
		coords, ok2 := p["coordinates"].([]interface{})
		if !ok2 || len(coords) != 2 {
			return 0, 0, false
		}
		lonF, ok3 := coords[0].(float64)
		latF, ok4 := coords[1].(float64)
		if !ok3 || !ok4 {
			return 0, 0, false
		}
		return lonF, latF, true
	default:
		return 0, 0, false
	}
}

const earthRadiusMeters = 6371000.0

func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

func sortDocuments(docs []Document, field string, desc bool) {
	sort.SliceStable(docs, func(i, j int) bool {
		less := lessValue(docs[i][field], docs[j][field])
		if desc {
			return !less && docs[i][field] != docs[j][field]
		}
		return less
	})
}

func lessValue(a, b any) bool {
	if at, ok := tstamp.Parse(a); ok {
		if bt, ok2 := tstamp.Parse(b); ok2 {
			return at.Before(bt)
		}
	}
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return av < bv
		}
	case int:
		if bv, ok := b.(int); ok {
			return av < bv
		}
	case float64:
		if bv, ok := b.(float64); ok {
			return av < bv
		}
	}
	return false
}
