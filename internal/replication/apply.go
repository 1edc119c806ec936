package replication

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"meshrelief/internal/conflict"
	"meshrelief/internal/oplog"
	"meshrelief/internal/store"
	"meshrelief/internal/tstamp"
)

// ApplyOperations applies every incoming entry best-effort: a single
// failure is logged and the loop continues rather than aborting the batch.
// It is exported so the peer-facing /internal/sync handler can drive the
// same apply path the daemon's pull phase uses.
func (d *Daemon) ApplyOperations(ctx context.Context, entries []oplog.Entry) int {
	applied := 0
	for _, e := range entries {
		if err := d.applyOne(ctx, e); err != nil {
			log.Printf("replication: apply %s %s/%s failed: %v", e.OperationType, e.Collection, e.DocumentID, err)
			continue
		}
		applied++
	}
	return applied
}

func (d *Daemon) applyOne(ctx context.Context, e oplog.Entry) error {
	idField := oplog.IDField(e.Collection)

	var data store.Document
	if len(e.Data) > 0 {
		if err := json.Unmarshal(e.Data, &data); err != nil {
			return fmt.Errorf("decode entry data: %w", err)
		}
		normalizeTimestamps(data)
	}

	switch e.OperationType {
	case oplog.OpDelete:
		// Deletes skip conflict resolution: the local document is removed
		// unconditionally, so a late-arriving delete also removes a newer
		// local update.
		_, err := d.store.DeleteOne(ctx, e.Collection, store.Filter{idField: e.DocumentID})
		return err

	case oplog.OpInsert:
		existing, err := d.store.FindOne(ctx, e.Collection, store.Filter{idField: e.DocumentID})
		if err == store.ErrNotFound {
			_, err := d.store.InsertOne(ctx, e.Collection, data)
			return err
		}
		if err != nil {
			return err
		}
		return d.resolveAndWrite(ctx, e.Collection, e.DocumentID, idField, data, existing)

	case oplog.OpUpdate:
		existing, err := d.store.FindOne(ctx, e.Collection, store.Filter{idField: e.DocumentID})
		if err == store.ErrNotFound {
			// Update-as-insert: our peer may never have seen the create.
			_, err := d.store.InsertOne(ctx, e.Collection, data)
			return err
		}
		if err != nil {
			return err
		}
		return d.resolveAndWrite(ctx, e.Collection, e.DocumentID, idField, data, existing)

	default:
		return fmt.Errorf("unknown operation type %q", e.OperationType)
	}
}

func (d *Daemon) resolveAndWrite(ctx context.Context, collection, docID, idField string, remote, local store.Document) error {
	winner, outcome := d.resolver.Resolve(collection, docID, remote, local)
	if outcome == conflict.RemoteWins {
		_, err := d.store.UpdateOne(ctx, collection, store.Filter{idField: docID}, winner)
		return err
	}
	if outcome == conflict.LocalWins {
		// repairTimestamps may have rewritten fields on local in place.
		_, err := d.store.UpdateOne(ctx, collection, store.Filter{idField: docID}, winner)
		return err
	}
	return nil // unresolved: leave local untouched
}

func normalizeTimestamps(data store.Document) {
	for _, field := range []string{"timestamp", "last_modified", "created_at"} {
		v, ok := data[field]
		if !ok {
			continue
		}
		if t, ok := tstamp.Parse(v); ok {
			data[field] = t
		}
	}
}
