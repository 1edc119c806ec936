// Package replication implements the background push/pull daemon that fans
// local operation-log entries out to peers, pulls and applies theirs, and
// periodically garbage-collects fully-acknowledged entries. Adapted from the
// teacher's goroutine-per-peer fan-out and exponential-backoff HTTP retry
// pattern (cluster/replicator.go), generalized from quorum read/write
// coordination to asynchronous push/pull with LWW reconciliation.
package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"net/url"
	"sync"
	"time"

	"meshrelief/internal/conflict"
	"meshrelief/internal/liveness"
	"meshrelief/internal/oplog"
	"meshrelief/internal/peers"
	"meshrelief/internal/store"
)

const (
	gcEveryNCycles   = 60
	gcRetention      = 24 * time.Hour
	syncMetaCollection = "sync_metadata"
)

// Daemon runs the periodic replication cycle for one site.
type Daemon struct {
	region       string
	log          *oplog.Log
	store        store.Store
	registry     *peers.Registry
	liveness     *liveness.Tracker
	fsm          *liveness.FSM
	resolver     *conflict.Resolver
	syncInterval time.Duration
	httpTimeout  time.Duration
	httpClient   *http.Client

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	cycle    int
}

// Config carries the constructor parameters a Daemon needs.
type Config struct {
	Region       string
	Log          *oplog.Log
	Store        store.Store
	Registry     *peers.Registry
	Liveness     *liveness.Tracker
	FSM          *liveness.FSM
	Resolver     *conflict.Resolver
	SyncInterval time.Duration
	RequestTimeout time.Duration
}

// New constructs a Daemon from cfg.
func New(cfg Config) *Daemon {
	return &Daemon{
		region:       cfg.Region,
		log:          cfg.Log,
		store:        cfg.Store,
		registry:     cfg.Registry,
		liveness:     cfg.Liveness,
		fsm:          cfg.FSM,
		resolver:     cfg.Resolver,
		syncInterval: cfg.SyncInterval,
		httpTimeout:  cfg.RequestTimeout,
		httpClient:   &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// Start launches the background loop. Idempotent: calling Start twice is a
// no-op on the second call.
func (d *Daemon) Start(ctx context.Context) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	d.mu.Unlock()

	go d.loop(ctx)
}

// Stop signals the loop to exit and waits up to 5 seconds for it to join.
// Idempotent: calling Stop when not running is a no-op.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	stopCh, doneCh := d.stopCh, d.doneCh
	d.running = false
	d.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
	case <-time.After(5 * time.Second):
		log.Printf("replication: daemon did not stop within 5s, abandoning outstanding peer calls")
	}
}

func (d *Daemon) loop(ctx context.Context) {
	defer close(d.doneCh)

	for {
		d.runCycle(ctx)

		select {
		case <-d.stopCh:
			return
		case <-time.After(d.syncInterval):
		}
	}
}

func (d *Daemon) runCycle(ctx context.Context) {
	d.mu.Lock()
	d.cycle++
	cycle := d.cycle
	d.mu.Unlock()

	peerURLs := d.registry.BaseURLs()

	pushConnected := d.pushPhase(ctx, peerURLs)
	pullConnected := d.pullPhase(ctx, peerURLs)
	anyConnected := pushConnected || pullConnected || len(peerURLs) == 0

	d.fsm.Evaluate(anyConnected)

	if cycle%gcEveryNCycles == 0 {
		go d.gcTick(ctx, peerURLs)
	}
}

func (d *Daemon) pushPhase(ctx context.Context, peerURLs []string) bool {
	entries, err := d.log.Pushable(ctx, peerURLs)
	if err != nil {
		log.Printf("replication: fetching pushable entries failed: %v", err)
		return false
	}
	if len(entries) == 0 {
		return false
	}

	anySuccess := false
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, peerURL := range peerURLs {
		wg.Add(1)
		go func(peerURL string) {
			defer wg.Done()
			if err := d.pushTo(ctx, peerURL, entries); err != nil {
				d.liveness.RecordFailure(peerURL)
				return
			}
			d.liveness.RecordSuccess(peerURL)
			if err := d.log.Ack(ctx, entries, peerURL); err != nil {
				log.Printf("replication: ack for peer %s failed: %v", peerURL, err)
				return
			}
			mu.Lock()
			anySuccess = true
			mu.Unlock()
		}(peerURL)
	}
	wg.Wait()
	return anySuccess
}

func (d *Daemon) pushTo(ctx context.Context, peerURL string, entries []oplog.Entry) error {
	body, err := json.Marshal(struct {
		Operations []oplog.Entry `json:"operations"`
	}{Operations: entries})
	if err != nil {
		return err
	}
	return d.postWithRetry(ctx, peerURL+"/internal/sync", body)
}

// postWithRetry issues one HTTP POST with exponential backoff retries — the
// same thundering-herd mitigation the teacher's peer-replication code uses.
func (d *Daemon) postWithRetry(ctx context.Context, fullURL string, body []byte) error {
	const maxRetries = 3
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))*100) * time.Millisecond
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		reqCtx, cancel := context.WithTimeout(ctx, d.httpTimeout)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, fullURL, bytes.NewReader(body))
		if err != nil {
			cancel()
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.httpClient.Do(req)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			lastErr = fmt.Errorf("peer returned HTTP %d", resp.StatusCode)
			continue
		}
		return nil
	}
	return fmt.Errorf("after %d attempts: %w", maxRetries, lastErr)
}

func (d *Daemon) pullPhase(ctx context.Context, peerURLs []string) bool {
	anySuccess := false
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, peerURL := range peerURLs {
		wg.Add(1)
		go func(peerURL string) {
			defer wg.Done()
			if err := d.pullFrom(ctx, peerURL); err != nil {
				d.liveness.RecordFailure(peerURL)
				return
			}
			d.liveness.RecordSuccess(peerURL)
			mu.Lock()
			anySuccess = true
			mu.Unlock()
		}(peerURL)
	}
	wg.Wait()
	return anySuccess
}

func (d *Daemon) pullFrom(ctx context.Context, peerURL string) error {
	since, err := d.checkpoint(ctx, peerURL)
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, d.httpTimeout)
	defer cancel()

	u := peerURL + "/internal/changes"
	if since != "" {
		u += "?" + url.Values{"since": {since}}.Encode()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("peer returned HTTP %d", resp.StatusCode)
	}

	var body struct {
		Operations []oplog.Entry `json:"operations"`
		Count      int           `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return err
	}

	d.ApplyOperations(ctx, body.Operations)

	return d.updateCheckpoint(ctx, peerURL)
}

// checkpoint reads the last_sync_time for (self, peerURL), or "" on first
// contact.
func (d *Daemon) checkpoint(ctx context.Context, peerURL string) (string, error) {
	doc, err := d.store.FindOne(ctx, syncMetaCollection, store.Filter{
		"local_region":  d.region,
		"remote_region": peerURL,
	})
	if err == store.ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	ts, _ := doc["last_sync_time"].(string)
	return ts, nil
}

// updateCheckpoint upserts last_sync_time := now (the local clock, not the
// remote's — spec §9 flags this as a clock-skew risk, kept as-is).
func (d *Daemon) updateCheckpoint(ctx context.Context, peerURL string) error {
	now := time.Now().UTC()
	filter := store.Filter{"local_region": d.region, "remote_region": peerURL}
	update := store.Document{
		"local_region":   d.region,
		"remote_region":  peerURL,
		"last_sync_time": now.Format("2006-01-02T15:04:05.999999999Z"),
		"last_updated":   now,
	}
	ok, err := d.store.UpdateOne(ctx, syncMetaCollection, filter, update)
	if err != nil {
		return err
	}
	if !ok {
		_, err := d.store.InsertOne(ctx, syncMetaCollection, update)
		return err
	}
	return nil
}

func (d *Daemon) gcTick(ctx context.Context, peerURLs []string) {
	deleted, err := d.log.GC(ctx, peerURLs, gcRetention)
	if err != nil {
		log.Printf("replication: GC failed: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("replication: GC reclaimed %d fully-acknowledged entries", deleted)
	}
}
