// Package router implements the scatter-gather query fan-out: a parallel GET
// to every configured peer with a per-peer timeout, merged with the caller's
// local results and annotated with a liveness report. Adapted from the
// goroutine-and-channel fan-out pattern the teacher used for quorum reads,
// generalized from "collect R of N" to "collect whatever responds within the
// aggregate ceiling."
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"time"

	"meshrelief/internal/store"
	"meshrelief/internal/tstamp"
)

// Metadata describes how a scatter-gather call fared.
type Metadata struct {
	TotalRegionsQueried int      `json:"total_regions_queried"`
	SuccessfulRegions   []string `json:"successful_regions"`
	FailedRegions       []string `json:"failed_regions"`
	SuccessRate         float64  `json:"success_rate"`
	QueryTimeSeconds    float64  `json:"query_time_seconds"`
	TimeoutPerRegion    float64  `json:"timeout_per_region"`
}

// Result is the outcome of a scatter_gather call.
type Result struct {
	Results  []store.Document
	Metadata Metadata
}

// Router performs scatter-gather fan-out over a peer set.
type Router struct {
	client         *http.Client
	requestTimeout time.Duration
}

// New returns a Router using requestTimeout as the per-peer timeout.
func New(requestTimeout time.Duration) *Router {
	return &Router{
		client:         &http.Client{},
		requestTimeout: requestTimeout,
	}
}

type peerResult struct {
	peer string
	docs []store.Document
	err  error
}

// ScatterGather fans a GET for path+params out to every peer, merges with
// local (the caller's own query results), sorts descending by sortField
// (falling back to "timestamp"), truncates to limit, and reports minResponses
// as a floor below which a warning (not an error) is logged.
func (r *Router) ScatterGather(ctx context.Context, peerBaseURLs []string, path string, params url.Values, local []store.Document, sortField string, limit, minResponses int) Result {
	start := time.Now()

	aggCtx, cancel := context.WithTimeout(ctx, 2*r.requestTimeout)
	defer cancel()

	resultsCh := make(chan peerResult, len(peerBaseURLs))
	for _, peer := range peerBaseURLs {
		go func(peer string) {
			docs, err := r.fetchPeer(aggCtx, peer, path, params)
			resultsCh <- peerResult{peer: peer, docs: docs, err: err}
		}(peer)
	}

	var successful, failed []string
	merged := append([]store.Document{}, local...)

	for i := 0; i < len(peerBaseURLs); i++ {
		select {
		case res := <-resultsCh:
			if res.err != nil {
				failed = append(failed, res.peer)
				continue
			}
			successful = append(successful, res.peer)
			merged = append(merged, res.docs...)
		case <-aggCtx.Done():
			// Whatever hasn't responded by the aggregate ceiling counts as
			// failed; we stop waiting rather than block the caller further.
			pending := pendingPeers(peerBaseURLs, successful, failed)
			failed = append(failed, pending...)
		}
		if len(successful)+len(failed) >= len(peerBaseURLs) {
			break
		}
	}

	if sortField == "" {
		sortField = "timestamp"
	}
	sortDescending(merged, sortField)
	if limit > 0 && limit < len(merged) {
		merged = merged[:limit]
	}

	if len(successful) < minResponses {
		log.Printf("router: only %d/%d peers responded, below min_responses=%d", len(successful), len(peerBaseURLs), minResponses)
	}

	rate := 0.0
	if len(peerBaseURLs) > 0 {
		rate = float64(len(successful)) / float64(len(peerBaseURLs))
	}

	return Result{
		Results: merged,
		Metadata: Metadata{
			TotalRegionsQueried: len(peerBaseURLs),
			SuccessfulRegions:   successful,
			FailedRegions:       failed,
			SuccessRate:         rate,
			QueryTimeSeconds:    time.Since(start).Seconds(),
			TimeoutPerRegion:    r.requestTimeout.Seconds(),
		},
	}
}

func pendingPeers(all, successful, failed []string) []string {
	done := make(map[string]bool, len(successful)+len(failed))
	for _, p := range successful {
		done[p] = true
	}
	for _, p := range failed {
		done[p] = true
	}
	var pending []string
	for _, p := range all {
		if !done[p] {
			pending = append(pending, p)
		}
	}
	return pending
}

// fetchPeer issues one GET, bounded by the router's per-peer timeout, and
// normalizes the response body into a document list: an object with a
// "posts" array is flattened to its items, a bare JSON array is taken as-is,
// anything else is discarded as a failure.
func (r *Router) fetchPeer(ctx context.Context, peerBaseURL, path string, params url.Values) ([]store.Document, error) {
	peerCtx, cancel := context.WithTimeout(ctx, r.requestTimeout)
	defer cancel()

	full := peerBaseURL + path
	if len(params) > 0 {
		full += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(peerCtx, http.MethodGet, full, nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("peer %s returned HTTP %d", peerBaseURL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var asObject struct {
		Posts []store.Document `json:"posts"`
	}
	if err := json.Unmarshal(body, &asObject); err == nil && asObject.Posts != nil {
		return asObject.Posts, nil
	}

	var asList []store.Document
	if err := json.Unmarshal(body, &asList); err == nil {
		return asList, nil
	}

	return nil, fmt.Errorf("peer %s returned an unrecognized body shape", peerBaseURL)
}

func sortDescending(docs []store.Document, field string) {
	sort.SliceStable(docs, func(i, j int) bool {
		vi, viok := fieldTime(docs[i], field)
		vj, vjok := fieldTime(docs[j], field)
		if viok && vjok {
			return vi.After(vj)
		}
		return false
	})
}

func fieldTime(doc store.Document, field string) (time.Time, bool) {
	return tstamp.Parse(doc[field])
}
