// Package api wires the Gin HTTP router to the replication-plane
// application context: the public CRUD surface, the peer-facing
// /internal/sync and /internal/changes endpoints, and /status telemetry.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"meshrelief/internal/app"
	"meshrelief/internal/document"
	"meshrelief/internal/oplog"
	"meshrelief/internal/store"
	"meshrelief/internal/tstamp"
)

// Handler holds the application context every route handler closes over.
type Handler struct {
	app *app.Context
}

// NewHandler creates a Handler.
func NewHandler(a *app.Context) *Handler {
	return &Handler{app: a}
}

// Register mounts all routes on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/status", h.Status)

	apiGroup := r.Group("/api")
	apiGroup.GET("/posts", h.ListPosts)
	apiGroup.POST("/posts", h.CreatePost)
	apiGroup.GET("/posts/:id", h.GetPost)
	apiGroup.PUT("/posts/:id", h.UpdatePost)
	apiGroup.DELETE("/posts/:id", h.DeletePost)
	apiGroup.GET("/help-requests", h.HelpRequests)
	apiGroup.POST("/mark-safe", h.MarkSafe)

	apiGroup.GET("/users/:id", h.GetUser)
	apiGroup.POST("/users", h.CreateUser)
	apiGroup.PUT("/users/:id", h.UpdateUser)

	apiGroup.GET("/partitioning/stats", h.PartitioningStats)

	clusterGroup := r.Group("/cluster")
	clusterGroup.POST("/join", h.JoinCluster)
	clusterGroup.POST("/leave", h.LeaveCluster)
	clusterGroup.GET("/peers", h.ListPeers)

	internal := r.Group("/internal")
	internal.POST("/sync", h.InternalSync)
	internal.GET("/changes", h.InternalChanges)
}

// Root reports the service banner (original app.py root endpoint).
func (h *Handler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "meshrelief",
		"region":  h.app.Config.Region,
		"display": h.app.Config.DisplayName(),
	})
}

// Health is a liveness probe distinct from the richer /status telemetry.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Status aggregates store health, peer reachability, island-mode snapshot,
// conflict metrics, and sync config for operators.
func (h *Handler) Status(c *gin.Context) {
	storeHealth, err := h.app.Store.CheckHealth(c.Request.Context())
	if err != nil {
		storeHealth = store.HealthReport{Status: "unhealthy"}
	}

	c.JSON(http.StatusOK, gin.H{
		"region":       h.app.Config.Region,
		"display":      h.app.Config.DisplayName(),
		"store":        storeHealth,
		"peers":        h.app.Liveness.Snapshot(),
		"island_mode":  h.app.FSM.Snapshot(),
		"conflicts":    h.app.Metrics.Snapshot(),
		"sync_interval": h.app.Config.SyncInterval,
	})
}

// PartitioningStats reports local database node distribution — a
// supplemented feature grounded in the original partitioning.py helper.
func (h *Handler) PartitioningStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.app.DBRing.Stats())
}

// ─── Posts ──────────────────────────────────────────────────────────────────

// ListPosts handles GET /api/posts.
func (h *Handler) ListPosts(c *gin.Context) {
	ctx := c.Request.Context()
	filter := store.Filter{}
	if pt := c.Query("post_type"); pt != "" {
		filter["post_type"] = pt
	}
	region := c.DefaultQuery("region", "all")
	if region != "all" {
		filter["region"] = region
	}

	limit := queryInt(c, "limit", 50)
	skip := queryInt(c, "skip", 0)

	if c.Query("global") == "true" {
		h.listPostsGlobal(c, filter, limit, skip)
		return
	}

	docs, err := h.app.Store.FindMany(ctx, "posts", filter, store.FindOptions{SortField: "timestamp", SortDesc: true, Limit: limit, Skip: skip})
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"posts":     docs,
		"_metadata": timezoneMetadata(),
	})
}

func (h *Handler) listPostsGlobal(c *gin.Context, filter store.Filter, limit, skip int) {
	ctx := c.Request.Context()
	local, err := h.app.Store.FindMany(ctx, "posts", filter, store.FindOptions{SortField: "timestamp", SortDesc: true})
	if err != nil {
		respondStoreError(c, err)
		return
	}

	params := url.Values{}
	if pt := c.Query("post_type"); pt != "" {
		params.Set("post_type", pt)
	}

	result := h.app.Router.ScatterGather(ctx, h.app.Peers.BaseURLs(), "/api/posts", params, local, "timestamp", limit, 1)

	c.JSON(http.StatusOK, gin.H{
		"posts": result.Results,
		"sources": gin.H{
			"local":  len(local),
			"remote": len(result.Results) - len(local),
		},
		"query_metadata": result.Metadata,
		"_metadata":       timezoneMetadata(),
	})
}

// CreatePost handles POST /api/posts.
func (h *Handler) CreatePost(c *gin.Context) {
	var body struct {
		UserID   string         `json:"user_id"`
		PostType string         `json:"post_type"`
		Message  string         `json:"message"`
		Location *document.Point `json:"location"`
		Region   string         `json:"region"`
		Capacity *int           `json:"capacity"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	post := document.NewPost(body.UserID, document.PostType(body.PostType), body.Message, body.Location, body.Region, body.Capacity)
	if err := post.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": capitalize(err.Error())})
		return
	}

	if err := h.insertPost(c.Request.Context(), post); err != nil {
		respondStoreError(c, err)
		return
	}

	c.JSON(http.StatusCreated, post)
}

func (h *Handler) insertPost(ctx context.Context, post *document.Post) error {
	doc := postToDocument(post)
	if _, err := h.app.Store.InsertOne(ctx, "posts", doc); err != nil {
		return err
	}
	return h.app.Oplog.Queue(ctx, oplog.OpInsert, "posts", post.PostID, doc)
}

func postToDocument(p *document.Post) store.Document {
	raw, _ := json.Marshal(p)
	var doc store.Document
	json.Unmarshal(raw, &doc)
	return doc
}

func userToDocument(u *document.User) store.Document {
	raw, _ := json.Marshal(u)
	var doc store.Document
	json.Unmarshal(raw, &doc)
	return doc
}

// GetPost handles GET /api/posts/:id.
func (h *Handler) GetPost(c *gin.Context) {
	doc, err := h.app.Store.FindOne(c.Request.Context(), "posts", store.Filter{"post_id": c.Param("id")})
	if err == store.ErrNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
		return
	}
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// UpdatePost handles PUT /api/posts/:id.
func (h *Handler) UpdatePost(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	var update store.Document
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	update["last_modified"] = time.Now().UTC()

	ok, err := h.app.Store.UpdateOne(ctx, "posts", store.Filter{"post_id": id}, update)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
		return
	}

	if err := h.app.Oplog.Queue(ctx, oplog.OpUpdate, "posts", id, update); err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": id})
}

// DeletePost handles DELETE /api/posts/:id.
func (h *Handler) DeletePost(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	ok, err := h.app.Store.DeleteOne(ctx, "posts", store.Filter{"post_id": id})
	if err != nil {
		respondStoreError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
		return
	}

	if err := h.app.Oplog.Queue(ctx, oplog.OpDelete, "posts", id, struct{}{}); err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// HelpRequests handles GET /api/help-requests?longitude&latitude&radius — a
// geospatial near-query on posts with post_type=help.
func (h *Handler) HelpRequests(c *gin.Context) {
	lon, errLon := strconv.ParseFloat(c.Query("longitude"), 64)
	lat, errLat := strconv.ParseFloat(c.Query("latitude"), 64)
	if errLon != nil || errLat != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "longitude and latitude are required"})
		return
	}
	radius := 10000.0
	if r := c.Query("radius"); r != "" {
		if parsed, err := strconv.ParseFloat(r, 64); err == nil {
			radius = parsed
		}
	}

	filter := store.Filter{
		"post_type": "help",
		"location":  store.Near{Longitude: lon, Latitude: lat, MaxDistanceMeters: radius},
	}
	docs, err := h.app.Store.FindMany(c.Request.Context(), "posts", filter, store.FindOptions{SortField: "timestamp", SortDesc: true})
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"posts": docs})
}

// MarkSafe handles POST /api/mark-safe: synthesizes a safety-type post from
// the user's stored name/location/region.
func (h *Handler) MarkSafe(c *gin.Context) {
	var body struct {
		UserID string `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	ctx := c.Request.Context()
	userDoc, err := h.app.Store.FindOne(ctx, "users", store.Filter{"user_id": body.UserID})
	if err == store.ErrNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if err != nil {
		respondStoreError(c, err)
		return
	}

	name, _ := userDoc["name"].(string)
	region, _ := userDoc["region"].(string)
	loc := decodeLocation(userDoc["location"])

	post := document.NewPost(body.UserID, document.PostSafety, name+" is marked safe", &loc, region, nil)
	if err := h.insertPost(ctx, post); err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, post)
}

func decodeLocation(v any) document.Point {
	raw, err := json.Marshal(v)
	if err != nil {
		return document.NewPoint()
	}
	var p document.Point
	if err := json.Unmarshal(raw, &p); err != nil {
		return document.NewPoint()
	}
	return p
}

// ─── Users ──────────────────────────────────────────────────────────────────

// GetUser handles GET /api/users/:id.
func (h *Handler) GetUser(c *gin.Context) {
	doc, err := h.app.Store.FindOne(c.Request.Context(), "users", store.Filter{"user_id": c.Param("id")})
	if err == store.ErrNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// CreateUser handles POST /api/users, rejecting a duplicate email with 409.
func (h *Handler) CreateUser(c *gin.Context) {
	var body struct {
		Name       string          `json:"name"`
		Email      string          `json:"email"`
		Region     string          `json:"region"`
		Location   *document.Point `json:"location"`
		Verified   bool            `json:"verified"`
		Reputation int             `json:"reputation"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if _, err := h.app.Store.FindOne(ctx, "users", store.Filter{"email": body.Email}); err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
		return
	}

	user := document.NewUser(body.Name, body.Email, body.Region, body.Location, body.Verified, body.Reputation)
	if err := user.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": capitalize(err.Error())})
		return
	}

	doc := userToDocument(user)
	if _, err := h.app.Store.InsertOne(ctx, "users", doc); err != nil {
		respondStoreError(c, err)
		return
	}
	if err := h.app.Oplog.Queue(ctx, oplog.OpInsert, "users", user.UserID, doc); err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

// UpdateUser handles PUT /api/users/:id.
func (h *Handler) UpdateUser(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	var update store.Document
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ok, err := h.app.Store.UpdateOne(ctx, "users", store.Filter{"user_id": id}, update)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	if err := h.app.Oplog.Queue(ctx, oplog.OpUpdate, "users", id, update); err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": id})
}

// ─── Cluster membership (supplemented feature) ─────────────────────────────

// JoinCluster handles POST /cluster/join: {region, base_url}.
func (h *Handler) JoinCluster(c *gin.Context) {
	var body struct {
		Region  string `json:"region"`
		BaseURL string `json:"base_url"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.BaseURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "base_url is required"})
		return
	}
	h.app.Peers.Join(body.Region, body.BaseURL)
	c.JSON(http.StatusOK, gin.H{"joined": body.BaseURL})
}

// LeaveCluster handles POST /cluster/leave: {base_url}.
func (h *Handler) LeaveCluster(c *gin.Context) {
	var body struct {
		BaseURL string `json:"base_url"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.app.Peers.Leave(body.BaseURL); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"left": body.BaseURL})
}

// ListPeers handles GET /cluster/peers.
func (h *Handler) ListPeers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"peers": h.app.Peers.All()})
}

// ─── Peer-facing internal endpoints ────────────────────────────────────────

// InternalSync handles POST /internal/sync: applies the batch and returns
// 200 iff the batch was accepted for application, not iff every entry
// succeeded (spec §9 — a known, preserved behavior).
func (h *Handler) InternalSync(c *gin.Context) {
	var body struct {
		Operations []oplog.Entry `json:"operations"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	applied := h.app.Daemon.ApplyOperations(c.Request.Context(), body.Operations)
	c.JSON(http.StatusOK, gin.H{"count": applied})
}

// InternalChanges handles GET /internal/changes?since=<iso-8601>.
func (h *Handler) InternalChanges(c *gin.Context) {
	var since *time.Time
	if raw := c.Query("since"); raw != "" {
		if t, ok := tstamp.Parse(raw); ok {
			since = &t
		}
	}

	entries, err := h.app.Oplog.Changes(c.Request.Context(), since)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"operations": entries, "count": len(entries)})
}

// ─── helpers ────────────────────────────────────────────────────────────────

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func respondStoreError(c *gin.Context, err error) {
	if err == store.ErrUnavailable {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func timezoneMetadata() gin.H {
	return gin.H{"timezone": "UTC", "server_time": time.Now().UTC().Format("2006-01-02T15:04:05.999999999Z")}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
