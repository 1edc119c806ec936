package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"meshrelief/internal/app"
	"meshrelief/internal/config"
	"meshrelief/internal/store"
)

func newTestHandler(t *testing.T) (*Handler, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s, err := store.NewMemStore("")
	if err != nil {
		t.Fatalf("NewMemStore: %v", err)
	}
	cfg := &config.Config{Region: config.NorthAmerica, RequestTimeout: 1, SyncInterval: 5}
	appCtx := app.New(cfg, s)

	h := NewHandler(appCtx)
	engine := gin.New()
	h.Register(engine)
	return h, engine
}

func TestCreatePostSucceeds(t *testing.T) {
	_, engine := newTestHandler(t)

	body := map[string]any{
		"user_id":   "u1",
		"post_type": "help",
		"message":   "m",
		"location":  map[string]any{"type": "Point", "coordinates": []float64{-122.4, 37.7}},
		"region":    "north_america",
	}
	data, _ := json.Marshal(body)

	req := httptest.NewRequest(http.MethodPost, "/api/posts", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var created map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created["post_id"] == "" || created["post_id"] == nil {
		t.Fatal("expected a generated post_id in the response")
	}
}

func TestCreatePostRejectsInvalidPostType(t *testing.T) {
	_, engine := newTestHandler(t)

	body := map[string]any{
		"user_id":   "u1",
		"post_type": "garbage",
		"message":   "m",
		"location":  map[string]any{"type": "Point", "coordinates": []float64{0, 0}},
		"region":    "north_america",
	}
	data, _ := json.Marshal(body)

	req := httptest.NewRequest(http.MethodPost, "/api/posts", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	want := "Post type must be one of: shelter, food, medical, water, safety, help"
	if resp["error"] != want {
		t.Fatalf("got error %q, want %q", resp["error"], want)
	}
}

func TestCreateUserRejectsDuplicateEmail(t *testing.T) {
	_, engine := newTestHandler(t)

	body := map[string]any{
		"name":     "Alice",
		"email":    "alice@example.com",
		"region":   "north_america",
		"location": map[string]any{"type": "Point", "coordinates": []float64{0, 0}},
	}
	data, _ := json.Marshal(body)

	req1 := httptest.NewRequest(http.MethodPost, "/api/users", bytes.NewReader(data))
	req1.Header.Set("Content-Type", "application/json")
	rec1 := httptest.NewRecorder()
	engine.ServeHTTP(rec1, req1)
	if rec1.Code != http.StatusCreated {
		t.Fatalf("expected first create to succeed, got %d: %s", rec1.Code, rec1.Body.String())
	}

	req2 := httptest.NewRequest(http.MethodPost, "/api/users", bytes.NewReader(data))
	req2.Header.Set("Content-Type", "application/json")
	rec2 := httptest.NewRecorder()
	engine.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate email, got %d", rec2.Code)
	}
}

func TestGetPostNotFound(t *testing.T) {
	_, engine := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/posts/missing", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, engine := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
