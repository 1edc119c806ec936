// cmd/server is the main entrypoint for one region node.
//
// Configuration is entirely via environment variables (see
// internal/config), so the same binary serves any of the three regions.
//
// Example:
//
//	REGION=north_america FLASK_PORT=5010 MONGODB_URI=mongodb://localhost:27017 \
//	REMOTE_REGIONS='["http://eu:5010","http://ap:5010"]' ./server
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"meshrelief/internal/api"
	"meshrelief/internal/app"
	"meshrelief/internal/config"
	"meshrelief/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	s, err := connectStore(cfg)
	if err != nil {
		log.Printf("FATAL: connect store: %v", err)
		os.Exit(1)
	}

	ctx := context.Background()
	appCtx := app.New(cfg, s)
	appCtx.Start(ctx)

	gin.SetMode(gin.ReleaseMode)
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	}
	engine := gin.New()
	engine.Use(api.Logger(), api.Recovery())

	handler := api.NewHandler(appCtx)
	handler.Register(engine)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.FlaskPort),
		Handler:      engine,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("region %s (%s) listening on %s", cfg.Region, cfg.DisplayName(), srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("shutting down region %s", cfg.Region)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
	if err := appCtx.Shutdown(shutdownCtx); err != nil {
		log.Printf("app shutdown error: %v", err)
	}
}

// connectStore dials the production MongoStore. An empty MONGODB_URI opts
// into the in-process MemStore instead, for local runs with no mongod
// available; any other connect failure is fatal at startup (exit code 1).
func connectStore(cfg *config.Config) (store.Store, error) {
	if cfg.MongoURI == "" {
		return store.NewMemStore("")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mongoStore, err := store.DialMongo(ctx, store.MongoConfig{
		URI:            cfg.MongoURI,
		Database:       cfg.MongoDatabase,
		ReplicaSet:     cfg.MongoReplicaSet,
		WriteConcern:   cfg.MongoWriteConcern,
		ReadPreference: cfg.MongoReadPreference,
		ConnectTimeout: 10 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return mongoStore, nil
}
