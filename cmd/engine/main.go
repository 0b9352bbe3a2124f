package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"inkwell/engine/internal/app"
	"inkwell/engine/internal/archive"
	"inkwell/engine/internal/config"
	"inkwell/engine/internal/search"
	"inkwell/engine/internal/store"
	"inkwell/engine/internal/syncer"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}
	dataStore := store.NewPostgresStore(db)

	for _, dir := range []string{filepath.Dir(cfg.CachePath), cfg.MirrorDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("failed to create data dir %s: %v", dir, err)
		}
	}

	cache, err := syncer.OpenCache(cfg.CachePath)
	if err != nil {
		log.Fatalf("oplog cache failed: %v", err)
	}
	defer cache.Close()

	var rdb *redis.Client
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("invalid redis url: %v", err)
		}
		rdb = redis.NewClient(redisOpts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("WARNING: redis unreachable, running single-node: %v", err)
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	var blobs archive.BlobStore
	var archiveService *archive.Service
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		minioBlobs, err := archive.NewMinioBlobs(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Printf("WARNING: snapshot storage unavailable, versions disabled: %v", err)
		} else {
			blobs = minioBlobs
		}
	}
	if blobs != nil {
		archiveService = archive.NewService(dataStore, blobs, archive.NewGitMirror(cfg.MirrorDir))
	}

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)
	searchService.ReindexAllFromPG(ctx)

	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	hub := syncer.NewHubServer(nodeID, rdb)
	defer hub.Close()

	service := app.NewService(hub, app.Options{
		Store:         dataStore,
		Archive:       archiveService,
		Search:        searchService,
		Cache:         cache,
		Redis:         rdb,
		CaptureWindow: cfg.CaptureWindow,
		FlushInterval: cfg.FlushInterval,
	})
	defer service.Close()

	httpServer := app.NewHTTPServer(service, hub, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Inkwell engine %s listening on %s", nodeID, cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
