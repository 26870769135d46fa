package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"campusforum/api/internal/app"
	"campusforum/api/internal/blob"
	"campusforum/api/internal/cache"
	"campusforum/api/internal/config"
	"campusforum/api/internal/export"
	"campusforum/api/internal/gitrepo"
	"campusforum/api/internal/search"
	"campusforum/api/internal/store"
)

func main() {
	migrateDown := flag.Int("migrate-down", 0, "roll back the newest N postgres migrations and exit")
	flag.Parse()

	log.SetFormatter(&log.JSONFormatter{})
	log.SetOutput(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	ctx := context.Background()

	if *migrateDown > 0 {
		if err := rollback(ctx, cfg, *migrateDown); err != nil {
			log.WithError(err).Fatal("rollback failed")
		}
		return
	}

	var (
		service *app.Service
		sqlDB   *sql.DB
	)
	switch cfg.StoreDriver {
	case config.StorePostgres:
		sqlDB, err = store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Fatal("database connection failed")
		}
		defer sqlDB.Close()
		if _, err := store.ApplyMigrations(ctx, sqlDB, cfg.MigrationsDir); err != nil {
			log.WithError(err).Fatal("migrations failed")
		}
		service = app.New(cfg, store.NewPostgresStore(sqlDB))
	case config.StoreSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			log.WithError(err).Fatal("create sqlite dir")
		}
		sqliteDB, err := store.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			log.WithError(err).Fatal("sqlite open failed")
		}
		defer sqliteDB.Close()
		sqliteStore, err := store.NewSQLiteStore(ctx, sqliteDB)
		if err != nil {
			log.WithError(err).Fatal("sqlite schema failed")
		}
		service = app.New(cfg, sqliteStore)
	case config.StoreMongo:
		mongoStore, err := store.OpenMongo(ctx, cfg.MongoURL, cfg.MongoDatabase)
		if err != nil {
			log.WithError(err).Fatal("mongo connection failed")
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mongoStore.Close(closeCtx)
		}()
		service = app.New(cfg, mongoStore)
	}
	log.WithField("driver", cfg.StoreDriver).Info("forum store ready")

	if strings.TrimSpace(cfg.RedisURL) != "" {
		postCache, err := cache.NewPostCache(cfg.RedisURL, cfg.CacheTTL())
		if err != nil {
			log.WithError(err).Fatal("redis connection failed")
		}
		defer postCache.Close()
		service.WithCache(postCache)
	}

	// Postgres full-text search is only available on the postgres driver;
	// other drivers search through Meilisearch alone.
	var pgfts *search.PgFTS
	if sqlDB != nil {
		pgfts = search.NewPgFTS(sqlDB)
	}
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	if meiliClient != nil || pgfts != nil {
		searchService := search.NewService(meiliClient, pgfts)
		defer searchService.Close()
		service.WithSearch(searchService)
	}

	if strings.TrimSpace(cfg.ArchiveDir) != "" {
		if err := os.MkdirAll(cfg.ArchiveDir, 0o755); err != nil {
			log.WithError(err).Fatal("create archive dir")
		}
		service.WithArchive(gitrepo.New(cfg.ArchiveDir))
	}

	exporter := export.NewService()
	if strings.TrimSpace(cfg.MinIO.Endpoint) != "" {
		blobs, err := blob.New(ctx, blob.Config{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			UseSSL:    cfg.MinIO.UseSSL,
		})
		if err != nil {
			log.WithError(err).Fatal("object storage connection failed")
		}
		service.WithExporter(exporter, blobs)
	} else {
		service.WithExporter(exporter, nil)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, cfg.JWTSecret)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Addr).Info("forum API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown error")
	}
}

func rollback(ctx context.Context, cfg config.Config, steps int) error {
	if cfg.StoreDriver != config.StorePostgres {
		return fmt.Errorf("migrations only apply to the %s driver, configured %s", config.StorePostgres, cfg.StoreDriver)
	}
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	versions, err := store.RollbackMigrations(ctx, db, cfg.MigrationsDir, steps)
	log.WithField("versions", versions).Info("migrations rolled back")
	return err
}
