package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"pricegov/internal/api"
	"pricegov/internal/bus"
	"pricegov/internal/config"
	"pricegov/internal/connector"
	"pricegov/internal/coordinator"
	"pricegov/internal/dedup"
	"pricegov/internal/governance"
	"pricegov/internal/journal"
	"pricegov/internal/models"
	"pricegov/internal/obs"
	"pricegov/internal/ratelimit"
	"pricegov/internal/store"
	"pricegov/internal/worker"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	jr, err := journal.Open(cfg.JournalPath, cfg.JournalMaxBytes)
	if err != nil {
		log.Fatalf("open journal: %v", err)
	}
	defer jr.Close()

	if cfg.ArchiveS3Bucket != "" {
		archiver, err := journal.NewArchiver(ctx, journal.ArchiverConfig{
			Bucket:    cfg.ArchiveS3Bucket,
			Region:    cfg.ArchiveS3Region,
			Endpoint:  cfg.ArchiveEndpoint,
			PathStyle: cfg.ArchivePathStyle,
			KeyPrefix: cfg.ArchivePrefix,
		})
		if err != nil {
			log.Fatalf("init journal archiver: %v", err)
		}
		jr.OnRotate = func(segment string) {
			if err := archiver.ArchiveSegment(ctx, segment); err != nil {
				obs.Logger.Error("archive journal segment failed", "segment", segment, "error", err)
			}
		}
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	b := bus.New(jr)
	pool := worker.NewPool(cfg.PoolWorkers, cfg.PoolBuffer)
	pool.Start(ctx)
	defer pool.Stop()

	registry := connector.NewRegistry(buildConnectors(cfg)...)
	coord := coordinator.New(b, st, dedup.NewRedis(redisClient, cfg.DedupTTL), registry, pool)
	coord.Register()

	guardrails := governance.NewGuardrailProvider(models.GuardrailConfig{
		AutoApply: cfg.AutoApply,
		MinMargin: cfg.MinMargin,
		MaxDelta:  cfg.MaxDelta,
	})
	agent := governance.New(b, st, guardrails, pool, governance.Options{
		CASMaxAttempts: cfg.CASMaxAttempts,
		BackoffInitial: cfg.BackoffInitial,
		BackoffMax:     cfg.BackoffMax,
	})
	agent.Register()

	limiter := ratelimit.New(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	server := api.New(b, st, guardrails, limiter)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	obs.Logger.Info("pipeline listening",
		"port", cfg.HTTPPort,
		"store", cfg.StoreDriver,
		"sources", len(cfg.Sources),
		"auto_apply", cfg.AutoApply)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	if cfg.StoreDriver == "memory" {
		return store.NewMemory(), nil
	}
	pg, err := store.NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	if err := pg.RunMigrations(ctx); err != nil {
		pg.Close()
		return nil, err
	}
	return pg, nil
}

// buildConnectors parses SOURCES entries of the form name=base_url.
func buildConnectors(cfg config.Config) []connector.Connector {
	out := make([]connector.Connector, 0, len(cfg.Sources))
	for _, entry := range cfg.Sources {
		name, url, ok := strings.Cut(entry, "=")
		if !ok || name == "" || url == "" {
			obs.Logger.Warn("skipping malformed source entry", "entry", entry)
			continue
		}
		out = append(out, connector.NewHTTP(name, url, cfg.ConnectorTimeout))
	}
	return out
}
