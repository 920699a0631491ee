package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/audience-engine/internal/api"
	"github.com/ignite/audience-engine/internal/behavior"
	"github.com/ignite/audience-engine/internal/config"
	"github.com/ignite/audience-engine/internal/donor"
	"github.com/ignite/audience-engine/internal/segmentation"
	"github.com/ignite/audience-engine/internal/worker"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("[Server] Failed to load config: %v", err)
	}

	repo, closeRepo, err := buildRepository(cfg)
	if err != nil {
		log.Fatalf("[Server] Failed to build donor repository: %v", err)
	}
	defer closeRepo()

	pool := worker.NewPool(cfg.Engine.WorkerPoolSize)

	engine := segmentation.NewEngine(segmentation.Options{
		Repository: repo,
		Behavior: behavior.Config{
			ShortWindowDays:  cfg.Behavior.ShortWindowDays,
			MediumWindowDays: cfg.Behavior.MediumWindowDays,
			LongWindowDays:   cfg.Behavior.LongWindowDays,
			MinimumActivity:  cfg.Behavior.MinimumActivity,
			WeightDecay:      cfg.Behavior.WeightDecay,
		},
		AlertWarnRatio:     cfg.Alerts.ChangeWarnRatio,
		AlertCriticalRatio: cfg.Alerts.ChangeCriticalRatio,
		Runner:             pool,
	})

	var states segmentation.StateStore
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		states = segmentation.NewRedisStateStore(client, cfg.Redis.StateKey)

		restoreState(engine, states)
	}

	scheduler := worker.NewUpdateScheduler(engine, pool,
		time.Duration(cfg.Engine.DrainIntervalSeconds)*time.Second,
		cfg.Engine.FullRefreshCron)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("[Server] Failed to start update scheduler: %v", err)
	}

	server := api.NewServer(cfg.Server, engine)
	go func() {
		log.Printf("[Server] Listening on %s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[Server] HTTP server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("[Server] Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Server] HTTP shutdown error: %v", err)
	}

	scheduler.Stop()

	if states != nil {
		saveCtx, cancelSave := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelSave()
		if err := states.Save(saveCtx, engine.ExportState()); err != nil {
			log.Printf("[Server] Failed to save engine state: %v", err)
		} else {
			log.Println("[Server] Engine state saved")
		}
	}

	log.Println("[Server] Shutdown complete")
}

// buildRepository picks the donor source: Postgres when a URL is configured,
// the in-memory repository otherwise (dev mode).
func buildRepository(cfg *config.Config) (donor.Repository, func(), error) {
	if cfg.Database.URL == "" {
		log.Println("[Server] No database configured, using in-memory donor repository")
		return donor.NewMemoryRepository(), func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, err
	}

	log.Println("[Server] Connected to Postgres donor repository")
	return donor.NewPostgresRepository(db), func() { db.Close() }, nil
}

// restoreState rehydrates the engine from the last saved snapshot, if any.
// Restored segments come back dirty, so membership converges on the first
// drain tick.
func restoreState(engine *segmentation.Engine, states segmentation.StateStore) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st, err := states.Load(ctx)
	if err != nil {
		log.Printf("[Server] Failed to load saved engine state, starting fresh: %v", err)
		return
	}
	if st == nil {
		log.Println("[Server] No saved engine state found, starting fresh")
		return
	}

	engine.ImportState(st)
	log.Printf("[Server] Restored engine state from %s (%d segments, %d memberships)",
		st.SavedAt.Format(time.RFC3339), len(st.Segments), len(st.Memberships))
}
