// Command server runs the sector scan service: the HTTP API, the scheduled
// afternoon pipeline run, and the snapshot backup job.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wangqi/tailscan/internal/clients/eastmoney"
	"github.com/wangqi/tailscan/internal/config"
	"github.com/wangqi/tailscan/internal/database"
	"github.com/wangqi/tailscan/internal/freshness"
	"github.com/wangqi/tailscan/internal/market"
	"github.com/wangqi/tailscan/internal/pipeline"
	"github.com/wangqi/tailscan/internal/proxy"
	"github.com/wangqi/tailscan/internal/reliability"
	"github.com/wangqi/tailscan/internal/scheduler"
	"github.com/wangqi/tailscan/internal/server"
	"github.com/wangqi/tailscan/internal/snapshot"
	"github.com/wangqi/tailscan/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info"})
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

	log.Info().Str("data_dir", cfg.DataDir).Int("port", cfg.Port).Msg("Starting tailscan")

	indexDB, err := database.New(database.Config{
		Path:    cfg.IndexDBPath(),
		Profile: database.ProfileCache,
		Name:    "snapshot-index",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open snapshot index database")
	}
	defer indexDB.Close()

	store, err := snapshot.NewStore(cfg.SnapshotDir(), indexDB, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize snapshot store")
	}

	var calendar market.Calendar = market.WeekdayCalendar{}
	if cfg.CalendarPath != "" {
		calendar = market.NewHolidayCalendar(cfg.CalendarPath)
	}
	clock := market.NewClock(calendar)
	policy := freshness.NewPolicy(clock)

	var pool proxy.Pool
	switch {
	case cfg.Proxy.EndpointURL != "":
		pool = proxy.NewHTTPPool(cfg.Proxy.EndpointURL, log)
	case cfg.Proxy.StaticAddress != "":
		pool = proxy.Static{Credential: proxy.Credential{Address: cfg.Proxy.StaticAddress}}
	default:
		pool = proxy.Static{}
	}

	client := eastmoney.NewClient(eastmoney.Config{
		PageSize:  cfg.Fetch.PageSize,
		Timeout:   time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second,
		RateLimit: cfg.Fetch.RatePerSecond,
	}, log)

	tracker := pipeline.NewTracker()
	pipe := pipeline.New(client, store, policy, pool, pipeline.Config{
		TopN:              cfg.Pipeline.TopN,
		Concurrency:       cfg.Fetch.Concurrency,
		SeriesConcurrency: cfg.Fetch.SeriesConcurrency,
		Attempts:          cfg.Fetch.Attempts,
		Blocklist:         cfg.Pipeline.Blocklist,
	}, tracker, log)

	params, err := config.LoadStrategy(cfg.Preset, cfg.StrategyFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load strategy parameters")
	}
	candidates := pipeline.NewCandidateService(store, params, log)

	sched := scheduler.New(clock, log)
	if cfg.Schedule.Enabled {
		scanJob := scheduler.NewAfternoonScanJob(pipe, log)
		if err := sched.AddTradingDay(cfg.Schedule.AfternoonRun, scanJob); err != nil {
			log.Fatal().Err(err).Msg("Failed to register afternoon scan job")
		}

		if cfg.Backup.Enabled {
			backupSvc, err := reliability.NewBackupService(context.Background(), reliability.Config{
				Bucket:    cfg.Backup.Bucket,
				Endpoint:  cfg.Backup.Endpoint,
				AccessKey: cfg.Backup.AccessKey,
				SecretKey: cfg.Backup.SecretKey,
				Prefix:    cfg.Backup.Prefix,
			}, cfg.SnapshotDir(), log)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to initialize backup service")
			}
			if err := sched.Add(cfg.Schedule.BackupRun, scheduler.NewBackupJob(backupSvc, log)); err != nil {
				log.Fatal().Err(err).Msg("Failed to register backup job")
			}
		}

		sched.Start()
	}

	srv := server.New(server.Config{
		Port:       cfg.Port,
		Log:        log,
		Pipeline:   pipe,
		Candidates: candidates,
		Tracker:    tracker,
		IndexDB:    indexDB,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatal().Err(err).Msg("Server failed")
		}
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
	if cfg.Schedule.Enabled {
		sched.Stop()
	}

	log.Info().Msg("Shutdown complete")
}
