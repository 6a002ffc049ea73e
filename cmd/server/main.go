package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/moneta-app/moneta/internal/config"
	"github.com/moneta-app/moneta/internal/database"
	"github.com/moneta-app/moneta/internal/importer"
	"github.com/moneta-app/moneta/internal/jobs"
	"github.com/moneta-app/moneta/internal/ledger"
	"github.com/moneta-app/moneta/internal/scheduler"
	"github.com/moneta-app/moneta/internal/server"
	"github.com/moneta-app/moneta/internal/services"
	"github.com/moneta-app/moneta/internal/settings"
	"github.com/moneta-app/moneta/internal/taxlot"
	"github.com/moneta-app/moneta/pkg/logger"
)

const appVersion = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "error"})
		fallback.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	log.Info().Str("version", appVersion).Msg("starting moneta")

	prefs := settings.Load(cfg.SettingsPath, log)
	log.Debug().Int("register_page_size", prefs.RegisterPageSize).Msg("settings loaded")

	db, err := database.Open(cfg.DatabasePath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer db.Close()

	if err := db.Migrate(context.Background(), appVersion); err != nil {
		log.Fatal().Err(err).Msg("schema migration failed, refusing to run against this store")
	}

	store := ledger.NewStore(db.Conn(), log)
	engine := taxlot.NewEngine(log)
	recorder := services.NewRecorder(store, engine, log)
	imp := importer.New(store, log)

	sched := scheduler.New(log)
	if cfg.BackupSchedule != "" {
		if err := sched.Add(cfg.BackupSchedule, jobs.NewBackup(db, cfg.BackupDir, log)); err != nil {
			log.Fatal().Err(err).Msg("failed to register backup job")
		}
	}
	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Port:     cfg.Port,
		Log:      log,
		DB:       db,
		Store:    store,
		Engine:   engine,
		Recorder: recorder,
		Importer: imp,
		DevMode:  cfg.DevMode,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shut down")
	}

	if err := settings.Save(cfg.SettingsPath, prefs); err != nil {
		log.Warn().Err(err).Msg("failed to save settings")
	}
	log.Info().Msg("stopped")
}
