package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"example.com/playbacktelemetry/internal/config"
	"example.com/playbacktelemetry/internal/ingest"
	"example.com/playbacktelemetry/internal/logging"
	"example.com/playbacktelemetry/internal/report"
	spg "example.com/playbacktelemetry/internal/storage/postgres"
	"example.com/playbacktelemetry/internal/supervisor"
	transport "example.com/playbacktelemetry/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("load config")
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("port", cfg.Server.Port).
		Str("auth_mode", cfg.Security.AuthMode).
		Bool("purge_enabled", cfg.Admin.PurgeEnabled).
		Msg("config loaded")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := spg.Connect(ctx, cfg.Database.DSN, cfg.Database.MaxConns)
	if err != nil {
		logging.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()
	logging.Info().Msg("db: connected")

	if cfg.Database.MigrationsDir != "" {
		n, err := db.RunMigrations(ctx, cfg.Database.MigrationsDir)
		if err != nil {
			logging.Fatal().Err(err).Str("dir", cfg.Database.MigrationsDir).Msg("migration")
		}
		logging.Info().Int("files", n).Msg("db: migrations applied")
	}

	writer := spg.NewWriter(db, cfg.Ingest.InsertChunkSize)
	ingestor := ingest.NewIngestor(writer, cfg.Ingest.MaxBatchSize, func() time.Time { return time.Now().UTC() })
	reports := report.NewService(db, cfg.Report.QueryTimeout)

	deps := &transport.ServerDeps{
		Ingestor:        ingestor,
		Reports:         reports,
		DB:              db,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		RateLimitPerMin: cfg.Report.RateLimitPerMin,
		CORSOrigins:     cfg.Security.CORSOrigins,
		PurgeEnabled:    cfg.Admin.PurgeEnabled,
		Auth: transport.AuthConfig{
			Mode:      cfg.Security.AuthMode,
			APIKeys:   cfg.APIKeySet(),
			JWTSecret: []byte(cfg.Security.JWTSecret),
		},
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           deps.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	tree := supervisor.NewTree(logging.Logger(), supervisor.TreeConfig{ShutdownTimeout: cfg.Server.ShutdownTimeout})
	tree.AddAPIService(supervisor.NewHTTPServerService(srv, cfg.Server.ShutdownTimeout))

	logging.Info().Str("addr", srv.Addr).Msg("listening")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("supervisor stopped")
	}
	if unstopped, err := tree.UnstoppedServiceReport(); err == nil {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("service did not stop before the shutdown timeout")
		}
	}
	logging.Info().Msg("shutdown complete")
}
