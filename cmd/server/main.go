// Package main runs the crowdsourced pathfinding platform server.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	app "github.com/crowdgrid/platform/internal/app"
	"github.com/crowdgrid/platform/internal/app/audit"
	"github.com/crowdgrid/platform/internal/app/httpapi"
	"github.com/crowdgrid/platform/internal/app/storage"
	"github.com/crowdgrid/platform/internal/app/storage/postgres"
	"github.com/crowdgrid/platform/internal/config"
	"github.com/crowdgrid/platform/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var store storage.Store
	var db *sql.DB
	if cfg.Database.DSN != "" {
		db, err = openDatabase(ctx, cfg.Database)
		if err != nil {
			log.WithError(err).Fatalf("connect to database")
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			log.WithError(err).Fatalf("run migrations")
		}
		store = postgres.New(db)
		log.Info("using postgres store")
	} else {
		log.Warn("DATABASE_DSN not set; using in-memory store")
	}

	var sink audit.Sink
	if len(cfg.Audit.KafkaBrokers) > 0 {
		sink = audit.NewKafkaSink(cfg.Audit.KafkaBrokers, cfg.Audit.KafkaTopic)
		log.WithField("topic", cfg.Audit.KafkaTopic).Info("audit entries published to kafka")
	}

	application, err := app.New(app.Options{
		Store:           store,
		AuditSink:       sink,
		AuditMaxEntries: cfg.Audit.MaxEntries,
		Log:             log,
	})
	if err != nil {
		log.WithError(err).Fatalf("build application")
	}

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Fatalf("start application")
	}
	defer application.Stop(context.Background())

	if err := seed(ctx, application, log); err != nil {
		log.WithError(err).Fatalf("seed database")
	}

	issuer := httpapi.NewTokenIssuer(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenTTLMins)*time.Minute)
	handler := httpapi.NewHandler(application, issuer)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.WithField("addr", addr).Info("http server listening")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.WithError(err).Fatalf("http server")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown")
	}
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}
