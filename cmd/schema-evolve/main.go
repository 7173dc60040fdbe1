// Package main is the entry point for the tenant schema evolution
// engine's control-plane server and background scheduler.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/axonops/tenant-schema-engine/internal/api"
	"github.com/axonops/tenant-schema-engine/internal/api/handlers"
	"github.com/axonops/tenant-schema-engine/internal/auditlog"
	"github.com/axonops/tenant-schema-engine/internal/catalog/mysql"
	"github.com/axonops/tenant-schema-engine/internal/config"
	"github.com/axonops/tenant-schema-engine/internal/drift"
	"github.com/axonops/tenant-schema-engine/internal/metrics"
	"github.com/axonops/tenant-schema-engine/internal/orchestrator"
	"github.com/axonops/tenant-schema-engine/internal/scheduler"
	"github.com/axonops/tenant-schema-engine/internal/shard"
	"github.com/axonops/tenant-schema-engine/internal/tenant"
	"github.com/axonops/tenant-schema-engine/internal/versiongate"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("schema-evolve %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := auditlog.NewLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting schema evolution engine",
		slog.String("version", version),
		slog.String("address", cfg.Address()),
	)

	var audit auditlog.Sink = auditlog.NoopSink
	if cfg.Logging.Syslog.Enabled {
		sink, err := auditlog.NewSyslogSink(cfg.Logging.Syslog.Network, cfg.Logging.Syslog.Address, cfg.Logging.Syslog.Tag, logger)
		if err != nil {
			logger.Error("failed to dial syslog audit sink", slog.String("error", err.Error()))
			os.Exit(1)
		}
		audit = sink
		defer sink.Close()
	}

	store, err := mysql.NewStore(mysql.Config{
		Host:            cfg.ControlDB.Host,
		Port:            cfg.ControlDB.Port,
		Database:        cfg.ControlDB.Database,
		Username:        cfg.ControlDB.Username,
		Password:        cfg.ControlDB.Password,
		TLS:             cfg.ControlDB.TLS,
		MaxOpenConns:    cfg.ControlDB.MaxOpenConns,
		MaxIdleConns:    cfg.ControlDB.MaxIdleConns,
		ConnMaxLifetime: cfg.ControlDB.ConnMaxLifetimeDuration(),
		ConnMaxIdleTime: cfg.ControlDB.ConnMaxIdleTimeDuration(),
	})
	if err != nil {
		logger.Error("failed to open control database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	baseline, err := openBaseline(cfg)
	if err != nil {
		logger.Error("failed to open baseline database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	tenants := tenant.NewStaticDirectory(cfg.TenantDirectoryFile)
	conns := tenant.NewRegistry(tenant.PoolConfig{
		MaxOpenConns:    cfg.Tenant.MaxOpenConns,
		AcquireTimeout:  time.Duration(cfg.Tenant.AcquireTimeoutSec) * time.Second,
		ConnMaxIdleTime: time.Duration(cfg.Tenant.ConnMaxIdleSec) * time.Second,
		TLS:             cfg.Tenant.TLS,
	})
	expander := shard.New(shard.StoreDirectoryConfig{
		TableName:       cfg.Store.TableName,
		IDColumn:        cfg.Store.IDColumn,
		ActivePredicate: cfg.Store.ActivePredicate,
	})
	gate := versiongate.New(store, logger)
	orch := orchestrator.New(store, tenants, conns, expander, gate, logger)
	orch.SetAuditSink(audit)

	retain := scheduler.RetentionConfig{
		DayShards:   cfg.Retention.DayShards,
		MonthShards: cfg.Retention.MonthShards,
		YearShards:  cfg.Retention.YearShards,
	}
	sched := scheduler.New(store, tenants, conns, retain, logger)

	detector := drift.New(baseline, store)

	h := handlers.New(store, orch, detector, sched, conns, handlers.Ping(store.DB()))

	// One Prometheus registry backs both the /metrics HTTP endpoint and
	// every domain recorder below, so scraped counters and gauges reflect
	// the same process the control plane is serving.
	m := metrics.New()
	orch.SetMetrics(m)
	sched.SetMetrics(m)
	detector.SetMetrics(m)
	conns.SetMetrics(m)
	h.SetMetrics(m)

	sched.Run()

	server := api.NewServer(cfg, h, logger, api.WithMetrics(m))

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	case sig := <-shutdown:
		logger.Info("shutting down", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", slog.String("error", err.Error()))
		}

		sched.Stop()
		conns.CloseAll()

		if err := baseline.Close(); err != nil {
			logger.Error("baseline database close error", slog.String("error", err.Error()))
		}

		if err := store.Close(); err != nil {
			logger.Error("control database close error", slog.String("error", err.Error()))
		}
	}

	logger.Info("shutdown complete")
}

func openBaseline(cfg *config.Config) (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"%s:%s@tcp(%s:%d)/%s?parseTime=true&tls=%s",
		cfg.Baseline.Username, cfg.Baseline.Password, cfg.Baseline.Host, cfg.Baseline.Port, cfg.Baseline.Database, cfg.Baseline.TLS,
	)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open baseline database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Baseline.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Baseline.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Baseline.ConnMaxLifetimeDuration())
	return db, nil
}
