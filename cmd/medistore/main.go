package main

import (
	"context"
	"fmt"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"MediStore/internal/config"
	"MediStore/internal/medicine"
	"MediStore/pkg/kit"
)

func main() {
	service := "medistore"
	cfg := config.Load()

	log := kit.NewLogger(service, kit.LogOptions{
		Mode:       cfg.Log.Mode,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer func() { _ = log.Sync() }()

	store, err := openStore(context.Background(), cfg.Store)
	if err != nil {
		log.Fatal("open medicine store failed", zap.Error(err), zap.String("backend", cfg.Store.Backend))
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("close medicine store", zap.Error(err))
		}
	}()
	log.Info("medicine store ready", zap.String("backend", cfg.Store.Backend))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	h := medicine.NewHandler(&medicine.Server{Store: store, Log: log}, medicine.HTTPDeps{
		Log:              log,
		Service:          service,
		Registry:         reg,
		MetricsEnabled:   cfg.Metrics.Enabled,
		MetricsToken:     cfg.Metrics.Token,
		AllowedOrigins:   cfg.AllowedOrigins,
		WriteLimitPerMin: cfg.WriteLimitPerMin,
	})

	err = kit.RunHTTPServer(":"+cfg.Port, h, log, kit.ServerOptions{ShutdownTimeout: cfg.ShutdownTimeout})
	if err != nil {
		log.Error("http server stopped", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg config.StoreConfig) (medicine.Store, error) {
	switch cfg.Backend {
	case config.BackendFile:
		s, err := medicine.NewFileStore(cfg.DataFile)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendBolt:
		s, err := medicine.NewBoltStore(cfg.BoltFile)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendPostgres:
		dsn, err := cfg.Database.PostgresDSN()
		if err != nil {
			return nil, err
		}
		db, err := medicine.OpenPostgres(ctx, dsn, medicine.PoolOptions{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetimeSec) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		s := medicine.NewPostgresStore(db)
		if err := s.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.Backend)
	}
}
