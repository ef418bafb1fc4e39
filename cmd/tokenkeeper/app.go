package main

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/pysugar/tokenkeeper/internal/auth/provider"
	"github.com/pysugar/tokenkeeper/internal/auth/token"
	"github.com/pysugar/tokenkeeper/internal/config"
	"github.com/pysugar/tokenkeeper/internal/db"
	"github.com/pysugar/tokenkeeper/internal/metrics"
	"github.com/pysugar/tokenkeeper/internal/notify"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// app wires the components shared by every command.
type app struct {
	cfg      *config.Config
	database *gorm.DB
	store    *db.AccountStore
	manager  *token.Manager
	registry *prometheus.Registry
	redis    *redis.Client
}

func loadApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return newApp(cfg)
}

func newApp(cfg *config.Config) (*app, error) {
	database, err := db.InitDB(cfg.Database.Path, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	a := &app{
		cfg:      cfg,
		database: database,
		store:    db.NewAccountStore(database),
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	notifiers := notify.Multi{notify.Log{}}
	if cfg.Redis.Enabled {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		notifiers = append(notifiers, notify.NewRedis(a.redis, cfg.Redis.Channel))
		log.Printf("🔔 Reconnect notifications published to redis %s (channel %s)", cfg.Redis.Addr, cfg.Redis.Channel)
	}

	exchanger := provider.NewOAuth2Exchanger(provider.Config{
		Name:         cfg.Provider.Name,
		ClientID:     cfg.Provider.ClientID,
		ClientSecret: cfg.Provider.ClientSecret,
		TokenURL:     cfg.Provider.TokenURL,
		Scopes:       cfg.Provider.Scopes,
	}, &http.Client{Timeout: cfg.Token.RefreshTimeout})
	if cfg.Provider.ClientID == "" {
		log.Printf("⚠️ No OAuth client id configured; refreshes will be rejected by the provider")
	}

	a.manager = token.NewManager(a.store, exchanger, token.Options{
		ExpiryBuffer:     cfg.Token.ExpiryBuffer,
		RefreshTimeout:   cfg.Token.RefreshTimeout,
		SweepParallelism: cfg.Sweep.Parallelism,
		Notifier:         notifiers,
		Metrics:          metrics.New(a.registry),
	})
	return a, nil
}

func (a *app) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if sqlDB, err := a.database.DB(); err == nil {
		errs = append(errs, sqlDB.Close())
	}
	return errors.Join(errs...)
}
