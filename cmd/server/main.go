package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"tallernegreira/backend/internal/cache"
	"tallernegreira/backend/internal/config"
	"tallernegreira/backend/internal/events"
	"tallernegreira/backend/internal/httpapi"
	"tallernegreira/backend/internal/invoice"
	"tallernegreira/backend/internal/logging"
	"tallernegreira/backend/internal/metrics"
	"tallernegreira/backend/internal/restock"
	"tallernegreira/backend/internal/service"
	"tallernegreira/backend/internal/store"
	"tallernegreira/backend/internal/store/memory"
	pgstore "tallernegreira/backend/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}
	if err := logging.Configure(cfg.LogLevel, cfg.LogFormat); err != nil {
		log.Fatalf("configure logging: %v", err)
	}
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	logger := log.WithField("component", "server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 4)

	if cfg.DatabaseURL != "" {
		if cfg.AutoMigrate {
			status, err := pgstore.Migrate(cfg.DatabaseURL, "up", 0)
			if err != nil {
				logger.Fatalf("apply migrations: %v", err)
			}
			logger.WithField("version", status.Version).Info("migrations applied")
		}
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		logger.Info("repository: in-memory")
	}

	cacheStore := cache.Cache(cache.Noop{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.WithError(err).Warn("redis unavailable, using noop cache")
			_ = redisCache.Close()
		} else {
			cacheStore = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("cache: redis")
		}
	} else {
		logger.Info("cache: noop")
	}

	publisher := events.Publisher(events.Noop{})
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		kafka, err := events.NewKafkaPublisher(brokers, cfg.KafkaTopic)
		if err != nil {
			logger.WithError(err).Warn("kafka unavailable, events disabled")
		} else {
			publisher = kafka
			closers = append(closers, kafka.Close)
			logger.WithField("topic", cfg.KafkaTopic).Info("events: kafka")
		}
	}

	m := metrics.New()
	scanner := restock.NewScanner(repo, cacheStore, cfg.ReportCacheTTL(), publisher, m)
	svc := service.New(repo, service.Options{
		Cache:     cacheStore,
		ReportTTL: cfg.ReportCacheTTL(),
		Publisher: publisher,
		Metrics:   m,
		Restock:   scanner,
		Invoices: invoice.NewGenerator(invoice.Workshop{
			Name:    cfg.WorkshopName,
			Address: cfg.WorkshopAddress,
			Phone:   cfg.WorkshopPhone,
			Email:   cfg.WorkshopEmail,
		}),
	})

	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), repo)
	if n, err := auth.UpgradeLegacyPasswords(ctx); err != nil {
		logger.WithError(err).Warn("legacy password upgrade failed")
	} else if n > 0 {
		logger.WithField("accounts", n).Info("legacy passwords upgraded")
	}

	scheduler, err := startRestockScanner(scanner, cfg.StockScanSchedule)
	if err != nil {
		logger.Fatalf("restock scanner: %v", err)
	}

	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin:      cfg.AllowedOrigin,
		LoginRatePerMinute: cfg.LoginRatePerMinute,
		Metrics:            m,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Infof("taller backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("shutdown error")
	}
	if scheduler != nil {
		<-scheduler.Stop().Done()
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.WithError(err).Warn("close error")
		}
	}

	logger.Info("server stopped")
}

// startRestockScanner runs one scan right away and schedules the rest. An
// empty schedule disables the job.
func startRestockScanner(scanner *restock.Scanner, schedule string) (*cron.Cron, error) {
	if schedule == "" || schedule == "off" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := scanner.Scan(ctx); err != nil {
		log.WithField("component", "server").WithError(err).Warn("initial low-stock scan failed")
	}
	return scanner.Start(schedule)
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AccessTokenTTLMinutes < 1 {
		return fmt.Errorf("ACCESS_TOKEN_TTL_MINUTES must be positive")
	}
	return nil
}
