package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/UniQw/transferq"
	"github.com/UniQw/transferq/internal/api"
	"github.com/UniQw/transferq/internal/config"
	"github.com/UniQw/transferq/internal/transfer"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

func newZap(cfg config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc.Level = level
	return zc.Build()
}

// backends holds the connections opened for a daemon run.
type backends struct {
	store    transferq.Store
	notifier transferq.Notifier
	closers  []func() error
}

func (b *backends) close(log *zap.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			log.Warn("close backend", zap.Error(err))
		}
	}
}

func openBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	b := &backends{}
	var rdb *redis.Client
	redisClient := func() (*redis.Client, error) {
		if rdb != nil {
			return rdb, nil
		}
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		b.closers = append(b.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		return rdb, nil
	}

	switch cfg.Store.Driver {
	case "redis":
		c, err := redisClient()
		if err != nil {
			return b, err
		}
		b.store = transferq.NewRedisStore(c, cfg.Store.Namespace)
	case "postgres", "sqlite":
		var dial gorm.Dialector
		if cfg.Store.Driver == "postgres" {
			dial = postgres.Open(cfg.Database.DSN())
		} else {
			dial = sqlite.Open(cfg.Store.SQLitePath)
		}
		db, err := gorm.Open(dial, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
		if err != nil {
			return b, fmt.Errorf("open database: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return b, fmt.Errorf("get sql db: %w", err)
		}
		b.closers = append(b.closers, sqlDB.Close)
		if cfg.Store.Driver == "sqlite" {
			sqlDB.SetMaxOpenConns(1)
		} else if cfg.Database.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		}
		if b.store, err = transferq.NewSQLStore(db); err != nil {
			return b, err
		}
	}

	switch cfg.Notify.Driver {
	case "redis":
		c, err := redisClient()
		if err != nil {
			return b, err
		}
		b.notifier = transferq.NewRedisNotifier(c, cfg.Notify.Prefix)
	case "amqp":
		conn, err := amqp.Dial(cfg.Notify.AMQPURL)
		if err != nil {
			return b, fmt.Errorf("amqp dial: %w", err)
		}
		b.closers = append(b.closers, conn.Close)
		ch, err := conn.Channel()
		if err != nil {
			return b, fmt.Errorf("amqp channel: %w", err)
		}
		b.closers = append(b.closers, ch.Close)
		if err := ch.ExchangeDeclare(cfg.Notify.Exchange, "topic", true, false, false, false, nil); err != nil {
			return b, fmt.Errorf("amqp exchange: %w", err)
		}
		b.notifier = transferq.NewAMQPNotifier(ch, cfg.Notify.Exchange)
	}
	return b, nil
}

func serve(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	zl, err := newZap(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()
	log := transferq.NewZapLogger(zl)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg)
	defer b.close(zl)
	if err != nil {
		return err
	}

	var (
		metrics  *transferq.Metrics
		metricsH http.Handler
	)
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = transferq.NewMetrics(cfg.Metrics.Namespace, reg)
		metricsH = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	mux := transferq.NewMux()
	transfer.New(&http.Client{Timeout: 0}).Register(mux)

	rc := cfg.Runtime
	srv := transferq.NewServer(b.store, transferq.ServerConfig{
		MaxFrontendTasks:   rc.MaxFrontendTasks,
		MaxBackgroundTasks: rc.MaxBackgroundTasks,
		MaxRetry:           rc.MaxRetry,
		RetryBackoffMax:    rc.RetryBackoffMax,
		QueueSize:          rc.QueueSize,
		SweepInterval:      rc.SweepInterval,
		Retention:          rc.Retention,
		Survival:           rc.Survival,
		PurgeThreshold:     rc.PurgeThreshold,
		PurgeBatch:         rc.PurgeBatch,
		ProgressInterval:   rc.ProgressInterval,
		Notifier:           b.notifier,
		Metrics:            metrics,
		Logger:             log,
	}, mux)
	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Stop()
	if rc.MemoryLevel > 0 {
		if err := srv.MemoryLevelChanged(ctx, rc.MemoryLevel); err != nil {
			return fmt.Errorf("memory level: %w", err)
		}
	}

	gin.SetMode(gin.ReleaseMode)
	h := api.NewHandler(srv.Client(), srv, log)
	hs := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      h.Router(metricsH),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		zl.Info("http listening", zap.String("addr", cfg.Server.Address), zap.String("store", cfg.Store.Driver))
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http: %w", err)
		}
	}
	zl.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		zl.Warn("http shutdown", zap.Error(err))
	}
	return nil
}
