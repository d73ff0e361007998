// Package main is the entry point for the event reminder server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zapcore"

	"github.com/event-reminders/backend/internal/api"
	"github.com/event-reminders/backend/internal/api/middleware"
	"github.com/event-reminders/backend/internal/config"
	"github.com/event-reminders/backend/internal/event"
	"github.com/event-reminders/backend/internal/ical"
	"github.com/event-reminders/backend/internal/logger"
	"github.com/event-reminders/backend/internal/notify"
	"github.com/event-reminders/backend/internal/recurrence"
	"github.com/event-reminders/backend/internal/reminder"
	"github.com/event-reminders/backend/internal/series"
	"github.com/event-reminders/backend/internal/storage"
	"github.com/event-reminders/backend/internal/websocket"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
// Defaults to "dev" when not provided.
var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	printConfig := flag.Bool("print-config", false, "Print the effective configuration and exit")
	healthCheck := flag.Bool("health-check", false, "Run health check and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *printConfig {
		out, err := cfg.YAML()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render config: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
		return
	}

	// Health check mode for Docker HEALTHCHECK
	if *healthCheck {
		if err := runHealthCheck(cfg.Server.Addr); err != nil {
			fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if envVer := os.Getenv("VERSION"); envVer != "" {
		version = envVer
	}

	if err := run(cfg); err != nil {
		logger.Log.Errorf("Server stopped with error: %v", err)
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	if err := logger.Init(logger.Config{
		Debug:     cfg.Logging.Debug,
		LogToFile: cfg.Logging.LogToFile,
		LogsDir:   cfg.Logging.LogsDir,
	}); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync()

	hostname, _ := os.Hostname()
	if cfg.Logging.RollbarToken != "" {
		logger.SetHook(logger.RollbarHook(logger.RollbarConfig{
			Token:       cfg.Logging.RollbarToken,
			Environment: cfg.Logging.Environment,
			CodeVersion: version,
			ServerHost:  hostname,
		}, zapcore.ErrorLevel))
		defer logger.CloseRollbar()
	}

	log := logger.Log
	log.Infof("Starting event reminder server (version: %s)...", version)

	db, err := storage.NewDB(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := storage.RunMigrations(context.Background(), db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("Database migrations complete")

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisClient.Ping(ctx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		log.Infof("Connected to redis at %s", cfg.Redis.Addr)
	}

	var cache recurrence.Cache
	switch cfg.Cache.Driver {
	case "redis":
		cache = recurrence.NewRedisCache(redisClient)
	case "memory":
		cache = recurrence.NewMemoryCache()
	default:
		cache = recurrence.NopCache{}
	}

	mailer, err := notify.NewMailer(cfg.Mail)
	if err != nil {
		return fmt.Errorf("configuring mailer: %w", err)
	}

	hub := websocket.NewHub()
	go hub.Run()
	defer hub.Close()

	// Repositories
	eventRepo := storage.NewEventRepository(db)
	seriesRepo := storage.NewSeriesRepository(db)
	reminderRepo := storage.NewReminderRepository(db)
	notificationRepo := storage.NewNotificationRepository(db)

	// Services
	events := event.NewService(eventRepo)
	seriesService := series.NewService(seriesRepo, eventRepo, events, cache, series.Config{
		InstanceCap:       cfg.Series.InstanceCap,
		DefaultWindowDays: cfg.Series.DefaultWindowDays,
		CacheTTL:          cfg.Cache.TTL,
	})
	reminders := reminder.NewService(reminderRepo, events)
	notifications := notify.NewService(notificationRepo, mailer, websocket.NewPublisher(hub))

	processor := reminder.NewProcessor(reminderRepo, eventRepo, notifications, seriesService, reminder.Config{
		BatchSize:        cfg.Scheduler.BatchSize,
		TickInterval:     cfg.Scheduler.TickInterval,
		MaxRetries:       cfg.Scheduler.MaxRetries,
		LookAheadDays:    cfg.Scheduler.LookAheadDays,
		BatchWindow:      cfg.Scheduler.BatchWindow,
		Retention:        cfg.Scheduler.Retention,
		MaterializeLimit: cfg.Scheduler.MaterializeLimit,
	})
	if cfg.Scheduler.DistributedClaim {
		owner := fmt.Sprintf("%s-%s", hostname, uuid.NewString())
		processor.SetClaimer(reminder.NewRedisClaimer(redisClient, cfg.Scheduler.ClaimTTL, owner))
		log.Infof("Distributed reminder claims enabled (owner %s)", owner)
	}
	if cfg.Scheduler.Autostart {
		if err := processor.Start(); err != nil {
			return fmt.Errorf("starting reminder processor: %w", err)
		}
	}
	defer processor.Stop()

	exporter := ical.NewExporter(seriesService, reminders, cfg.Series.InstanceCap, cfg.Series.DefaultWindowDays)

	router := api.NewRouter(api.Services{
		DB:            db,
		Hub:           hub,
		Auth:          middleware.NewAuth(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		Events:        events,
		Reminders:     reminders,
		Series:        seriesService,
		Notifications: notifications,
		Processor:     processor,
		Exporter:      exporter,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Server listening on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("Shutting down server...")

	// Stop the processor before the server so an in-flight tick can finish
	processor.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	log.Info("Server stopped")
	return nil
}

// runHealthCheck performs a health check against the running server.
func runHealthCheck(addr string) error {
	url := "http://localhost" + addr + "/api/health"
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
