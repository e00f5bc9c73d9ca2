package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"prepline-kds-service/internal/board"
	"prepline-kds-service/internal/bus"
	"prepline-kds-service/internal/config"
	"prepline-kds-service/internal/db"
	httpapi "prepline-kds-service/internal/http"
	"prepline-kds-service/internal/http/handlers"
	"prepline-kds-service/internal/logger"
	"prepline-kds-service/internal/poller"
	"prepline-kds-service/internal/pos"
	"prepline-kds-service/internal/settings"
	"prepline-kds-service/internal/ws"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log, err := logger.New(cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The settings store runs in-memory when no database is configured,
	// so local development can run as a single binary.
	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err = db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			if cfg.Env == "production" {
				log.Fatal("database connection failed", zap.Error(err))
			}
			log.Warn("database connection failed; settings will not persist", zap.Error(err))
			pool = nil
		}
	} else {
		log.Info("settings persistence disabled (DATABASE_URL is empty)")
	}
	if pool != nil {
		defer pool.Close()
	}

	store := settings.New(pool, settings.Defaults(cfg))
	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatal("settings schema failed", zap.Error(err))
	}

	if cfg.BootstrapDeviceName != "" && cfg.BootstrapDeviceKey != "" {
		if err := store.RegisterDevice(ctx, cfg.BootstrapDeviceName, cfg.BootstrapDeviceKey); err != nil {
			log.Fatal("bootstrap device registration failed", zap.Error(err))
		}
		log.Info("bootstrap display device registered", zap.String("device", cfg.BootstrapDeviceName))
	}

	posClient := pos.NewClient(cfg.POSBaseURL, cfg.POSAccessToken, cfg.RushMarker, log)

	var eventBus *bus.EventBus
	if cfg.RabbitMQURL != "" {
		origin := uuid.NewString()
		busClient, err := bus.New(cfg.RabbitMQURL)
		if err != nil {
			if cfg.Env == "production" {
				log.Fatal("rabbitmq connection failed", zap.Error(err))
			}
			log.Warn("rabbitmq connection failed; continuing without display sync", zap.Error(err))
		} else {
			eventBus = bus.NewEventBus(busClient, origin, log)
			if err := eventBus.EnsureTopology(); err != nil {
				if cfg.Env == "production" {
					log.Fatal("rabbitmq topology failed", zap.Error(err))
				}
				log.Warn("rabbitmq topology failed; continuing without display sync", zap.Error(err))
				_ = busClient.Close()
				eventBus = nil
			}
		}
		if eventBus != nil {
			defer eventBus.Close()
			log.Info("display sync enabled", zap.String("origin", origin))
		}
	} else {
		log.Info("display sync disabled (RABBITMQ_URL is empty)")
	}

	display, err := store.Get(ctx)
	if err != nil {
		log.Warn("settings read failed, using defaults", zap.Error(err))
		display = settings.Defaults(cfg)
	}

	var publisher board.Publisher
	if eventBus != nil {
		publisher = eventBus
	}
	engine := board.NewEngine(display.Board(), posClient, publisher, nil, log)
	defer engine.Close()

	if eventBus != nil {
		go func() {
			if err := eventBus.Run(engine); err != nil {
				log.Error("display sync consumer stopped", zap.Error(err))
			}
		}()
	}

	orderPoller := poller.New(posClient, engine, store, cfg.PollInterval, cfg.OpenFetchWindow, log)
	go orderPoller.Run(ctx)

	wsServer := ws.New(engine, log, cfg)
	h := &handlers.Handler{
		Engine:    engine,
		Store:     store,
		Locations: posClient,
		Bus:       eventBus,
		Logger:    log,
		Config:    cfg,
	}

	apiServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewRouter(h, wsServer, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("kds api ready", zap.String("base", "/api"))
		log.Info("kds board ws ready", zap.String("base", "/ws/board"))
		log.Info("kds service listening", zap.String("addr", cfg.HTTPAddr))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancel()
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := apiServer.Shutdown(ctxShutdown); err != nil {
		log.Error("http server shutdown failed", zap.Error(err))
	}
}
