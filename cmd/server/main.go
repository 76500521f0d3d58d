package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"family-planner-backend/internal/archive"
	"family-planner-backend/internal/config"
	"family-planner-backend/internal/database"
	"family-planner-backend/internal/directory"
	"family-planner-backend/internal/events"
	"family-planner-backend/internal/handlers"
	"family-planner-backend/internal/notify"
	"family-planner-backend/internal/presence"
	"family-planner-backend/internal/services"
	"family-planner-backend/internal/store"
	"family-planner-backend/internal/store/gormstore"
	"family-planner-backend/internal/store/memory"
	"family-planner-backend/internal/tasks"
	"family-planner-backend/internal/ws"

	_ "family-planner-backend/docs"
)

// @title           Family Planner Sessions API
// @version         1.0
// @description     Collaborative weekly planning sessions: lifecycle, progress, claims and live presence
// @host            localhost:8080
// @BasePath        /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Enter "Bearer {token}"

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	st, dir, err := openStore(cfg)
	if err != nil {
		slog.Error("failed to open store", "driver", cfg.StoreDriver, "err", err)
		os.Exit(1)
	}
	defer st.Close()

	var publisher events.Publisher = &events.NoopPublisher{}
	var subscriber events.Subscriber
	if cfg.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			slog.Error("failed to connect to NATS", "url", cfg.NATSURL, "err", err)
			os.Exit(1)
		}
		sub, err := events.NewNATSSubscriber(cfg.NATSURL)
		if err != nil {
			slog.Error("failed to subscribe to NATS", "url", cfg.NATSURL, "err", err)
			os.Exit(1)
		}
		publisher, subscriber = pub, sub
		defer sub.Close()
	} else {
		slog.Info("NATS_URL not set, room relay disabled")
	}
	defer publisher.Close()

	hubCfg := ws.DefaultConfig()
	hubCfg.SendQueueSize = cfg.SendQueueSize
	hubCfg.PingPeriod = cfg.PingPeriod
	hubCfg.PongWait = cfg.HeartbeatTimeout
	hub := ws.NewHub(hubCfg, presence.New(), publisher)
	defer hub.Close()

	deps := services.Deps{
		Store:     st,
		Directory: dir,
		Events:    hub,
		Locks:     services.NewKeyedMutex(),
		Cache:     services.NewStateCache(1024, cfg.CacheTTL),
	}

	var notifier notify.Notifier = notify.NoopNotifier{}
	if cfg.TelegramBotToken != "" {
		notifier = notify.NewTelegramNotifier(notify.NewTelegramClient(cfg.TelegramBotToken))
	} else {
		slog.Info("TELEGRAM_BOT_TOKEN not set, notifications disabled")
	}

	var archiver archive.Archiver = archive.NoopArchiver{}
	if cfg.ReportS3Bucket != "" {
		s3a, err := archive.NewS3Archiver(context.Background(), cfg.ReportS3Bucket, cfg.ReportS3Region, cfg.ReportS3Endpoint)
		if err != nil {
			slog.Error("failed to configure report archive", "bucket", cfg.ReportS3Bucket, "err", err)
			os.Exit(1)
		}
		archiver = s3a
	}

	var taskService services.TaskService
	if cfg.TasksAPIURL != "" {
		taskService = tasks.NewHTTPClient(cfg.TasksAPIURL, cfg.TasksAPIToken)
	} else {
		slog.Info("TASKS_API_URL not set, item updates and commitments disabled")
	}

	sessionService := services.NewSessionService(deps, notifier, archiver, cfg.ReportS3Prefix)
	defer sessionService.Wait()

	// Another instance changed a session: drop our cached copy.
	hub.OnRemote(func(sessionID uint, _ string) { sessionService.Invalidate(sessionID) })
	if subscriber != nil {
		stopRelay, err := hub.StartRelay(subscriber)
		if err != nil {
			slog.Error("failed to start room relay", "err", err)
			os.Exit(1)
		}
		defer stopRelay()
	}
	hub.StartReaper(cfg.HeartbeatTimeout)

	router := handlers.NewRouter(handlers.RouterConfig{
		Auth:          services.NewAuthService(cfg.JWTSecret),
		Sessions:      sessionService,
		Progress:      services.NewProgressService(deps),
		Claims:        services.NewClaimService(deps, taskService),
		Hub:           hub,
		ServiceAPIKey: cfg.ServiceAPIKey,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("server starting", "port", cfg.ServerPort, "store", cfg.StoreDriver, "instance", hub.InstanceID())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "err", err)
	}
}

func openStore(cfg *config.Config) (store.Store, directory.Directory, error) {
	if cfg.StoreDriver == "memory" {
		dir := directory.NewStatic()
		if cfg.DirectoryFile != "" {
			loaded, err := directory.LoadStatic(cfg.DirectoryFile)
			if err != nil {
				return nil, nil, err
			}
			dir = loaded
		} else {
			slog.Warn("memory store without DIRECTORY_FILE: no family has members")
		}
		return memory.New(), dir, nil
	}

	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, nil, err
	}
	return gormstore.New(db), directory.NewGormDirectory(db), nil
}
