package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"ctchen222/otaku-list/internal/api/controller"
	"ctchen222/otaku-list/internal/api/repository"
	"ctchen222/otaku-list/internal/api/service"
	"ctchen222/otaku-list/internal/cache"
	"ctchen222/otaku-list/internal/catalog"
	"ctchen222/otaku-list/internal/config"
	"ctchen222/otaku-list/internal/db"
	"ctchen222/otaku-list/internal/events"
	"ctchen222/otaku-list/internal/logger"
	"ctchen222/otaku-list/internal/media"
	"ctchen222/otaku-list/internal/server"
	"ctchen222/otaku-list/internal/telemetry"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Initialize telemetry
	shutdown, err := telemetry.InitOtel(ctx, cfg.Telemetry)
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer func() {
		if err := shutdown(ctx); err != nil {
			log.Printf("Error shutting down telemetry: %v", err)
		}
	}()

	logg := logger.Init(cfg.Log.Level)
	gin.SetMode(gin.ReleaseMode)

	// Initialize SQLite DB
	DB, err := db.OpenAndMigrate(ctx, cfg.Database.Path)
	if err != nil {
		logg.Error("failed to initialize sqlite db", "error", err)
		os.Exit(1)
	}
	defer DB.Close()

	// Redis is optional; without it the cache stays in memory and list
	// events are dropped.
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = db.NewRedisClient(ctx, cfg.Redis.Addr)
		if err != nil {
			logg.Error("failed to initialize redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	store, closeStore, err := newCacheStore(cfg.Cache, rdb)
	if err != nil {
		logg.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer closeStore()
	responseCache := cache.New(store, cache.Options{
		WaitTimeout:    cfg.Cache.WaitTimeout,
		ComputeTimeout: cfg.Cache.ComputeTimeout,
	})

	mediaStore, err := media.New(ctx, cfg.Media)
	if err != nil {
		logg.Error("failed to initialize media store", "error", err)
		os.Exit(1)
	}

	// List changes are announced for other processes; this one does not
	// consume them.
	var publisher events.Publisher = events.NopPublisher{}
	if rdb != nil {
		publisher = events.NewRedisPublisher(rdb, events.ListChannel)
	}

	// Create repositories
	userRepo := repository.NewUserRepository(DB, cfg.Database.QueryTimeout)
	listRepo := repository.NewListRepository(DB, cfg.Database.QueryTimeout)

	// Create services
	authService := service.NewAuthService(userRepo, mediaStore)
	listService := service.NewListService(listRepo, publisher)
	proxy := catalog.NewProxy(catalog.NewClient(cfg.Catalog), responseCache, cfg.Cache)

	// Create the Gin-based server
	srv := server.NewServer(server.Deps{
		Logger:      logg,
		AuthService: authService,
		Users:       controller.NewUserController(authService, cfg.HTTP.MaxUploadBytes),
		Lists:       controller.NewListController(listService),
		Catalog:     controller.NewCatalogController(proxy),
		RateLimit:   cfg.RateLimit,
	})

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      srv.Engine(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		logg.Info("http server started", "addr", cfg.HTTP.Addr, "cache_backend", cfg.Cache.Backend, "media_enabled", mediaStore.Enabled())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error("ListenAndServe failed", "error", err)
			os.Exit(1)
		}
	}()

	<-stop

	logg.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logg.Error("Server forced to shutdown", "error", err)
	}

	logg.Info("Server exiting")
}

func newCacheStore(cfg config.CacheConfig, rdb *redis.Client) (cache.Store, func(), error) {
	switch cfg.Backend {
	case "redis":
		if rdb == nil {
			return nil, nil, errors.New("cache backend redis requires redis.addr")
		}
		return cache.NewRedisStore(rdb, ""), func() {}, nil
	default:
		mem := cache.NewMemoryStore(cfg.SweepInterval)
		return mem, func() { mem.Close() }, nil
	}
}
