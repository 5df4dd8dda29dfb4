package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pdfchat/internal/api"
	"pdfchat/internal/auth"
	"pdfchat/internal/config"
	"pdfchat/internal/events"
	"pdfchat/internal/logging"
	"pdfchat/internal/qa"
	"pdfchat/internal/redis"
	"pdfchat/internal/service/chat"
	"pdfchat/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

func main() {
	config.LoadEnvFile()
	if err := run(os.Getenv("PDFCHAT_CONFIG")); err != nil {
		log.Fatalf("pdfchat: %v", err)
	}
}

// run wires the service and serves until SIGINT/SIGTERM. Setup failures are
// returned so that deferred cleanup still runs.
func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	logger.Info("opening store", zap.String("store", cfg.BasicConfig.Store))
	backend, err := storage.Connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer backend.Close(context.Background())

	var store chat.Store = backend
	probes := []api.Probe{{Name: "store", Check: backend.Ping}}

	if cfg.Redis.Enabled {
		rdb, err := redis.NewRedisClient(cfg)
		if err != nil {
			return fmt.Errorf("create redis client: %w", err)
		}
		defer rdb.Close()
		cached := chat.NewCachedStore(backend, rdb, logger)
		store = cached
		probes = append(probes, api.Probe{Name: "cache", Check: cached.PingCache, Optional: true})
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Events.RabbitMQURL != "" {
		p, err := events.NewRabbitMQPublisher(cfg.Events.RabbitMQURL, cfg.Events.Queue, logger)
		if err != nil {
			return fmt.Errorf("create event publisher: %w", err)
		}
		publisher = p
	}
	defer publisher.Close()

	if cfg.QA.BaseURL != "" {
		qaClient := qa.NewClient(cfg.QA.BaseURL, time.Duration(cfg.QA.TimeoutSeconds)*time.Second)
		probes = append(probes, api.Probe{
			Name:     "qa",
			Optional: true,
			Check: func(ctx context.Context) error {
				_, err := qaClient.Health(ctx)
				return err
			},
		})
	}

	chatService := chat.NewService(store, publisher, logger)
	authService := auth.NewService(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenTTLMinutes)*time.Minute)
	handlers := api.NewHandler(chatService, authService, api.NewHealthChecker(probes...), logger)

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(logging.GinLogger(logger), logging.GinRecovery(logger))
	handlers.RegisterRoutes(router)

	corsHandler := cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	server := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           corsHandler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("server forced to shutdown", zap.Error(err))
		}
	}()

	logger.Info("server listening", zap.String("addr", server.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
