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

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/legal-qa-backend-go/internal/config"
	"github.com/legal-qa-backend-go/internal/handlers"
	"github.com/legal-qa-backend-go/internal/i18n"
	"github.com/legal-qa-backend-go/internal/middleware"
	"github.com/legal-qa-backend-go/internal/services/cache"
	"github.com/legal-qa-backend-go/internal/services/conversation"
	"github.com/legal-qa-backend-go/internal/services/counter"
	"github.com/legal-qa-backend-go/internal/services/provider"
	"github.com/legal-qa-backend-go/internal/services/quota"
	"github.com/legal-qa-backend-go/internal/services/storage"
	"github.com/legal-qa-backend-go/pkg/logger"
	"github.com/sirupsen/logrus"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	// Load .env file if exists
	if err := godotenv.Load(*envFile); err != nil {
		// It's okay if .env doesn't exist
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting legal Q&A backend...")

	// Initialize the shared counter store and answer cache backends
	var redisClient *redis.Client
	var counterStore counter.Store
	if cfg.Storage.Type == "redis" {
		redisClient, err = storage.NewRedisClient(&cfg.Storage.Redis, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to Redis")
		}
		counterStore = counter.NewRedisStore(redisClient)
	} else {
		counterStore = counter.NewMemoryStore()
	}

	cacheService := cache.New(cfg, redisClient, log)

	// Initialize quota tracker
	quotaTracker := quota.NewTracker(&cfg.Quota, counterStore, log)

	// Initialize completion provider
	providerService := provider.NewOpenAIProvider(&cfg.Provider, log)
	if cfg.Provider.APIKey == "" {
		log.Warn("Provider API key not configured, completions will fail")
	}

	// Initialize conversation store and recorder
	conversationStore, err := conversation.NewStore(cfg.Conversation.DBPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to open conversation store")
	}
	defer conversationStore.Close()

	// Initialize metrics
	metrics := middleware.NewMetrics()

	recorder := conversation.NewRecorder(conversationStore, cfg.Conversation.RecordTimeout, metrics, log)

	// Initialize rate limiter
	rateLimiter := middleware.NewRateLimiter(&cfg.RateLimit, counterStore, metrics, log)

	// Initialize i18n
	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize i18n")
	}

	// Initialize handlers
	answerHandler := handlers.NewAnswerHandler(
		cfg,
		providerService,
		cacheService,
		quotaTracker,
		recorder,
		rateLimiter,
		localizer,
		metrics,
		log,
	)
	sessionHandler := handlers.NewSessionHandler(conversationStore, log)

	// Build router
	router := mux.NewRouter()
	router.Use(middleware.CORS(cfg.Server.AllowedOrigin))
	router.Use(middleware.ResolveIdentity)
	router.Use(middleware.RequestLogging(log))

	router.HandleFunc("/api/ask", answerHandler.HandleAsk).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/sessions", sessionHandler.HandleList).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/sessions/{id}/messages", sessionHandler.HandleMessages).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/sessions/{id}/export", sessionHandler.HandleExport).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/sessions/{id}", sessionHandler.HandleRename).Methods("PATCH", "OPTIONS")
	router.HandleFunc("/api/sessions/{id}", sessionHandler.HandleDelete).Methods("DELETE", "OPTIONS")

	// Start metrics server if enabled
	if cfg.Monitoring.Metrics.Enabled {
		go func() {
			log.WithFields(logrus.Fields{
				"port": cfg.Monitoring.Metrics.Port,
				"path": cfg.Monitoring.Metrics.Path,
			}).Info("Starting metrics server")

			if err := middleware.StartMetricsServer(cfg.Monitoring.Metrics.Port, cfg.Monitoring.Metrics.Path); err != nil {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.WithField("port", cfg.Server.Port).Info("API server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("API server failed")
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	log.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Failed to shut down API server")
	}

	// Drain in-flight conversation recordings before closing the store
	recorder.Wait()

	log.Info("Server stopped")
}
