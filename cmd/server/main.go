// Package main is the entry point for the chat web server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/JeremySu0818/GeminiAPIChat/internal/config"
	"github.com/JeremySu0818/GeminiAPIChat/internal/handler"
	"github.com/JeremySu0818/GeminiAPIChat/internal/keypool"
	"github.com/JeremySu0818/GeminiAPIChat/internal/llm"
	"github.com/JeremySu0818/GeminiAPIChat/internal/middleware"
	"github.com/JeremySu0818/GeminiAPIChat/internal/modelscan"
	"github.com/JeremySu0818/GeminiAPIChat/internal/service"
	"github.com/JeremySu0818/GeminiAPIChat/internal/store"
	"github.com/JeremySu0818/GeminiAPIChat/internal/web"
	"github.com/JeremySu0818/GeminiAPIChat/pkg/logger"
	"github.com/JeremySu0818/GeminiAPIChat/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting chat server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "gemini-api-chat", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Data directory holds the database and the model cache files
	if err := os.MkdirAll(cfg.AppDir, 0o755); err != nil {
		log.Error("failed to create data directory", zap.String("dir", cfg.AppDir), zap.Error(err))
		os.Exit(1)
	}

	// Open the database
	st, err := store.Open(filepath.Join(cfg.AppDir, "chat_data.db"))
	if err != nil {
		log.Error("failed to open database", zap.Error(err))
		os.Exit(1)
	}
	defer st.Close()

	// Build the provider client source over the key pool
	keys := cfg.APIKeys()
	if len(keys) == 0 {
		log.Error("no API keys configured", zap.String("provider", cfg.Provider))
		os.Exit(1)
	}
	pool := keypool.New(keys, log)
	source := llm.NewSource(llm.Provider(cfg.Provider), pool)

	// Model availability scanner
	scanner := modelscan.New(cfg.AppDir, source, cfg.DefaultModel, cfg.ProbeTimeout, log)

	// Chat orchestration
	chatSvc := service.NewChatService(st, source, scanner, cfg.SystemPrompt, cfg.HistoryLimit, cfg.LLMTimeout, log)

	// Sessions and rendering
	sessions := middleware.NewSessionManager(cfg.SessionSecret, cfg.SessionTTL)
	renderer, err := web.NewRenderer(log)
	if err != nil {
		log.Error("failed to parse templates", zap.Error(err))
		os.Exit(1)
	}

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(st)
	authHandler := handler.NewAuthHandler(st, sessions, renderer, log)
	pageHandler := handler.NewPageHandler(st, scanner, sessions, renderer, log)
	chatHandler := handler.NewChatHandler(chatSvc, st, renderer, log)
	conversationHandler := handler.NewConversationHandler(st, sessions, renderer, log)
	modelHandler := handler.NewModelHandler(scanner)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{handler.NewTitleHeader, "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public endpoints
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/static/*", http.StripPrefix("/static/", web.Static()))
	r.Get("/login", authHandler.LoginForm)
	r.Post("/login", authHandler.LoginSubmit)
	r.Get("/logout", authHandler.Logout)
	r.Get("/api/models/status", modelHandler.Status)

	// Signed-in routes
	r.Group(func(r chi.Router) {
		r.Use(sessions.RequireUser)
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Get("/", pageHandler.Index)
		r.Post("/chat", chatHandler.Send)
		r.Get("/reset", conversationHandler.Reset)

		r.Get("/conversations", conversationHandler.List)
		r.Post("/conversation", conversationHandler.Create)
		r.Route("/conversation/{id}", func(r chi.Router) {
			r.Get("/", conversationHandler.Show)
			r.Delete("/", conversationHandler.Delete)
			r.Post("/rename", conversationHandler.Rename)
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
