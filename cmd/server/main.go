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

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/SameeranB/ii-client/internal/config"
	"github.com/SameeranB/ii-client/internal/database"
	"github.com/SameeranB/ii-client/internal/handler"
	"github.com/SameeranB/ii-client/internal/logfile"
	"github.com/SameeranB/ii-client/internal/logging"
	"github.com/SameeranB/ii-client/internal/store"
	"github.com/SameeranB/ii-client/internal/version"
	"github.com/SameeranB/ii-client/internal/watcher"
)

func main() {
	// Load .env file if present
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if cfg.LogFile != "" {
		if err := logfile.Truncate(cfg.LogFile); err != nil {
			log.Printf("Warning: could not truncate log file: %v", err)
		}
		// Desktop backends have no terminal; capture stray stdout and
		// stderr writes (including subprocess output) in the log file.
		if err := logfile.RedirectStdoutStderr(cfg.LogFile); err != nil {
			log.Printf("Warning: could not redirect output to log file: %v", err)
		}
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("backend starting",
		zap.String("version", version.Get()),
		zap.Int("port", cfg.Port))

	db, err := database.New(cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	s := store.New(db.DB)

	h, err := handler.New(cfg, s, logger)
	if err != nil {
		logger.Fatal("failed to create handlers", zap.Error(err))
	}

	// Pick up logins performed by the CLI outside this process.
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	w := watcher.New(cfg.CredentialsFile, logger)
	go func() {
		if err := w.Run(watchCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("credentials watcher stopped", zap.Error(err))
		}
	}()
	go func() {
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-w.Changes():
				h.AdoptSystemCredentials(watchCtx)
			}
		}
	}()

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"status":"ok","version":%q}`, version.Get())
	})

	h.Routes(r)

	srv := &http.Server{
		// Loopback only: the backend serves the local desktop shell,
		// never the network.
		Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	stopWatch()
	h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
