package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/timeseal/timeseal-go/internal/config"
	"github.com/timeseal/timeseal-go/internal/handler"
	"github.com/timeseal/timeseal-go/internal/middleware"
	"github.com/timeseal/timeseal-go/internal/repository"
	"github.com/timeseal/timeseal-go/internal/service"
	"github.com/timeseal/timeseal-go/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}

	cfg := config.Load()

	db, err := repository.NewDB(cfg.DatabaseDSN)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Attachment uploads degrade gracefully when the blob store is down;
	// sealing and unlocking do not depend on it.
	blobs, err := storage.NewS3Storage(context.Background(), cfg.S3Bucket, cfg.S3Region, cfg.S3Endpoint)
	if err != nil {
		slog.Warn("blob store unavailable — attachment uploads disabled", "error", err)
		blobs = nil
	}

	userRepo := repository.NewUserRepository(db)
	authService := service.NewAuthService(userRepo, cfg.JWTSecret, cfg.JWTExpiry)
	authHandler := handler.NewAuthHandler(authService)

	capsuleRepo := repository.NewCapsuleRepository(db)
	capsuleService := service.NewCapsuleService(capsuleRepo, cfg.CapsuleQuota, cfg.GeofenceToleranceM)
	capsuleHandler := handler.NewCapsuleHandler(capsuleService, blobs)

	r := chi.NewRouter()
	r.Use(middleware.Logger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/api/v1/stats", capsuleHandler.HandleStats)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(5, 10))
		r.Post("/api/v1/auth/register", authHandler.HandleRegister)
		r.Post("/api/v1/auth/login", authHandler.HandleLogin)

		// Public unlock by sealer email; a 6-digit code is a brute-force
		// surface, so it shares the strict limiter.
		r.Post("/api/v1/unlock", capsuleHandler.HandleUnlockByEmail)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.JWTAuth(cfg.JWTSecret))
		r.Get("/api/v1/auth/me", authHandler.HandleMe)

		r.Post("/api/v1/capsules", capsuleHandler.HandleSeal)
		r.Get("/api/v1/capsules", capsuleHandler.HandleList)
		r.Get("/api/v1/capsules/{capsule_id}", capsuleHandler.HandleGet)
		r.Patch("/api/v1/capsules/{capsule_id}", capsuleHandler.HandleRename)
		r.Delete("/api/v1/capsules/{capsule_id}", capsuleHandler.HandleDelete)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(5, 10))
			r.Post("/api/v1/capsules/{capsule_id}/unlock", capsuleHandler.HandleUnlock)
		})

		if blobs != nil {
			attachmentHandler := handler.NewAttachmentHandler(blobs)
			r.Post("/api/v1/attachments", attachmentHandler.HandleUpload)
		}
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		slog.Info("server starting", "port", cfg.Port, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}
