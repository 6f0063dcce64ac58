package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nordkyn/authcore/internal/account"
	"github.com/nordkyn/authcore/internal/api"
	"github.com/nordkyn/authcore/internal/config"
	"github.com/nordkyn/authcore/internal/database"
	"github.com/nordkyn/authcore/internal/jobs"
	"github.com/nordkyn/authcore/internal/mailer"
	"github.com/nordkyn/authcore/internal/oauth"
	"github.com/nordkyn/authcore/internal/otp"
	"github.com/nordkyn/authcore/internal/session"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get database connection: %v", err)
	}
	defer sqlDB.Close()

	// Run migrations
	if err := database.RunMigrations(cfg.Database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Core services
	resolver := account.NewResolver(db)
	limiter := otp.NewRateLimiter(db, cfg.OTP)
	otpService := otp.NewService(db, limiter, resolver, cfg.OTP)
	issuer := session.NewIssuer(cfg.Cookies, cfg.JWTSecret, cfg.Session)

	var sender mailer.Sender = mailer.LogSender{}
	if cfg.SMTP != nil {
		sender = mailer.NewSMTPSender(cfg.SMTP)
	}

	// Federated login client (optional)
	var oauthClient *oauth.Client
	if cfg.Vipps != nil && cfg.Vipps.Enabled {
		oauthClient, err = oauth.NewClient(cfg.Vipps)
		if err != nil {
			log.Fatalf("Failed to initialize federated login client: %v", err)
		}
	}

	// Background jobs
	scheduler := jobs.NewScheduler(otpService)
	scheduler.Start()
	defer scheduler.Stop()

	// Setup API router
	router := api.NewRouter(cfg, otpService, oauthClient, issuer, resolver, sender)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on port %d", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
