package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/pillbox/internal/auth"
	"github.com/dukerupert/pillbox/internal/config"
	"github.com/dukerupert/pillbox/internal/database"
	"github.com/dukerupert/pillbox/internal/logging"
	"github.com/dukerupert/pillbox/internal/push"
	"github.com/dukerupert/pillbox/internal/server"
	"github.com/dukerupert/pillbox/internal/store"
)

const usage = `usage:
  pillbox [serve]          run the reminder service
  pillbox apikey <userId>  issue (or rotate) the API key for a user
  pillbox vapid            generate a VAPID key pair for web push`

func main() {
	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	var err error
	switch cmd {
	case "serve":
		err = serve()
	case "apikey":
		if len(os.Args) != 3 {
			fmt.Fprintln(os.Stderr, usage)
			os.Exit(2)
		}
		err = issueKey(os.Args[2])
	case "vapid":
		err = generateVAPID()
	case "-h", "--help", "help":
		fmt.Println(usage)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		slog.Error(cmd+" failed", "error", err)
		os.Exit(1)
	}
}

func serve() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	if cfg.VAPIDPublicKey == "" && cfg.VAPIDPrivateKey == "" {
		pub, priv, err := push.GenerateVAPIDKeys()
		if err != nil {
			return err
		}
		cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey = pub, priv
		logger.Warn("generated ephemeral VAPID keys; set PILLBOX_VAPID_PUBLIC_KEY and PILLBOX_VAPID_PRIVATE_KEY to keep subscriptions across restarts",
			"public_key", pub)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger.Info("configuration loaded", "config", cfg)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	srv, err := server.New(db, cfg, server.Options{}, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv.Start(ctx)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Background cleanup goroutine
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := srv.RateLimiter().Cleanup(); n > 0 {
					logger.Debug("cleaned up rate limiter entries", "count", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("pillbox starting", "addr", httpServer.Addr, "base_url", cfg.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		srv.Stop()
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	srv.Stop()
	logger.Info("stopped")
	return nil
}

func issueKey(userID string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	if !auth.NewAllowlist(cfg.AuthorizedUsers).Contains(userID) {
		logger.Warn("user is not in PILLBOX_AUTHORIZED_USERS; the key will be rejected until they are added", "user_id", userID)
	}

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	key, hash, err := auth.GenerateKey(userID)
	if err != nil {
		return err
	}
	if err := store.NewAPIKeyStore(db).Set(userID, hash); err != nil {
		return err
	}

	fmt.Println(key)
	return nil
}

func generateVAPID() error {
	pub, priv, err := push.GenerateVAPIDKeys()
	if err != nil {
		return err
	}
	fmt.Printf("PILLBOX_VAPID_PUBLIC_KEY=%s\nPILLBOX_VAPID_PRIVATE_KEY=%s\n", pub, priv)
	return nil
}
