package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/weber8thomas/claude-hands-free/internal/app"
	"github.com/weber8thomas/claude-hands-free/internal/config"
	"github.com/weber8thomas/claude-hands-free/internal/httpapi"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx := context.Background()
	svc, cleanup, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("service init failed: %v", err)
	}
	defer func() {
		if err := cleanup(); err != nil {
			log.Printf("cleanup: %v", err)
		}
	}()

	api := httpapi.New(cfg, svc)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	svc.Sessions().StartJanitor(runCtx, cfg.SessionJanitorInterval)
	svc.Broker().StartReaper(runCtx, cfg.VoiceReapInterval)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
