package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/altiusproxy/slurmgate/internal/api"
	"github.com/altiusproxy/slurmgate/internal/config"
	"github.com/altiusproxy/slurmgate/internal/job"
	"github.com/altiusproxy/slurmgate/internal/notify"
	"github.com/altiusproxy/slurmgate/internal/reconciler"
	"github.com/altiusproxy/slurmgate/internal/registration"
	"github.com/altiusproxy/slurmgate/internal/registry"
	"github.com/altiusproxy/slurmgate/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := job.NewMongoStore(ctx, cfg.MongoDBURI)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer store.Close(context.Background())

	sched, err := scheduler.NewSSHClient(cfg.SSHHostname, cfg.SSHUsername, cfg.SSHKeyPath)
	if err != nil {
		log.Fatalf("scheduler client: %v", err)
	}

	reg, err := registry.Load(cfg.TaskRegistryPath)
	if err != nil {
		log.Fatalf("task registry: %v", err)
	}

	notifier := notify.NewAMQPNotifier(cfg.RabbitMQURL(), "slurmgate.job-notifications")
	defer notifier.Close()

	registrar := registration.New(store, sched, reg, notifier)
	recon := reconciler.New(store, sched, reg, notifier)
	recon.Start(ctx, cfg.MonitorPollingInterval)

	mux := http.NewServeMux()
	h := api.NewHandler(store, sched, reg, registrar)
	h.RegisterRoutes(mux)

	handler := api.LoggingMiddleware(
		api.RequestIDMiddleware(
			api.AuthMiddleware(cfg.APIKeys,
				api.RateLimit(cfg.RateLimit)(mux),
			),
		),
	)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("shutting down...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}()

	log.Printf("%s listening on %s", cfg.AppName, cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
