// Command lookout runs the endpoint monitoring engine: the scheduling loop,
// worker pool, health circuit breaker, outage notification pipeline, and
// the operational HTTP surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lookout-hq/lookout/monitor/config"
	"github.com/lookout-hq/lookout/monitor/email"
	"github.com/lookout-hq/lookout/monitor/logging"
	"github.com/lookout-hq/lookout/monitor/notification"
	"github.com/lookout-hq/lookout/monitor/scheduler"
	"github.com/lookout-hq/lookout/monitor/store"
)

var version = "dev"

const shutdownGrace = 30 * time.Second

func main() {
	root := &cobra.Command{
		Use:           "lookout",
		Short:         "HTTP endpoint uptime monitoring engine",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("lookout {{.Version}}\n")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the monitoring engine",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(*cobra.Command, []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("LOOKOUT_DATABASE_URL is required")
			}
			return store.Migrate(cfg.DatabaseURL)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("LOOKOUT_DATABASE_URL is required")
	}

	logging.Init(logging.Config{Level: cfg.LogLevel, JSON: cfg.LogJSON, File: cfg.LogFile})
	instanceID := uuid.NewString()[:8]
	logging.Logger = logging.Logger.With().Str("instance", instanceID).Logger()
	log := logging.Component("main")
	log.Info().Str("version", version).Msg("starting lookout")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}

	var st store.Store = pg
	if cfg.RedisAddr != "" {
		cache, err := store.NewRedisCache(pg, cfg.RedisAddr)
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable, running without read cache")
		} else {
			st = cache
			log.Info().Str("addr", cfg.RedisAddr).Msg("redis read cache enabled")
		}
	}
	defer st.Close()

	var provider email.Provider
	if cfg.BrevoAPIKey != "" && cfg.SenderEmail != "" {
		provider = email.NewBrevo(cfg.BrevoAPIKey, cfg.SenderEmail, cfg.SenderName, logging.Component("email"))
	} else {
		provider = email.NewDisabled(logging.Component("email"))
	}

	coordinator := notification.NewCoordinator(st, provider, cfg.DashboardBaseURL, logging.Component("coordinator"))
	trigger := notification.NewTrigger(st, coordinator, logging.Component("trigger"))

	manager := scheduler.NewManager(cfg, st, trigger, logging.Component("scheduler"))
	if err := manager.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing scheduler: %w", err)
	}
	if cfg.SchedulerEnabled {
		if err := manager.Start(); err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}
		go coordinator.Run(ctx)
	} else {
		log.Warn().Msg("scheduler disabled by configuration")
	}

	hub := NewStatusHub(manager, logging.Component("ws"))
	go hub.Run(ctx)

	api := NewAPI(manager, hub, logging.Component("api"))
	mux := http.NewServeMux()
	api.Routes(mux)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("ops API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("ops API: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("ops API shutdown")
	}
	manager.Stop(shutdownGrace)
	log.Info().Msg("lookout stopped")
	return nil
}
