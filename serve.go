// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/casblasvic/weekly-calendar-sub018/auth"
	"github.com/casblasvic/weekly-calendar-sub018/cliparse"
	"github.com/casblasvic/weekly-calendar-sub018/db"
	"github.com/casblasvic/weekly-calendar-sub018/energy"
	"github.com/casblasvic/weekly-calendar-sub018/logging"
	"github.com/casblasvic/weekly-calendar-sub018/maintenance"
	"github.com/casblasvic/weekly-calendar-sub018/middleware"
	"github.com/casblasvic/weekly-calendar-sub018/realtime"
	"github.com/casblasvic/weekly-calendar-sub018/router"
	"github.com/casblasvic/weekly-calendar-sub018/shelly"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := cliparse.LoadFlags(cmd.Flags())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

// serve runs until ctx is cancelled, then shuts every component down in
// dependency order: HTTP first, then jobs, plugs and browser sockets.
func serve(ctx context.Context, cfg cliparse.Config) error {
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer log.Sync()
	zap.ReplaceGlobals(log.Underlying())

	conn, err := db.Open(cfg.DatabaseType, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := db.CreateSchema(conn); err != nil {
		return fmt.Errorf("schema creation failed: %w", err)
	}
	log.Info(ctx, "database schema ready", zap.String("db.type", cfg.DatabaseType))

	key, err := cfg.EncryptionKeyBytes()
	if err != nil {
		return err
	}

	hub := realtime.NewHub(log)
	pub := realtime.MultiPublisher{hub}
	if cfg.NATSURL != "" {
		nc, err := realtime.ConnectNATS(cfg.NATSURL, log)
		if err != nil {
			return err
		}
		defer nc.Drain()
		pub = append(pub, realtime.NewNATSPublisher(nc))
		log.Info(ctx, "mirroring events to nats", zap.String("url", cfg.NATSURL))
	}

	store := shelly.NewSQLStore(conn, auth.NewSealer(key))
	manager := shelly.NewManager(store, shelly.NewCloudClient(nil), pub, log, shelly.Options{
		ReconnectDelay: cfg.ShellyReconnectDelay,
		RateLimit:      cfg.ShellyRateLimit,
		QueueSize:      cfg.ShellyQueueSize,
		Port:           cfg.ShellyWSPort,
	})
	energySvc := energy.NewService(conn, log)

	scheduler, err := maintenance.New(maintenance.Config{
		DB:        conn,
		Zombies:   manager,
		Energy:    energySvc,
		Schedule:  cfg.MaintenanceSchedule,
		Retention: cfg.ConnectionRetention,
	}, log)
	if err != nil {
		return err
	}

	mux := router.NewRouter(conn, cfg, router.Deps{
		Log:    log,
		Hub:    hub,
		Pub:    pub,
		Store:  store,
		Shelly: manager,
		Energy: energySvc,
	})
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           middleware.CORS(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info(gctx, "listening", zap.Int("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		// Rows left connected by a previous process have no socket behind them
		if n, err := manager.CleanupZombieConnections(gctx); err != nil {
			log.Warn(gctx, "zombie cleanup failed", zap.Error(err))
		} else if n > 0 {
			log.Info(gctx, "reset stale connections", zap.Int("count", n))
		}
		n, err := manager.StartAll(gctx)
		if err != nil {
			log.Warn(gctx, "failed to start shelly connections", zap.Error(err))
			return nil
		}
		log.Info(gctx, "shelly connections started", zap.Int("count", n))
		return nil
	})

	scheduler.Start()

	g.Go(func() error {
		<-gctx.Done()
		log.Info(context.Background(), "shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		err := server.Shutdown(shutdownCtx)
		scheduler.Stop()
		mux.Wait()
		manager.Close(shutdownCtx)
		hub.Close()
		if err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error(context.Background(), "server stopped", zap.Error(err))
		return err
	}
	log.Info(context.Background(), "server stopped")
	return nil
}
