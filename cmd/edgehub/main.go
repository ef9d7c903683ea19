package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/relaypos/edgehub/internal/auth"
	"github.com/relaypos/edgehub/internal/cloud"
	"github.com/relaypos/edgehub/internal/config"
	"github.com/relaypos/edgehub/internal/httpapi"
	"github.com/relaypos/edgehub/internal/outbox"
	"github.com/relaypos/edgehub/internal/pull"
	"github.com/relaypos/edgehub/internal/push"
	"github.com/relaypos/edgehub/internal/realtime"
	"github.com/relaypos/edgehub/internal/store"
)

func main() {
	// .env is optional; real deployments set variables in the service unit.
	_ = godotenv.Load()

	cfg, err := config.Load(config.FilePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}
	vals := cfg.Snapshot()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if vals.Env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	log.Logger = log.With().Str("service", "edgehub").Logger()

	st, err := store.Open(vals.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", vals.DBPath).Msg("database open failed")
	}

	queue := outbox.New(st)
	cloudClient := cloud.New(cfg)
	hub := realtime.NewHub()
	authn := auth.NewAuthenticator(st)
	pushEngine := push.New(st, queue, cloudClient, vals.PushInterval, vals.PushBatchSize)
	pullEngine := pull.New(st, cloudClient, vals.PullInterval)

	srv := &httpapi.Server{
		Store: st,
		Cfg:   cfg,
		Cloud: cloudClient,
		Queue: queue,
		Auth:  authn,
		Hub:   hub,
		Push:  pushEngine,
		Pull:  pullEngine,
	}

	ctx, cancel := context.WithCancel(context.Background())

	go pushEngine.Run(ctx)
	go pullEngine.Run(ctx)
	go heartbeatLoop(ctx, cfg, cloudClient, st, queue)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", vals.Port),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info().Int("port", vals.Port).Bool("paired", cfg.IsPaired()).Msg("edge hub listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	cancel()
	hub.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}

	if err := st.Checkpoint(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("wal checkpoint failed")
	}
	if err := st.Close(); err != nil {
		log.Error().Err(err).Msg("database close failed")
	}
}

// heartbeatLoop reports terminal and queue depth to the cloud. A missed
// heartbeat is logged and retried on the next tick; the hub keeps serving.
func heartbeatLoop(ctx context.Context, cfg *config.Config, c *cloud.Client, st *store.Store, q *outbox.Queue) {
	interval := cfg.Snapshot().HeartbeatInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.IsConfigured() {
				continue
			}
			var terminals int
			if err := st.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM terminals WHERE status = 'ONLINE'`).Scan(&terminals); err != nil {
				log.Warn().Err(err).Msg("terminal count query failed")
			}
			pending, _ := q.PendingCount(ctx)
			if err := c.Heartbeat(ctx, terminals, pending); err != nil {
				log.Warn().Err(err).Msg("heartbeat failed")
			}
		}
	}
}
