package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	router "github.com/dkeye/Conference/internal/adapters/http"
	"github.com/dkeye/Conference/internal/adapters/rtc"
	sig "github.com/dkeye/Conference/internal/adapters/signal"
	"github.com/dkeye/Conference/internal/app"
	"github.com/dkeye/Conference/internal/app/orch"
	"github.com/dkeye/Conference/internal/config"
	"github.com/dkeye/Conference/internal/core"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start media workers and the signaling server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, v, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			config.ApplyLogLevel(cfg.LogLevel)
			config.Watch(v)
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().String("config", "", "config file (default config/config.$CONFIG_ENV.yaml)")
	cmd.Flags().Int("port", 0, "listen port")
	cmd.Flags().String("log_level", "", "log level")
	return cmd
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ice := make([]webrtc.ICEServer, 0, len(cfg.Media.ICEServers))
	for _, u := range cfg.Media.ICEServers {
		ice = append(ice, webrtc.ICEServer{URLs: []string{u}})
	}
	workers, err := rtc.StartWorkers(ctx, cfg.Media.Workers, rtc.WorkerSettings{
		ICEServers:       ice,
		PortMin:          cfg.Media.PortMin,
		PortMax:          cfg.Media.PortMax,
		AnnouncedIPs:     cfg.Media.AnnouncedIPs,
		HandshakeTimeout: cfg.Media.HandshakeTimeout,
	})
	if err != nil {
		return fmt.Errorf("start media workers: %w", err)
	}
	pool := app.NewWorkerPool(toCore(workers)...)
	defer pool.Close()

	// A dead worker takes its rooms with it; exit and let the supervisor restart us.
	go pool.Supervise(ctx, func(w core.Worker, err error) {
		log.Fatal().Err(err).Int("worker", w.ID()).Msg("media worker died, exiting")
	})

	reg := app.NewRegistry()
	hub := sig.NewHub(reg, app.LobbyPolicy{})
	manager := app.NewRoomManager(app.RoomManagerOptions{
		Pool:             pool,
		Notifier:         hub,
		MaxActive:        cfg.MaxActiveSpeakers,
		ObserverInterval: cfg.ObserverInterval,
		Bitrates: core.Bitrates{
			MaxIncoming:     cfg.Media.MaxIncomingBitrate,
			InitialOutgoing: cfg.Media.InitialOutgoingBitrate,
		},
	})
	defer manager.Close()

	o := &orch.Orchestrator{
		Registry: reg,
		Rooms:    manager,
		Pusher:   hub,
		Timeout:  cfg.NegotiationTimeout,
	}
	ctl := sig.NewSignalWSController(o, hub, sig.NewRoomRateLimiter(cfg.ChatRateLimit, cfg.ChatRateInterval), sig.Options{
		ReadLimit:    cfg.ReadLimit,
		PongWait:     cfg.PongWait,
		PingInterval: cfg.PingPeriod,
		SendQueue:    cfg.SendQueue,
	})

	r := router.SetupRouter(ctx, cfg, router.Deps{Orch: o, Signal: ctl, Pool: pool})
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Int("workers", len(workers)).Msg("Conference server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		return fmt.Errorf("server error: %w", err)
	}
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}

func toCore(ws []*rtc.Worker) []core.Worker {
	out := make([]core.Worker, 0, len(ws))
	for _, w := range ws {
		out = append(out, w)
	}
	return out
}
