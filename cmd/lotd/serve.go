package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alfredjeanlab/lotgate/internal/authsvc"
	"github.com/alfredjeanlab/lotgate/internal/config"
	"github.com/alfredjeanlab/lotgate/internal/display"
	"github.com/alfredjeanlab/lotgate/internal/events"
	"github.com/alfredjeanlab/lotgate/internal/hw/sim"
	"github.com/alfredjeanlab/lotgate/internal/kernel"
	"github.com/alfredjeanlab/lotgate/internal/serial"
	"github.com/alfredjeanlab/lotgate/internal/server"
	"github.com/alfredjeanlab/lotgate/internal/uplink"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control kernel with its status API and gRPC health",
	Long: `Run the control kernel on the simulated board.

With LOT_LINK unset the serial link is an in-process pipe to an uplink bridge,
and a development authorization service is started on LOT_AUTHSVC_ADDR so the
whole card flow works on one machine. Sensors are driven from /v1/sim/ws.`,
	GroupID:           "services",
	PersistentPreRunE: skipClient,
	RunE: func(cmd *cobra.Command, args []string) error {
		terminal, _ := cmd.Flags().GetBool("terminal-display")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := newLogger(cfg.LogLevel)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// Create event publisher.
		var publisher events.Publisher
		if cfg.NATSURL != "" {
			pub, err := events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				return err
			}
			publisher = pub
			logger.Info("events enabled", "nats_url", cfg.NATSURL)
		} else {
			publisher = &events.NoopPublisher{}
			logger.Info("events disabled (LOT_NATS_URL not set)")
		}
		hub := server.NewHub()
		bus := events.Multi(publisher, hub)
		defer func() {
			if err := bus.Close(); err != nil {
				logger.Error("error closing publisher", "err", err)
			}
		}()

		board := sim.New(cfg.Topology.Slots)
		hwBoard := board.HW()
		if terminal {
			hwBoard.Display = display.NewTerminal(os.Stdout)
		}

		// Open the serial link, or run the companion side in-process.
		var link io.ReadWriteCloser
		var loop *loopback
		if cfg.Link != "" {
			logger.Info("waiting for serial link", "link", cfg.Link)
			link, err = serial.Open(ctx, cfg.Link, cfg.LinkBaud)
			if err != nil {
				return err
			}
		} else {
			var bridgeEnd io.ReadWriteCloser
			link, bridgeEnd = serial.Pipe()
			loop, err = startLoopback(ctx, cfg, bridgeEnd, logger)
			if err != nil {
				link.Close()
				bridgeEnd.Close()
				return err
			}
		}

		k, err := kernel.New(kernel.Config{
			Board:          hwBoard,
			Link:           link,
			Credentials:    cfg.Topology.Credentials(),
			PollInterval:   cfg.PollInterval,
			RenderInterval: cfg.RenderInterval,
			Dwell:          cfg.DwellCycles,
			ClaimQueue:     cfg.ClaimQueue,
			Publisher:      bus,
			Logger:         logger,
		})
		if err != nil {
			link.Close()
			if loop != nil {
				loop.stop(context.Background())
			}
			return err
		}
		k.Start(ctx)

		srv := server.New(server.Config{
			Kernel:    k,
			Hub:       hub,
			Board:     board,
			AuthToken: cfg.AuthToken,
			Logger:    logger,
		})

		// Start gRPC listener.
		grpcServer := srv.NewGRPCServer()
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			k.Stop()
			return err
		}
		go func() {
			logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC server error", "err", err)
			}
		}()
		go srv.SyncHealth(ctx)

		// Start HTTP server.
		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           srv.NewHTTPHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		logger.Info("lot controller started",
			"slots", cfg.Topology.Slots,
			"cards", len(cfg.Topology.Cards),
			"grpc_addr", cfg.GRPCAddr,
			"http_addr", cfg.HTTPAddr,
		)

		<-ctx.Done()
		logger.Info("shutting down")

		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		k.Stop()
		logger.Info("kernel stopped")

		if loop != nil {
			loop.stop(shutdownCtx)
			logger.Info("loopback uplink stopped")
		}

		logger.Info("shutdown complete")
		return nil
	},
}

// loopback is the companion side of an in-process link: an uplink bridge
// talking to a local authorization service.
type loopback struct {
	link    io.Closer
	authsvc *http.Server
	done    chan struct{}
}

func startLoopback(ctx context.Context, cfg *config.Config, bridgeEnd io.ReadWriteCloser, logger *slog.Logger) (*loopback, error) {
	svc := authsvc.New(authsvc.Config{
		Accounts: cfg.Topology.Accounts(),
		Logger:   logger.With("component", "authsvc"),
	})
	lis, err := net.Listen("tcp", cfg.AuthsvcAddr)
	if err != nil {
		return nil, fmt.Errorf("authsvc listen: %w", err)
	}
	l := &loopback{
		link:    bridgeEnd,
		authsvc: &http.Server{Handler: svc.Handler(), ReadHeaderTimeout: 10 * time.Second},
		done:    make(chan struct{}),
	}
	go func() {
		logger.Info("authsvc listening", "addr", lis.Addr().String())
		if err := l.authsvc.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("authsvc error", "err", err)
		}
	}()

	bridge := uplink.New(uplink.Config{
		Link:       bridgeEnd,
		ServiceURL: loopbackURL(lis.Addr()),
		Logger:     logger.With("component", "uplink"),
	})
	go func() {
		defer close(l.done)
		if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("uplink stopped", "err", err)
		}
	}()
	return l, nil
}

func (l *loopback) stop(ctx context.Context) {
	l.link.Close()
	<-l.done
	_ = l.authsvc.Shutdown(ctx)
}

// loopbackURL turns a listener address such as "[::]:8090" into a URL on
// the loopback interface.
func loopbackURL(addr net.Addr) string {
	port := "80"
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = fmt.Sprint(tcp.Port)
	} else if _, p, err := net.SplitHostPort(addr.String()); err == nil {
		port = p
	}
	return "http://" + net.JoinHostPort("127.0.0.1", port)
}

func init() {
	serveCmd.Flags().Bool("terminal-display", false, "print display frames to stdout instead of the sim panel")
}
