package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alfredjeanlab/lotgate/internal/authsvc"
	"github.com/alfredjeanlab/lotgate/internal/config"
	"github.com/spf13/cobra"
)

var authsvcCmd = &cobra.Command{
	Use:               "authsvc",
	Short:             "Run the development authorization service",
	GroupID:           "services",
	PersistentPreRunE: skipClient,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if s, _ := cmd.Flags().GetString("addr"); s != "" {
			cfg.AuthsvcAddr = s
		}
		logger := newLogger(cfg.LogLevel)

		svc := authsvc.New(authsvc.Config{
			Accounts: cfg.Topology.Accounts(),
			Logger:   logger,
		})
		httpServer := &http.Server{
			Addr:              cfg.AuthsvcAddr,
			Handler:           svc.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			logger.Info("authsvc listening", "addr", cfg.AuthsvcAddr, "cards", len(cfg.Topology.Cards))
			errCh <- httpServer.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("authsvc shutdown error", "err", err)
		}
		logger.Info("authsvc stopped")
		return nil
	},
}

func init() {
	authsvcCmd.Flags().String("addr", "", "listen address; overrides LOT_AUTHSVC_ADDR")
}
