package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alfredjeanlab/lotgate/internal/config"
	"github.com/alfredjeanlab/lotgate/internal/serial"
	"github.com/alfredjeanlab/lotgate/internal/uplink"
	"github.com/spf13/cobra"
)

var uplinkCmd = &cobra.Command{
	Use:   "uplink",
	Short: "Bridge a controller's serial link to the authorization service",
	Long: `Run the companion side of the serial link on its own.

CARD lines are looked up at LOT_SERVICE_URL and answered with USER and
CHECKING-RESULT lines; STATE lines are forwarded as parking slot updates.`,
	GroupID:           "services",
	PersistentPreRunE: skipClient,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if s, _ := cmd.Flags().GetString("link"); s != "" {
			cfg.Link = s
		}
		if n, _ := cmd.Flags().GetInt("baud"); n > 0 {
			cfg.LinkBaud = n
		}
		if s, _ := cmd.Flags().GetString("service"); s != "" {
			cfg.ServiceURL = s
		}
		if cfg.Link == "" {
			return fmt.Errorf("%w: uplink needs a link (--link or LOT_LINK)", config.ErrInvalid)
		}
		logger := newLogger(cfg.LogLevel)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		link, err := serial.Open(ctx, cfg.Link, cfg.LinkBaud)
		if err != nil {
			return err
		}
		context.AfterFunc(ctx, func() { link.Close() })

		bridge := uplink.New(uplink.Config{
			Link:       link,
			ServiceURL: cfg.ServiceURL,
			Logger:     logger,
		})
		logger.Info("uplink started", "link", cfg.Link, "service_url", cfg.ServiceURL)

		err = bridge.Run(ctx)
		st := bridge.Stats()
		logger.Info("uplink stopped",
			"cards", st.Cards,
			"granted", st.Granted,
			"denied", st.Denied,
			"failed", st.Failed,
			"states", st.States,
		)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	uplinkCmd.Flags().String("link", "", "serial link (device path, tcp://host:port or listen://host:port); overrides LOT_LINK")
	uplinkCmd.Flags().Int("baud", 0, "baud rate for a device link; overrides LOT_LINK_BAUD")
	uplinkCmd.Flags().String("service", "", "authorization service URL; overrides LOT_SERVICE_URL")
}
