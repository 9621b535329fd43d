package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alfredjeanlab/lotgate/internal/client"
	"github.com/alfredjeanlab/lotgate/internal/ui"
	"github.com/spf13/cobra"
)

var (
	httpURL    string
	grpcAddr   string
	authToken  string
	jsonOutput bool
	noColor    bool

	statusClient client.StatusClient
)

func defaultHTTPURL() string {
	if s := os.Getenv("LOT_HTTP_URL"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

func defaultGRPCAddr() string {
	if s := os.Getenv("LOT_GRPC_TARGET"); s != "" {
		return s
	}
	return "localhost:9090"
}

// newLogger builds the process logger and makes it the slog default.
func newLogger(level slog.Level) *slog.Logger {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// skipClient overrides the root PersistentPreRunE for commands that run a
// service instead of talking to one.
func skipClient(cmd *cobra.Command, args []string) error {
	if noColor {
		ui.ForceNoColor()
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:           "lotd <command>",
	Short:         "Two-gate parking lot controller",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor || !ui.ShouldUseColor() {
			ui.ForceNoColor()
		}
		statusClient = client.NewHTTPClient(httpURL, authToken)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if statusClient != nil {
			statusClient.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&httpURL, "http-url", defaultHTTPURL(), "lotd HTTP status API URL")
	rootCmd.PersistentFlags().StringVar(&grpcAddr, "grpc-addr", defaultGRPCAddr(), "lotd gRPC address")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", os.Getenv("LOT_AUTH_TOKEN"), "bearer token for the status API")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "services", Title: "Services:"},
		&cobra.Group{ID: "views", Title: "Views:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Services
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(uplinkCmd)
	rootCmd.AddCommand(authsvcCmd)

	// Views
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
