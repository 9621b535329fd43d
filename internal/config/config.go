package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrInvalid is wrapped by every validation error from Load.
var ErrInvalid = errors.New("invalid config")

type Config struct {
	HTTPAddr     string // LOT_HTTP_ADDR (default ":8080")
	GRPCAddr     string // LOT_GRPC_ADDR (default ":9090")
	NATSURL      string // LOT_NATS_URL (optional, empty = no events)
	AuthToken    string // LOT_AUTH_TOKEN (optional, empty = auth disabled)
	Link         string // LOT_LINK (empty = in-process simulated bridge)
	LinkBaud     int    // LOT_LINK_BAUD (default 9600, device links only)
	TopologyFile string // LOT_TOPOLOGY_FILE (optional, empty = built-in topology)

	// Uplink and development authorization service
	ServiceURL  string // LOT_SERVICE_URL (default "http://127.0.0.1:8090")
	AuthsvcAddr string // LOT_AUTHSVC_ADDR (default ":8090")

	// Kernel timing
	PollInterval   time.Duration // LOT_POLL_INTERVAL (default 20ms)
	RenderInterval time.Duration // LOT_RENDER_INTERVAL (default 50ms)
	DwellCycles    int           // LOT_DWELL_CYCLES (default 100)
	ClaimQueue     int           // LOT_CLAIM_QUEUE (default 8, must be > 1)

	LogLevel slog.Level // LOT_LOG_LEVEL (default info)

	Topology *Topology
}

// Load reads the environment, after loading a .env file from the working
// directory when one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	c := &Config{
		HTTPAddr:     envOrDefault("LOT_HTTP_ADDR", ":8080"),
		GRPCAddr:     envOrDefault("LOT_GRPC_ADDR", ":9090"),
		NATSURL:      os.Getenv("LOT_NATS_URL"),
		AuthToken:    os.Getenv("LOT_AUTH_TOKEN"),
		Link:         os.Getenv("LOT_LINK"),
		TopologyFile: os.Getenv("LOT_TOPOLOGY_FILE"),
		ServiceURL:   envOrDefault("LOT_SERVICE_URL", "http://127.0.0.1:8090"),
		AuthsvcAddr:  envOrDefault("LOT_AUTHSVC_ADDR", ":8090"),
	}

	var err error
	if c.PollInterval, err = durationEnv("LOT_POLL_INTERVAL", "20ms"); err != nil {
		return nil, err
	}
	if c.RenderInterval, err = durationEnv("LOT_RENDER_INTERVAL", "50ms"); err != nil {
		return nil, err
	}
	if c.DwellCycles, err = intEnv("LOT_DWELL_CYCLES", "100"); err != nil {
		return nil, err
	}
	if c.ClaimQueue, err = intEnv("LOT_CLAIM_QUEUE", "8"); err != nil {
		return nil, err
	}
	if c.LinkBaud, err = intEnv("LOT_LINK_BAUD", "9600"); err != nil {
		return nil, err
	}
	if c.LinkBaud < 1 {
		return nil, fmt.Errorf("%w: LOT_LINK_BAUD must be positive, got %d", ErrInvalid, c.LinkBaud)
	}
	if c.ClaimQueue < 2 {
		return nil, fmt.Errorf("%w: LOT_CLAIM_QUEUE must be at least 2, got %d", ErrInvalid, c.ClaimQueue)
	}
	if c.DwellCycles < 1 {
		return nil, fmt.Errorf("%w: LOT_DWELL_CYCLES must be positive, got %d", ErrInvalid, c.DwellCycles)
	}
	if c.LogLevel, err = ParseLevel(envOrDefault("LOT_LOG_LEVEL", "info")); err != nil {
		return nil, err
	}

	if c.TopologyFile != "" {
		if c.Topology, err = LoadTopology(c.TopologyFile); err != nil {
			return nil, err
		}
	} else {
		c.Topology = DefaultTopology()
	}
	return c, nil
}

// ParseLevel maps debug, info, warn or error to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("%w: LOT_LOG_LEVEL %q", ErrInvalid, s)
	}
	return l, nil
}

func durationEnv(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: %s must be positive", ErrInvalid, key)
	}
	return d, nil
}

func intEnv(key, fallback string) (int, error) {
	n, err := strconv.Atoi(envOrDefault(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
	}
	return n, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
