// Package uplink is the network side of the serial link. It reads CARD and
// STATE lines from the kernel, forwards them to the authorization service
// over HTTP, and answers card lookups with USER and CHECKING-RESULT lines.
package uplink

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alfredjeanlab/lotgate/internal/model"
	"github.com/alfredjeanlab/lotgate/internal/serial"
)

// Service endpoints.
const (
	PathHealth       = "/healthcheck"
	PathLinkedCard   = "/api/v1/cards/linked-vehicle"
	PathParkingSlots = "/api/v1/parking-slots"
)

// Defaults for zero Config fields.
const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultPingTimeout    = 2 * time.Second
	DefaultPingInterval   = time.Second
	MaxFailedPings        = 3
)

// Config wires a Bridge.
type Config struct {
	Link       io.ReadWriter
	ServiceURL string

	RequestTimeout time.Duration
	PingTimeout    time.Duration
	PingInterval   time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Stats counts uplink traffic.
type Stats struct {
	Cards       uint64 `json:"cards"`
	Granted     uint64 `json:"granted"`
	Denied      uint64 `json:"denied"`
	Failed      uint64 `json:"failed"`
	States      uint64 `json:"states"`
	StateErrors uint64 `json:"state_errors"`
	Pings       uint64 `json:"pings"`
	PingErrors  uint64 `json:"ping_errors"`
}

// Bridge relays link lines to the authorization service.
type Bridge struct {
	cfg    Config
	base   string
	http   *http.Client
	logger *slog.Logger

	ready       atomic.Bool
	failedPings int // owned by the ping loop

	writeMu sync.Mutex

	statsMu sync.Mutex
	stats   Stats
}

// New returns a bridge for cfg.
func New(cfg Config) *Bridge {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.PingTimeout == 0 {
		cfg.PingTimeout = DefaultPingTimeout
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		cfg:    cfg,
		base:   strings.TrimRight(cfg.ServiceURL, "/"),
		http:   client,
		logger: logger,
	}
}

// Ready reports whether the last contact with the service succeeded.
func (b *Bridge) Ready() bool { return b.ready.Load() }

// Stats returns a copy of the traffic counters.
func (b *Bridge) Stats() Stats {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	return b.stats
}

func (b *Bridge) count(f func(*Stats)) {
	b.statsMu.Lock()
	f(&b.stats)
	b.statsMu.Unlock()
}

// Run pings the service in the background and handles link lines until the
// link fails or ctx is done. Close the link to unblock a pending read.
func (b *Bridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.pingLoop(ctx)
	}()
	// The ping loop only exits on cancel, so cancel before waiting.
	defer func() {
		cancel()
		wg.Wait()
	}()

	sc := bufio.NewScanner(b.cfg.Link)
	for sc.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := b.HandleLine(ctx, sc.Text()); err != nil {
			b.logger.Debug("link line ignored", "err", err)
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading link: %w", err)
	}
	return ctx.Err()
}

// HandleLine acts on one line from the kernel. Only CARD and STATE are
// meaningful in this direction.
func (b *Bridge) HandleLine(ctx context.Context, line string) error {
	m, err := serial.ParseLine(line)
	if err != nil {
		return err
	}
	switch m.Label {
	case serial.LabelCard:
		g, uid, err := serial.ParseCard(m.Value)
		if err != nil {
			return err
		}
		return b.CheckCard(ctx, g, uid)
	case serial.LabelState:
		return b.PushState(ctx, strings.TrimSpace(m.Value))
	}
	return fmt.Errorf("%w: %s is inbound only", serial.ErrUnknownLabel, m.Label)
}

// linkedVehicle is the service's card lookup response.
type linkedVehicle struct {
	Message string `json:"message"`
	Info    string `json:"info"`
}

// CheckCard asks the service whether uid may pass gate g and writes the
// answer to the link. A reply other than 200 is a denial; a transport
// failure or unreadable body is a failed request.
func (b *Bridge) CheckCard(ctx context.Context, g model.GateID, uid model.UID) error {
	b.count(func(s *Stats) { s.Cards++ })

	q := url.Values{}
	q.Set("card_id", uid.String())
	q.Set("gate_pos", g.Side())

	var body linkedVehicle
	status, err := b.do(ctx, b.cfg.RequestTimeout, http.MethodGet, PathLinkedCard+"?"+q.Encode(), nil, &body)
	switch {
	case err != nil:
		b.ready.Store(false)
		b.count(func(s *Stats) { s.Failed++ })
		b.logger.Warn("card check failed", "gate", g, "card", uid, "err", err)
		return b.writeLines(serial.FormatResult(model.AuthRequestFailed))
	case status == http.StatusOK:
		b.count(func(s *Stats) { s.Granted++ })
		b.logger.Info("card granted", "gate", g, "card", uid, "user", body.Info)
		return b.writeLines(serial.FormatUser(body.Info), serial.FormatResult(model.GrantFor(g)))
	default:
		b.count(func(s *Stats) { s.Denied++ })
		b.logger.Info("card denied", "gate", g, "card", uid, "status", status, "message", body.Message)
		return b.writeLines(serial.FormatResult(model.DenialFor(g)))
	}
}

// PushState forwards an occupancy CSV to the service.
func (b *Bridge) PushState(ctx context.Context, csv string) error {
	b.count(func(s *Stats) { s.States++ })
	status, err := b.do(ctx, b.cfg.RequestTimeout, http.MethodPut, PathParkingSlots, map[string]string{"states": csv}, nil)
	if err != nil {
		b.ready.Store(false)
		b.count(func(s *Stats) { s.StateErrors++ })
		return fmt.Errorf("pushing state: %w", err)
	}
	if status >= 400 {
		b.count(func(s *Stats) { s.StateErrors++ })
		b.logger.Warn("state rejected", "states", csv, "status", status)
		return nil
	}
	b.logger.Debug("state pushed", "states", csv, "status", status)
	return nil
}

// Ping checks that the service answers at all. Any HTTP status counts.
func (b *Bridge) Ping(ctx context.Context) error {
	b.count(func(s *Stats) { s.Pings++ })
	if _, err := b.do(ctx, b.cfg.PingTimeout, http.MethodGet, PathHealth, nil, nil); err != nil {
		b.count(func(s *Stats) { s.PingErrors++ })
		return err
	}
	return nil
}

// pingLoop pings while the service is not ready. After MaxFailedPings
// failures in a row it drops pooled connections and starts counting again.
func (b *Bridge) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.PingInterval)
	defer ticker.Stop()

	for {
		if !b.ready.Load() {
			b.pingOnce(ctx)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (b *Bridge) pingOnce(ctx context.Context) {
	if err := b.Ping(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		b.failedPings++
		b.logger.Warn("service ping failed", "attempt", b.failedPings, "err", err)
		if b.failedPings >= MaxFailedPings {
			b.logger.Error("too many failed pings, resetting connections", "service", b.base)
			b.http.CloseIdleConnections()
			b.failedPings = 0
		}
		return
	}
	b.failedPings = 0
	if !b.ready.Swap(true) {
		b.logger.Info("service ready", "service", b.base)
	}
}

// do performs one request with its own timeout and returns the status
// code. Bodies of non-2xx responses are still decoded into result when
// they parse.
func (b *Bridge) do(ctx context.Context, timeout time.Duration, method, path string, body, result any) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.base+path, bodyReader)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("reading response: %w", err)
	}
	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil && resp.StatusCode == http.StatusOK {
			return 0, fmt.Errorf("decoding response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (b *Bridge) writeLines(lines ...string) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	for _, line := range lines {
		if _, err := io.WriteString(b.cfg.Link, line+"\n"); err != nil {
			return fmt.Errorf("writing link: %w", err)
		}
	}
	return nil
}
