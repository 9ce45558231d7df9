// Command airplay2-sender is a minimal demo application built on the
// client package: it discovers AirPlay receivers on the local network,
// connects to one, optionally streams a WAV file, and exposes a
// diagnostics HTTP server, mirroring cmd/flowpbx's role as the thin
// wiring layer over the internal packages.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/airtap-go/airplay2/client"
	"github.com/airtap-go/airplay2/internal/config"
	"github.com/airtap-go/airplay2/internal/device"
	"github.com/airtap-go/airplay2/internal/diag"
	"github.com/airtap-go/airplay2/internal/metrics"
	"github.com/airtap-go/airplay2/internal/pairstore"
	"github.com/airtap-go/airplay2/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting airplay2-sender",
		"timing", cfg.Timing,
		"data_dir", cfg.DataDir,
		"diag_addr", cfg.DiagAddr,
	)

	store, err := pairstore.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open pairing store", "error", err)
		os.Exit(1)
	}

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	c := client.New(cfg, store, nil, logger)

	var diagSrv *http.Server
	var diagHandler *diag.Server
	if cfg.DiagAddr != "" {
		diagSrv, diagHandler = startDiagServer(cfg, c)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- run(appCtx, cfg, c)
	}()

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-runErrCh:
		if err != nil {
			slog.Error("session error", "error", err)
		}
	}

	appCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.IsConnected() {
		if err := c.Disconnect(shutdownCtx); err != nil {
			slog.Error("disconnect error", "error", err)
		}
	}

	if diagSrv != nil {
		if err := diagSrv.Shutdown(shutdownCtx); err != nil {
			slog.Error("diagnostics server shutdown error", "error", err)
		}
		diagHandler.Close()
	}

	slog.Info("airplay2-sender stopped")
}

// run performs the demo flow: scan, pick a device, connect, and stream
// the requested track if one was given. With a track it returns once the
// stream has ended; without one it stays connected until ctx is
// canceled, leaving the caller's signal handling loop in charge of the
// controlling lifetime.
func run(ctx context.Context, cfg *config.Config, c *client.Client) error {
	slog.Info("scanning for devices", "timeout", cfg.DiscoveryTimeout)
	devices, err := c.Scan(ctx, cfg.DiscoveryTimeout)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	if len(devices) == 0 {
		return fmt.Errorf("no airplay devices found")
	}

	for _, d := range devices {
		slog.Info("discovered device", "id", d.ID, "name", d.Name, "airplay2", d.IsAirPlay2())
	}

	dev, err := pickDevice(devices, cfg.DeviceName)
	if err != nil {
		return err
	}

	slog.Info("connecting", "device", dev.Name)
	if err := c.Connect(ctx, dev); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	slog.Info("connected", "device", dev.Name, "state", c.State())

	if cfg.PlayURL == "" {
		<-ctx.Done()
		return nil
	}

	slog.Info("streaming track", "url", cfg.PlayURL)
	if err := c.PlayURL(ctx, cfg.PlayURL); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	slog.Info("playback finished")
	return nil
}

// pickDevice returns the first device whose name contains nameFilter
// (case-insensitive), or the first device overall when nameFilter is
// empty.
func pickDevice(devices []device.Device, nameFilter string) (device.Device, error) {
	if nameFilter == "" {
		return devices[0], nil
	}
	for _, d := range devices {
		if strings.Contains(strings.ToLower(d.Name), strings.ToLower(nameFilter)) {
			return d, nil
		}
	}
	return device.Device{}, fmt.Errorf("no discovered device matches %q", nameFilter)
}

// startDiagServer wires the optional diagnostics HTTP server: a
// prometheus registry scoped to this process and the client's
// point-in-time status, served alongside /metrics.
func startDiagServer(cfg *config.Config, c *client.Client) (*http.Server, *diag.Server) {
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(statusProvider{c}, nil, nil, nil, time.Now())
	if err := registry.Register(collector); err != nil {
		metrics.LogRegistrationFailure(err)
	}

	handler := diag.NewServer(func() diag.StatusSnapshot {
		dev := c.ConnectedDevice()
		return diag.StatusSnapshot{
			State:      c.State().String(),
			DeviceID:   dev.ID,
			DeviceName: dev.Name,
		}
	}, registry, "")

	srv := &http.Server{
		Addr:         cfg.DiagAddr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("diagnostics server listening", "addr", cfg.DiagAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("diagnostics server error", "error", err)
		}
	}()

	return srv, handler
}

// statusProvider adapts client.Client to internal/metrics.SessionStateProvider.
type statusProvider struct{ c *client.Client }

func (s statusProvider) State() session.State { return s.c.State() }
