package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alxayo/go-spice/internal/logger"
	"github.com/alxayo/go-spice/internal/spice/agent"
	"github.com/alxayo/go-spice/internal/spice/channels"
	"github.com/alxayo/go-spice/internal/spice/session"
	"github.com/alxayo/go-spice/internal/spice/wire"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Println(version)
		return
	}

	logger.Init()
	if err := logger.SetLevel(cfg.logLevel); err != nil {
		fmt.Printf("Warning: invalid log level %q, using default\n", cfg.logLevel)
	}
	log := logger.Logger().With("component", "cli")

	sessionCfg := session.Config{
		Host:     cfg.host,
		Port:     cfg.port,
		Password: cfg.password,
		Ready:    func() { log.Info("session ready") },
		Inputs: session.InputsConfig{
			Enable:      cfg.enableInputs,
			AutoConnect: cfg.autoConnect,
		},
		Clipboard: session.ClipboardConfig{
			Enable:  cfg.enableClip,
			Notice:  func(t agent.ClipboardType) { log.Info("clipboard grab", "type", t) },
			Data:    func(t agent.ClipboardType, data []byte) { log.Info("clipboard data", "type", t, "bytes", len(data)) },
			Release: func() { log.Info("clipboard release") },
			Request: func(t agent.ClipboardType) { log.Info("clipboard request", "type", t) },
		},
		Playback: session.PlaybackConfig{
			Enable:      cfg.enablePlayback,
			AutoConnect: cfg.autoConnect,
			Start: func(chans, freq uint32) error {
				log.Info("playback start", "channels", chans, "freq", freq)
				return nil
			},
			Data: func(samples []byte) { log.Debug("playback data", "bytes", len(samples)) },
			Stop: func() { log.Info("playback stop") },
		},
		Record: session.RecordConfig{
			Enable:      cfg.enableRecord,
			AutoConnect: cfg.autoConnect,
			Start: func(chans, freq uint32) error {
				log.Info("record start", "channels", chans, "freq", freq)
				return nil
			},
			Stop: func() { log.Info("record stop") },
		},
		Display: session.DisplayConfig{
			Enable:      cfg.enableDisplay,
			AutoConnect: cfg.autoConnect,
			SurfaceCreate: func(id uint32, format channels.SurfaceFormat, w, h uint32) error {
				log.Info("surface create", "id", id, "format", format, "width", w, "height", h)
				return nil
			},
			SurfaceDestroy: func(id uint32) { log.Info("surface destroy", "id", id) },
			DrawFill: func(surfaceID uint32, box wire.Rect, color uint32) {
				log.Debug("draw fill", "surface", surfaceID, "color", color)
			},
			DrawBitmap: func(surfaceID uint32, box wire.Rect, bmp channels.Bitmap) {
				log.Debug("draw copy", "surface", surfaceID, "bytes", len(bmp.Data))
			},
		},
	}

	if cfg.configPath != "" {
		fc, err := session.LoadFileConfig(cfg.configPath)
		if err != nil {
			log.Error("failed to load config file", "path", cfg.configPath, "error", err)
			os.Exit(1)
		}
		sessionCfg = fc.Merge(sessionCfg)
		applyExplicitFlagOverrides(cfg, &sessionCfg)
	}

	client, err := session.New(sessionCfg)
	if err != nil {
		log.Error("failed to build client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	log.Info("connecting", "addr", dialAddr(sessionCfg.Host, sessionCfg.Port), "version", version)
	if err := client.Connect(); err != nil {
		log.Error("connect failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go runLoop(ctx, client, cfg.pollTimeoutMs, log, done)

	<-ctx.Done()
	log.Info("shutdown signal received")
	client.Disconnect()
	<-done
	log.Info("client stopped")
}

// runLoop drives Process until the session shuts down, the context is
// cancelled, or an unrecoverable status is returned.
func runLoop(ctx context.Context, client *session.Client, timeoutMs int, log *slog.Logger, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		status, err := client.Process(timeoutMs)
		switch status {
		case session.Shutdown:
			log.Info("session shut down")
			return
		case session.Run:
			// no-op; loop again
		default:
			log.Warn("process returned an error status", "status", status, "error", err)
			return
		}
	}
}
