// Command echochamber runs the Echo chamber relay service: ad-hoc group
// chats over Bluesky direct messages. It:
//   - Loads configuration and initializes structured logging.
//   - Discovers chamber definitions in the data directory (falling back to
//     BLUESKY_* env for a single chamber) and starts one poll loop each.
//   - Consumes the control channel for in-band /startup and /shutdown
//     admin commands.
//   - Exposes a minimal HTTP server with /healthz, /status, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM, or automatic once the last
// chamber shuts down.
package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/allforeco/echochamber/bsky"
	"github.com/allforeco/echochamber/chamber"
	"github.com/allforeco/echochamber/config"
	"github.com/allforeco/echochamber/crypto"
	"github.com/allforeco/echochamber/server"
	"github.com/allforeco/echochamber/supervisor"
	"github.com/allforeco/echochamber/telemetry"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	shutdownTracing, err := telemetry.InitTracing("echochamber", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	var enc crypto.Encryptor
	if cfg.CryptKey != "" {
		aes, err := crypto.NewAESEncryptor(cfg.CryptKey)
		if err != nil {
			slog.Error("invalid ECHOCHAMBER_CRYPT_KEY", slog.Any("err", err))
			os.Exit(1)
		}
		enc = aes
		slog.Info("definition passwords stored encrypted")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup := supervisor.New(cfg.DataDir, enc, func(host string) chamber.Platform {
		return &bsky.Client{Host: host, HTTPClient: &http.Client{Timeout: 30 * time.Second}}
	})
	sup.PollInterval = cfg.PollInterval

	defs := supervisor.ScanDefinitions(cfg.DataDir, enc)
	if len(defs) == 0 {
		// Single-chamber bootstrap from env, as the original deployment mode.
		if err := cfg.ValidateBootstrap(); err != nil {
			slog.Error("no chamber definitions found", slog.Any("err", err))
			os.Exit(1)
		}
		defs = []supervisor.Definition{{
			Handle:      cfg.Handle,
			Username:    cfg.Username,
			AppPassword: cfg.Password,
			Hostname:    cfg.Hostname,
		}}
	}
	started := 0
	for _, def := range defs {
		if err := sup.Start(ctx, def); err != nil {
			slog.Error("chamber start failed, skipping", slog.String("handle", def.Handle), slog.Any("err", err))
			continue
		}
		started++
	}
	if started == 0 {
		slog.Error("no chambers could be started")
		os.Exit(1)
	}

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.NewMux(sup),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("ops server listening", slog.String("addr", cfg.ListenAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("ops server failed", slog.Any("err", err))
		}
	}()

	go hourglass(ctx)

	// Stop the supervisor loop on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("signal received, shutting down", slog.String("signal", sig.String()))
		cancel()
	}()

	slog.Info("echochamber listening", slog.Int("chambers", started))
	if err := sup.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("supervisor terminated", slog.Any("err", err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("ops server shutdown failed", slog.Any("err", err))
	}
	slog.Info("echochamber terminated")
}

// setupLogging configures slog level and format from LOG_LEVEL / LOG_FORMAT
// (defaults: info, text). With ECHOCHAMBER_LOGDIR set, output is teed to
// echochamber.log in that directory.
func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var out io.Writer = os.Stdout
	if logDir := os.Getenv("ECHOCHAMBER_LOGDIR"); logDir != "" {
		path := filepath.Join(logDir, "echochamber.log")
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
			tmp.Warn("cannot open log file, logging to stdout only", slog.String("path", path), slog.Any("err", err))
		} else {
			out = io.MultiWriter(os.Stdout, f)
		}
	}
	var handler slog.Handler
	switch strings.ToLower(os.Getenv("LOG_FORMAT")) {
	case "json":
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
}

// hourglass logs a marker at the top of every hour so long gaps in the log
// are distinguishable from a wedged process.
func hourglass(ctx context.Context) {
	for {
		now := time.Now()
		next := now.Truncate(time.Hour).Add(time.Hour)
		select {
		case <-ctx.Done():
			return
		case <-time.After(next.Sub(now)):
			slog.Info("### hourglass turning", slog.Time("hour", next))
		}
	}
}
