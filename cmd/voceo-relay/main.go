package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/voceo/voceo/pkg/config"
	"github.com/voceo/voceo/pkg/metrics"
	"github.com/voceo/voceo/pkg/observers"
	"github.com/voceo/voceo/pkg/redact"
	"github.com/voceo/voceo/pkg/relay"
	"github.com/voceo/voceo/pkg/runner"
)

func initLogger(levelStr, format string) {
	var level slog.Level
	switch strings.ToLower(levelStr) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
		slog.Warn("invalid log level specified, defaulting to INFO", "specified_level", levelStr)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	logger.Info("logger initialized", "level", level.String(), "format", format)
}

type relayDrainer struct {
	server *relay.Server
	async  *metrics.AsyncObserver
}

func (d relayDrainer) Drain() error {
	err := d.server.Stop()
	if d.async != nil {
		d.async.Close()
	}
	return err
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the service config file")
	flag.Parse()
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		panic(err)
	}
	initLogger(cfg.LogLevel, cfg.LogFormat)
	redact.SetEnabled(cfg.Observability.RedactPII)

	var opts []relay.Option
	var async *metrics.AsyncObserver
	if cfg.Observability.MetricsEnabled {
		prom := metrics.NewRelayMetrics()
		fan := observers.NewMultiObserver(prom,
			observers.NewLoggerObserver(nil),
			observers.NewResponseLatencyObserver(nil))
		async = metrics.NewAsyncObserver(fan, 1024)
		opts = append(opts,
			relay.WithObserver(async),
			relay.WithMetricsHandler(prom.Handler()))
	}

	server := relay.New(cfg.Relay, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	life := runner.NewLifecycleRunner(relayDrainer{server: server, async: async}, runner.Hooks{
		OnStart: func() {
			if err := server.Start(ctx); err != nil {
				slog.Error("relay_start_failed", "error", err.Error())
				stop()
			}
		},
		OnStop: func() {
			slog.Info("relay_stopped")
		},
	}, 15*time.Second)

	if err := life.Run(ctx); err != nil {
		slog.Error("shutdown_error", "error", err.Error())
		os.Exit(1)
	}
}
