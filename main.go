// Command lurkbot keeps a Twitch bot account sitting in the chat of whichever
// configured streamers are live. It:
//   - Loads and validates the configuration record before connecting anywhere.
//   - Connects to the chat gateway and waits for the end of the MOTD.
//   - Polls Helix every wait_time seconds and joins/parts channels to match.
//   - Exposes /healthz, /readyz, /status, /events and /metrics.
//
// Shutdown is graceful and bounded on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/onnwee/lurkbot/config"
	"github.com/onnwee/lurkbot/lurker"
	"github.com/onnwee/lurkbot/server"
	"github.com/onnwee/lurkbot/telemetry"
)

const version = "1.0.0"

var cli struct {
	Config      string `help:"Path to the configuration file (json, yaml or toml)." default:"config.json" short:"c"`
	EnvFile     string `help:"Optional .env file loaded before the configuration." default:".env" name:"env-file"`
	CheckConfig bool   `help:"Validate the configuration and exit." name:"check-config"`
	HTTPAddr    string `help:"Operator HTTP address; overrides HTTP_ADDR (default :8080, empty disables)." name:"http-addr"`
}

func main() {
	kong.Parse(&cli,
		kong.Name("lurkbot"),
		kong.Description("Joins the Twitch chat of configured streamers while they are live."),
		kong.UsageOnError(),
	)

	// Load .env file if present (local dev convenience only; production relies on real env)
	if err := godotenv.Load(cli.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", cli.EnvFile, err)
	}

	setupLogger(false)

	cfg, err := config.Load(cli.Config)
	if err != nil {
		var ce *config.ConfigError
		if errors.As(err, &ce) {
			for _, p := range ce.Problems {
				slog.Error("invalid configuration", slog.String("key", p.Key), slog.String("problem", p.String()))
			}
		}
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if cfg.Verbose {
		setupLogger(true)
	}
	slog.Info("configuration loaded", slog.String("path", cli.Config), slog.Any("config", cfg))
	if cli.CheckConfig {
		return
	}

	os.Exit(run(cfg))
}

func run(cfg *config.Config) int {
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdownTracing, err := telemetry.InitTracing("lurkbot", version)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		return 1
	}
	defer shutdownTracing()
	slog.Info("telemetry initialized", slog.Bool("tracing", telemetry.IsTracingEnabled()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := lurker.New(ctx, cfg, lurker.Options{
		HTTPAddr: httpAddr(),
		DBDSN:    os.Getenv("DB_DSN"),
		Auth:     server.LoadAuthConfig(),
	})
	if err != nil {
		slog.Error("startup failed", slog.Any("err", err))
		return 1
	}
	if err := app.Run(ctx); err != nil {
		slog.Error("lurkbot stopped with error", slog.Any("err", err))
		return 1
	}
	return 0
}

func httpAddr() string {
	if cli.HTTPAddr != "" {
		return cli.HTTPAddr
	}
	if v, ok := os.LookupEnv("HTTP_ADDR"); ok {
		return v
	}
	return ":8080"
}

// setupLogger configures slog from LOG_LEVEL and LOG_FORMAT. verbose forces debug
// unless LOG_LEVEL is set explicitly.
func setupLogger(verbose bool) {
	lvl := slog.LevelInfo
	raw := strings.ToLower(os.Getenv("LOG_LEVEL"))
	switch raw {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info":
	case "":
		if verbose {
			lvl = slog.LevelDebug
		}
	default:
		// unknown level -> keep info but note once using temporary logger
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Debug("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))
}
