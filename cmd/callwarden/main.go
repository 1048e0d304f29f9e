// Command callwarden is the real-time communication threat-detection service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seclyn/callwarden/internal/app"
	"github.com/seclyn/callwarden/internal/capability"
	"github.com/seclyn/callwarden/internal/capture"
	"github.com/seclyn/callwarden/internal/config"
	"github.com/seclyn/callwarden/internal/health"
	"github.com/seclyn/callwarden/internal/observe"
	sig "github.com/seclyn/callwarden/internal/signal"
	"github.com/seclyn/callwarden/internal/store"
	"github.com/seclyn/callwarden/pkg/audio"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "callwarden: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "callwarden: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so config reloads can adjust it without
	// swapping the handler.
	levelVar := new(slog.LevelVar)
	levelVar.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})))

	slog.Info("callwarden starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "callwarden"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Application wiring ────────────────────────────────────────────────────
	opts := []app.Option{}
	if cfg.Capture.Command != "" {
		opts = append(opts, app.WithSourceFactory(recorderFactory(cfg)))
	}
	if cfg.Snapshot.BridgeCommand != "" {
		opts = append(opts, app.WithCapabilityProvider(&capability.CommandProvider{
			Command: cfg.Snapshot.BridgeCommand,
		}))
	}

	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyReload(ctx, application, levelVar, config.Diff(old, new))
	})
	if err != nil {
		slog.Warn("config watcher unavailable, hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Status server ─────────────────────────────────────────────────────────
	statusSrv := startStatusServer(cfg.Server.ListenAddr, application)

	slog.Info("service ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if statusSrv != nil {
		if err := statusSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("status server shutdown error", "err", err)
		}
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// recorderFactory opens one recorder process per activated session.
func recorderFactory(cfg *config.Config) app.SourceFactory {
	format := audio.Format{SampleRate: cfg.Capture.SampleRate, Channels: cfg.Capture.Channels}
	if format.SampleRate == 0 {
		format.SampleRate = 16000
	}
	if format.Channels == 0 {
		format.Channels = 1
	}
	command := cfg.Capture.Command
	return func(ctx context.Context, kind sig.Kind, target string) (capture.Source, audio.Format, error) {
		src, err := capture.StartCommandSource(ctx, command, string(kind), target)
		if err != nil {
			return nil, audio.Format{}, err
		}
		return src, format, nil
	}
}

// applyReload pushes the reloadable config subset into the running service.
func applyReload(ctx context.Context, application *app.App, levelVar *slog.LevelVar, diff config.ConfigDiff) {
	if diff.LogLevelChanged {
		levelVar.Set(slogLevel(diff.NewLogLevel))
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.TogglesChanged {
		st := application.Store()
		seed := map[string]bool{
			store.ToggleCallProtection:    diff.NewToggles.CallProtection,
			store.ToggleMeetingProtection: diff.NewToggles.MeetingProtection,
			store.ToggleSnapshotCollector: diff.NewToggles.SnapshotCollector,
		}
		for name, enabled := range seed {
			if err := st.SetToggle(ctx, name, enabled); err != nil {
				slog.Warn("toggle reload failed", "toggle", name, "err", err)
			}
		}
		slog.Info("protection toggles reloaded",
			"call", diff.NewToggles.CallProtection,
			"meeting", diff.NewToggles.MeetingProtection,
			"snapshot", diff.NewToggles.SnapshotCollector,
		)
	}
}

// startStatusServer serves liveness/readiness probes, Prometheus metrics, and
// the alert CSV export. Returns nil when no listen address is configured.
func startStatusServer(addr string, application *app.App) *http.Server {
	if addr == "" {
		return nil
	}

	checkers := []health.Checker{
		{
			Name: "snapshot-bridge",
			Check: func(context.Context) error {
				if application.Degraded() {
					return errors.New("collector degraded, bridge unreachable")
				}
				return nil
			},
		},
	}
	if pinger, ok := application.Store().(interface{ Ping(context.Context) error }); ok {
		checkers = append(checkers, health.Checker{Name: "storage", Check: pinger.Ping})
	}

	mux := http.NewServeMux()
	health.New(checkers).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /alerts.csv", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="alerts.csv"`)
		if err := application.Store().ExportAlertsCSV(r.Context(), w); err != nil {
			slog.Warn("alert export failed", "err", err)
		}
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: observe.Middleware(observe.DefaultMetrics())(mux),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("status server error", "err", err)
		}
	}()
	slog.Info("status server listening", "addr", addr)
	return srv
}

// slogLevel maps the config log level onto slog's scale.
func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
