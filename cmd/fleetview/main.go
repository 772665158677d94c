// fleetview mirrors a remote fleet of agents into a locally laid-out graph:
// live transport with failover, a normalized entity store, and a
// deterministic layout engine with persisted manual positions. With a TTY
// it shows a status dashboard; headless it logs connectivity transitions.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/basket/fleetview/internal/bus"
	"github.com/basket/fleetview/internal/config"
	"github.com/basket/fleetview/internal/detail"
	"github.com/basket/fleetview/internal/entity"
	"github.com/basket/fleetview/internal/layout"
	"github.com/basket/fleetview/internal/telemetry"
	"github.com/basket/fleetview/internal/transport"
	"github.com/basket/fleetview/internal/tui"
)

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to config.yaml")
	headless := flag.Bool("headless", false, "disable the status dashboard")
	flag.Parse()

	if err := run(*configPath, *headless); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "fleetview: %v\n", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".fleetview", "config.yaml")
}

func run(configPath string, headless bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	interactive := !headless && isatty.IsTerminal(os.Stdout.Fd())
	logger := newLogger(cfg.LogLevel, interactive)
	slog.SetDefault(logger)

	provider, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = provider.Shutdown(shCtx)
	}()
	metrics, err := telemetry.NewMetrics(provider.Meter)
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	if dir := filepath.Dir(cfg.Layout.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	posStore, err := layout.OpenPositionStore(cfg.Layout.DBPath)
	if err != nil {
		return err
	}
	defer posStore.Close()

	engine, err := layout.NewEngine(layout.Options{
		MinRadius: cfg.Layout.MinRadius,
		Spacing:   cfg.Layout.Spacing,
		Padding:   cfg.Layout.Padding,
		MaxPasses: cfg.Layout.MaxPasses,
	}, posStore, logger)
	if err != nil {
		return err
	}

	store := entity.NewStore(logger)
	b := bus.New()

	manager, err := transport.NewManager(transport.Config{
		Primary:           &transport.WSDialer{URL: cfg.Server.WSURL},
		Secondary:         &transport.SSEDialer{URL: cfg.Server.SSEURL},
		Fetcher:           transport.NewHTTPStateFetcher(cfg.Server.StateURL),
		Bus:               b,
		BackoffBase:       cfg.Transport.BackoffBase,
		BackoffMultiplier: cfg.Transport.BackoffMultiplier,
		BackoffCeiling:    cfg.Transport.BackoffCeiling,
		PollInterval:      cfg.Transport.PollInterval,
		Logger:            logger,
		Metrics:           metrics,
	})
	if err != nil {
		return fmt.Errorf("create transport manager: %w", err)
	}

	controller := detail.NewController(detail.NewHTTPFetcher(cfg.Server.DetailURL), engine, logger)

	go transport.RunConsumer(ctx, b, store, engine, metrics, logger)
	manager.Start(ctx)
	defer manager.Stop()

	if interactive {
		err := tui.Run(ctx, snapshotProvider(store, engine, manager), controller)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	return runHeadless(ctx, logger, store, manager, b)
}

func snapshotProvider(store *entity.Store, engine *layout.Engine, manager *transport.Manager) tui.StatusProvider {
	return func() tui.Snapshot {
		agents := store.Agents()
		lines := make([]tui.AgentLine, 0, len(agents))
		for _, a := range agents {
			pos, _ := engine.Position(a.ID)
			lines = append(lines, tui.AgentLine{
				ID:     a.ID,
				Label:  a.Label,
				Status: string(a.Status.Display()),
				X:      pos.X,
				Y:      pos.Y,
				Manual: pos.Manual,
			})
		}
		tasks := store.Tasks(entity.TaskFilter{})
		taskLines := make([]tui.TaskLine, 0, len(tasks))
		running := 0
		now := time.Now()
		for _, task := range tasks {
			if task.Status == entity.TaskRunning {
				running++
			}
			line := tui.TaskLine{
				ID:     task.ID,
				Label:  task.Label,
				Status: string(task.Status),
			}
			if next, ok := task.NextRun(now); ok {
				line.NextRun = next.Format("15:04:05")
			}
			taskLines = append(taskLines, line)
		}

		return tui.Snapshot{
			Connected:      store.Connected(),
			TransportState: string(manager.State()),
			Agents:         lines,
			Tasks:          taskLines,
			TaskCount:      len(tasks),
			RunningTasks:   running,
			Connections:    len(store.Connections()),
			Messages:       store.Messages(),
		}
	}
}

func runHeadless(ctx context.Context, logger *slog.Logger, store *entity.Store, manager *transport.Manager, b *bus.Bus) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			logger.Info("mirror status",
				"state", manager.State(),
				"connected", store.Connected(),
				"agents", len(store.Agents()),
				"tasks", len(store.Tasks(entity.TaskFilter{})),
				"messages", store.Messages(),
				"bus_dropped", b.Dropped(),
			)
		}
	}
}

func newLogger(level string, interactive bool) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	out := os.Stdout
	if interactive {
		// Keep the dashboard clean; diagnostics go to stderr.
		out = os.Stderr
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: lvl}))
}
