package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"conclave/internal/config"
	"conclave/internal/engine"
	"conclave/internal/gateway"
	"conclave/internal/natsbus"
	"conclave/internal/notify"
	"conclave/internal/protocol"
	"conclave/internal/roster"
	"conclave/internal/scheduler"
	"conclave/internal/store"
	"conclave/internal/web"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("conclave %s\n", version)
	case "gateway":
		if err := runGateway(); err != nil {
			slog.Error("gateway failed", "error", err)
			os.Exit(1)
		}
	case "export":
		if err := runExport(os.Args[2:]); err != nil {
			slog.Error("export failed", "error", err)
			os.Exit(1)
		}
	case "import":
		if err := runImport(os.Args[2:]); err != nil {
			slog.Error("import failed", "error", err)
			os.Exit(1)
		}
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: conclave <command>\n\nCommands:\n  gateway    Start the Conclave coordination service\n  export     Archive persisted runs to a tar.zst file\n  import     Load runs from an export archive\n  version    Print version\n")
}

func runGateway() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting conclave", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite store
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	// Embedded NATS
	bus, err := natsbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bus.Close()
	slog.Info("nats started", "port", cfg.NATS.Port)

	client, err := natsbus.NewClient(bus)
	if err != nil {
		return fmt.Errorf("init nats client: %w", err)
	}
	defer client.Close()

	// Protocol catalogue
	reg, err := protocol.NewRegistry()
	if err != nil {
		return fmt.Errorf("build protocol registry: %w", err)
	}

	// Worker roster from config, mirrored into the store
	ros := make(roster.Roster, 0, len(cfg.Workers))
	for _, w := range cfg.Workers {
		ros = append(ros, roster.Worker{Key: w.Key, Name: w.Name, Role: w.Role, Tier: w.Tier})
	}
	if len(ros) == 0 {
		return fmt.Errorf("no workers configured")
	}
	if err := db.SyncWorkers(ros); err != nil {
		return fmt.Errorf("sync workers: %w", err)
	}
	slog.Info("roster loaded", "workers", len(ros))

	// Event sinks: every run event goes out on the bus; the web hub and
	// the notifier attach below.
	sinks := []engine.EventSink{busSink(client)}

	srv := (*web.Server)(nil)
	if cfg.Web.Enabled {
		srv = web.NewServer(nil, db, reg, ros, cfg.Web, version)
		sinks = append(sinks, srv.Sink())
	}

	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0 {
		notifier, err := notify.New(cfg.Telegram)
		if err != nil {
			return fmt.Errorf("init notifier: %w", err)
		}
		sinks = append(sinks, notifier.Sink())
		slog.Info("telegram notifier enabled")
	}

	// Engine
	gw := gateway.NewNATSGateway(client, cfg.Engine.CallTimeout)
	exec := engine.NewExecutor(gw, int64(cfg.Engine.MaxConcurrentCalls), cfg.Engine.CallTimeout, slog.Default())
	coord := engine.NewCoordinator(cfg.Engine, reg, ros, exec, db, slog.Default(), sinks...)

	// Scheduler
	sched := scheduler.New(db, coord, cfg.Scheduler)
	go sched.Start(ctx)

	// Web API
	if srv != nil {
		srv.SetCoordinator(coord)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)
	cancel()
	return nil
}

// busSink republishes run events on runs.<id>.events so external consumers
// can follow runs without holding an in-process subscription.
func busSink(client *natsbus.Client) engine.EventSink {
	return func(ev engine.Event) {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		_ = client.Publish(natsbus.TopicRunEvents(ev.RunID), data)
	}
}
