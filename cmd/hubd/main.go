// Command hubd runs a single hub as a standalone daemon: it loads a
// supervisor.Config, starts a process-, machine-, or network-scope hub
// with a listening transport, and drains in flight requests on SIGINT/
// SIGTERM. Mirrors cmd/rigd/main.go's signal-handling shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/hubmesh/hub/supervisor"
)

func main() {
	configPath := flag.String("config", "", "path to a supervisor config YAML file")
	bindAddress := flag.String("bind-address", "", "override bind_address from the config file")
	bindPort := flag.Int("bind-port", 0, "override bind_port from the config file")
	flag.Parse()

	log := slog.New(tint.NewHandler(os.Stderr, &tint.Options{TimeFormat: time.Kitchen}))
	slog.SetDefault(log)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Error("load config", "error", err)
		os.Exit(1)
	}
	if *bindAddress != "" {
		cfg.BindAddress = *bindAddress
	}
	if *bindPort != 0 {
		cfg.BindPort = *bindPort
	}

	sup, err := supervisor.New(cfg, log)
	if err != nil {
		log.Error("build supervisor", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- sup.Run(ctx) }()

	if addr := sup.Addr(); addr != "" {
		log.Info("hubd listening", "addr", addr, "hub_id", cfg.HubID, "scope", cfg.Scope)
	} else {
		log.Info("hubd started", "hub_id", cfg.HubID, "scope", cfg.Scope)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received signal, draining", "signal", sig.String())
	case err := <-runErr:
		if err != nil && ctx.Err() == nil {
			log.Error("hub stopped", "error", err)
			os.Exit(1)
		}
		return
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer drainCancel()
	if err := sup.Shutdown(drainCtx); err != nil {
		log.Error("shutdown", "error", err)
	}
	cancel()
	<-runErr
}

func loadConfig(path string) (supervisor.Config, error) {
	if path == "" {
		var cfg supervisor.Config
		return cfg, fmt.Errorf("hubd: -config is required")
	}
	return supervisor.LoadConfig(path)
}
