// Command salon runs the multi-agent chat server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"salon/internal/httpapi"
	"salon/internal/kernel"
	"salon/pkg/config"
	"salon/pkg/logx"
)

// Version information, set via ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to YAML config file (optional)")
		port        = flag.Int("port", 0, "HTTP port (overrides config)")
		debug       = flag.Bool("debug", false, "Enable debug logging")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("salon %s (%s)\n", version, commit)
		os.Exit(0)
	}
	if *debug {
		logx.SetDebug(true, nil)
	}

	os.Exit(run(*configPath, *port))
}

// run holds the server lifecycle so defers fire before the exit code is
// returned.
func run(configPath string, portOverride int) int {
	logger := logx.NewLogger("main")

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}
	if portOverride != 0 {
		cfg.Port = portOverride
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	k, err := kernel.New(ctx, cfg)
	if err != nil {
		logger.Error("failed to build kernel: %v", err)
		return 1
	}
	if err := k.Start(); err != nil {
		logger.Error("failed to start kernel: %v", err)
		return 1
	}

	server := httpapi.NewServer(k)
	if err := server.Start(ctx, httpapi.Addr(cfg.Port)); err != nil {
		logger.Error("failed to start http server: %v", err)
		_ = k.Stop()
		return 1
	}

	logger.Info("salon listening on port %d (session %s)", cfg.Port, k.SessionID())

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if err := k.Stop(); err != nil {
		logger.Error("shutdown failed: %v", err)
		return 1
	}
	return 0
}
