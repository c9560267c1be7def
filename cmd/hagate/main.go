// cmd/hagate/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/jawher/mow.cli"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/FairForge/resilience/internal/api"
	"github.com/FairForge/resilience/internal/config"
	"github.com/FairForge/resilience/internal/ha"
	"github.com/FairForge/resilience/internal/logging"
)

func main() {
	app := cli.App("hagate", "Fault-tolerant access to the cache and the relational store.")

	configPath := app.String(cli.StringOpt{
		Name:   "config c",
		Value:  "config.yaml",
		Desc:   "Path to the YAML config",
		EnvVar: "HA_CONFIG",
	})
	adminAddr := app.String(cli.StringOpt{
		Name:   "admin-addr",
		Value:  "",
		Desc:   "Admin listen address, overrides admin.addr",
		EnvVar: "HA_ADMIN_ADDR",
	})

	app.Action = func() {
		if err := run(*configPath, *adminAddr); err != nil {
			fmt.Fprintf(os.Stderr, "hagate: %v\n", err)
			os.Exit(1)
		}
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "hagate: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, adminAddr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if adminAddr != "" {
		cfg.Admin.Addr = adminAddr
	}

	logger, err := logging.New(&logging.LoggerConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	manager, err := ha.New(cfg, ha.WithLogger(logger), ha.WithRegisterer(reg))
	if err != nil {
		return fmt.Errorf("build HA manager: %w", err)
	}

	initCtx, cancel := context.WithTimeout(context.Background(), 2*cfg.Failover.Timeout)
	err = manager.Initialize(initCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("initialize HA manager: %w", err)
	}

	server := api.NewServer(cfg.Admin.Addr, manager, reg, logger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("admin server shutdown error", zap.Error(err))
		}
		if err := manager.PerformGracefulShutdown(ctx); err != nil {
			logger.Error("HA shutdown error", zap.Error(err))
		}
	}()

	logger.Info("HA gate started",
		zap.String("admin", cfg.Admin.Addr),
		zap.String("primary", cfg.Store.Primary.Name),
		zap.Int("replicas", len(cfg.Store.Replicas)),
		zap.String("strategy", cfg.LoadBalancing.Strategy),
	)

	if err := server.Start(); err != nil {
		return fmt.Errorf("admin server: %w", err)
	}
	<-done
	return nil
}
