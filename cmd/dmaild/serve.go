package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/infodancer/dmaild/internal/config"
	"github.com/infodancer/dmaild/internal/logging"
	"github.com/infodancer/dmaild/internal/metrics"
	"github.com/infodancer/dmaild/internal/stack"
)

var builders = map[string]func(stack.Options) (*stack.Stack, error){
	"transfer":   stack.NewTransfer,
	"mailbox":    stack.NewMailbox,
	"nameserver": stack.NewNameserver,
}

func runServer(role string, args []string) error {
	flags, err := config.ParseFlags(role, args)
	if err != nil {
		return err
	}

	cfg, err := config.LoadWithFlags(flags)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.WithComponent(logging.NewLogger(cfg.LogLevel), role, cfg.ComponentID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	collector, metricsServer := metrics.New(metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Address: cfg.Metrics.Address,
		Path:    cfg.Metrics.Path,
	}, nil)
	go func() {
		if err := metricsServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	s, err := builders[role](stack.Options{
		Config:    cfg,
		Collector: collector,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	logger.Info("starting dmaild",
		"role", role,
		"hostname", cfg.Hostname,
		"listeners", len(cfg.Listeners))

	if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
