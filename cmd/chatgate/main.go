// Package main provides the entry point for the chatgate gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chatgate/chatgate/internal/server"
	"github.com/chatgate/chatgate/pkg/gateway"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type serverOptions struct {
	configPath  string
	address     string
	showVersion bool
}

func parseFlags() serverOptions {
	opts := serverOptions{}
	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.address, "address", "", "Listen address, overrides configuration")
	flag.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	flag.Parse()
	return opts
}

func setupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx
}

func createGateway(opts serverOptions) (*gateway.Gateway, error) {
	if opts.configPath != "" {
		cfg, err := gateway.LoadConfig(opts.configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		applyOverrides(cfg, opts)
		return server.New(cfg, nil)
	}

	cfg := gateway.DefaultConfig()
	applyOverrides(cfg, opts)
	return server.New(cfg, nil)
}

func applyOverrides(cfg *gateway.Config, opts serverOptions) {
	if opts.address != "" {
		cfg.Server.Address = opts.address
	}
}

func run() error {
	opts := parseFlags()

	if opts.showVersion {
		fmt.Printf("chatgate version %s\n", server.Version)
		return nil
	}

	ctx := setupSignalHandler()

	gw, err := createGateway(opts)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}
