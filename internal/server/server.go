// Package server provides a factory for creating the chatgate gateway.
package server

import (
	"fmt"

	"github.com/chatgate/chatgate/pkg/gateway"
	"github.com/chatgate/chatgate/pkg/protocol"
	"github.com/chatgate/chatgate/pkg/protocol/simulated"
)

// Version is set at build time.
var Version = "dev"

// New creates a gateway from the given configuration.
func New(cfg *gateway.Config, dialer protocol.Dialer) (*gateway.Gateway, error) {
	if dialer == nil {
		dialer = simulated.NewDialer(simulated.Config{})
	}
	gw, err := gateway.New(cfg, dialer)
	if err != nil {
		return nil, fmt.Errorf("creating gateway: %w", err)
	}
	return gw, nil
}

// NewWithConfig loads configuration from path and creates a gateway.
func NewWithConfig(path string, dialer protocol.Dialer) (*gateway.Gateway, error) {
	cfg, err := gateway.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return New(cfg, dialer)
}

// NewWithDefaults creates a gateway with default configuration.
func NewWithDefaults(dialer protocol.Dialer) (*gateway.Gateway, error) {
	return New(gateway.DefaultConfig(), dialer)
}
