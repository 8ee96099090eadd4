// Package system wires the notegraph components into a Service and owns
// its lifecycle.
package system

import (
	"context"
	"fmt"

	"notegraph/internal/config"
	"notegraph/internal/logging"
	"notegraph/internal/perception"
	"notegraph/internal/store"
)

// Boot opens the result store, builds the analyzer backend selected by cfg
// and returns a stopped Service. The caller owns the returned service and
// must Close it.
func Boot(ctx context.Context, cfg *config.Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// 1. Result store
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open result store: %w", err)
	}

	// 2. Analyzer backend and gateway
	client, err := perception.NewClient(ctx, cfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create analyzer client: %w", err)
	}
	gateway := perception.NewGateway(client, perception.GatewayConfigFrom(cfg))
	logging.Boot("analyzer backend: %s", gateway.Backend())

	// 3. Loops
	svc, err := New(cfg, st, gateway)
	if err != nil {
		st.Close()
		return nil, err
	}
	svc.ownsStore = true
	return svc, nil
}
