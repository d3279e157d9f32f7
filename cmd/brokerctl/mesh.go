package main

import (
	"context"
	"fmt"
	"time"

	"github.com/brokermesh/brokermesh/internal/config"
	"github.com/brokermesh/brokermesh/pkg/endpoint"
)

// defaultLocalConfig is brokerctl's own endpoint configuration: SSL is
// disabled because brokerctl is a trusted operator tool run on the
// same host/network as the broker it talks to.
func defaultLocalConfig() config.Config {
	cfg := config.Default()
	cfg.DisableSSL = true
	return cfg
}

// newLocalEndpoint constructs brokerctl's transient mesh participant.
// Callers must Shutdown the returned endpoint.
func newLocalEndpoint(cfg config.Config) (*endpoint.Endpoint, error) {
	ep, err := endpoint.New(endpoint.Options{Config: cfg})
	if err != nil {
		return nil, fmt.Errorf("brokerctl: construct endpoint: %w", err)
	}
	return ep, nil
}

// joinMesh builds a transient endpoint, peers it with addr, and waits
// joinDuration for the handshake/sync to settle before returning.
// Callers must Shutdown the returned endpoint.
func joinMesh(ctx context.Context, addr string) (*endpoint.Endpoint, error) {
	ep, err := newLocalEndpoint(defaultLocalConfig())
	if err != nil {
		return nil, err
	}

	ep.Peer(ctx, addr)

	select {
	case <-time.After(joinDuration):
	case <-ctx.Done():
	}

	return ep, nil
}

func requireAdminToken() error {
	if adminToken == "" {
		return fmt.Errorf("this command requires an admin token: pass --token or set BROKER_ADMIN_TOKEN (see 'brokerctl auth issue')")
	}
	if adminSecret == "" {
		return fmt.Errorf("--admin-secret (or BROKER_ADMIN_SECRET) is required to verify the admin token")
	}
	auth := newTokenAuth()
	if _, err := auth.RequireAdmin(adminToken); err != nil {
		return fmt.Errorf("brokerctl: %w", err)
	}
	return nil
}
