// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/taskpulse/taskpulse/internal/observability"
	"github.com/taskpulse/taskpulse/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// PoolFactory opens the database pool.
	// Default: store.Connect
	PoolFactory func(ctx context.Context, url string) (*pgxpool.Pool, error)

	// ObservabilityServerFactory creates the metrics and health server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, registry *prometheus.Registry, metrics *observability.Metrics, ready observability.ReadinessChecker) ObservabilityServer
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.PoolFactory == nil {
		out.PoolFactory = store.Connect
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, registry *prometheus.Registry, metrics *observability.Metrics, ready observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, registry, metrics, ready)
		}
	}
	return &out
}

// MigrateDeps contains injectable dependencies for the migrate command.
type MigrateDeps struct {
	// MigratorFactory opens a migrator for the database.
	// Default: store.NewMigrator
	MigratorFactory func(url string) (Migrator, error)
}

func (d *MigrateDeps) withDefaults() *MigrateDeps {
	out := MigrateDeps{}
	if d != nil {
		out = *d
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(url string) (Migrator, error) {
			return store.NewMigrator(url)
		}
	}
	return &out
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Status() (store.MigrationStatus, error)
	Close() error
}
