// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/taskpulse/taskpulse/internal/api"
	"github.com/taskpulse/taskpulse/internal/auth"
	"github.com/taskpulse/taskpulse/internal/bus"
	"github.com/taskpulse/taskpulse/internal/bus/memory"
	"github.com/taskpulse/taskpulse/internal/bus/mqtt"
	buspg "github.com/taskpulse/taskpulse/internal/bus/postgres"
	"github.com/taskpulse/taskpulse/internal/config"
	"github.com/taskpulse/taskpulse/internal/logging"
	"github.com/taskpulse/taskpulse/internal/observability"
	"github.com/taskpulse/taskpulse/internal/realtime"
	"github.com/taskpulse/taskpulse/internal/reminder"
	"github.com/taskpulse/taskpulse/internal/store"
	"github.com/taskpulse/taskpulse/internal/task"
	"github.com/taskpulse/taskpulse/pkg/errutil"
)

const serviceName = "taskpulse"

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API, WebSocket endpoint and reminder job",
		Long: `Run the HTTP API and WebSocket endpoint. Task changes are published
on the configured bus and fanned out to every connected client of the
project, on this instance and any other sharing the bus.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cmd, cfg, nil)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

// runServe starts the service with injectable dependencies and blocks until
// a signal arrives, ctx ends, or a server fails.
func runServe(ctx context.Context, cmd *cobra.Command, cfg *config.Config, deps *ServeDeps) error {
	deps = deps.withDefaults()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.SetDefault(serviceName, version, cfg.Log.Format, logging.ParseLevel(cfg.Log.Level))
	logger.Info("starting taskpulse",
		"http_addr", cfg.HTTP.Addr,
		"bus_driver", cfg.Bus.Driver,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := observability.NewRegistry()
	metrics := observability.NewMetrics(registry)

	pool, err := deps.PoolFactory(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info("connected to database")

	st := store.New(pool)

	driver, err := newBusDriver(cfg, pool)
	if err != nil {
		return err
	}
	link := bus.NewLink(driver,
		bus.WithReconnectConfig(cfg.Bus.ReconnectInitial, cfg.Bus.ReconnectMax),
		bus.WithPublishRetries(cfg.Bus.PublishRetries, cfg.Bus.ReconnectInitial),
		bus.WithBufferSize(cfg.Bus.BufferSize),
		bus.WithLogger(logger),
		bus.WithMetrics(metrics),
	)
	if err := link.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if closeErr := link.Close(); closeErr != nil {
			errutil.LogWarn(logger, "error closing bus link", closeErr)
		}
	}()

	dispatcher := realtime.NewDispatcher(link, realtime.NewRegistry(),
		realtime.WithDispatcherLogger(logger),
		realtime.WithDispatcherMetrics(metrics),
	)
	producer := realtime.NewBusProducer(link,
		realtime.WithProducerLogger(logger),
		realtime.WithProducerMetrics(metrics),
	)
	hub := realtime.NewHub(dispatcher, producer,
		realtime.WithSessionConfig(realtime.SessionConfig{
			SendBuffer: cfg.Realtime.SendBuffer,
			PingPeriod: cfg.Realtime.PingPeriod,
			RateLimit:  rate.Limit(cfg.Realtime.RateLimit),
			RateBurst:  cfg.Realtime.RateBurst,
		}),
		realtime.WithHubLogger(logger),
		realtime.WithHubMetrics(metrics),
	)
	defer hub.Close()

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret,
		auth.WithCacheTTL(cfg.Auth.CacheTTL),
		auth.WithLeeway(cfg.Auth.Leeway),
		auth.WithVerifierLogger(logger),
	)
	if err != nil {
		return err
	}
	defer verifier.Close()

	throttle := auth.NewThrottle()
	defer throttle.Stop()

	svc := task.NewService(st, producer, task.WithLogger(logger))

	apiServer := api.NewServer(api.Config{
		Addr: cfg.HTTP.Addr,
		WebSocket: realtime.WebSocketConfig{
			MaxMessageSize: cfg.Realtime.MaxMessageSize,
			PongWait:       cfg.Realtime.PongWait,
			WriteWait:      cfg.Realtime.WriteWait,
		},
	}, api.Deps{
		Tasks:    svc,
		Users:    st,
		Auth:     verifier,
		Throttle: throttle,
		Sessions: hub,
		Metrics:  metrics,
		Logger:   logger,
	})
	apiErrCh, err := apiServer.Start()
	if err != nil {
		return err
	}

	var obsServer ObservabilityServer
	var obsErrCh <-chan error
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, registry, metrics, func(ctx context.Context) error {
			return ready(ctx, link, st)
		})
		obsErrCh, err = obsServer.Start()
		if err != nil {
			shutdown(logger, cfg, apiServer, nil)
			return oops.Code("OBSERVABILITY_START_FAILED").Wrap(err)
		}
	}

	if cfg.Reminders.Enabled {
		scheduler, err := reminder.New(st, producer, cfg.Reminders.Schedule,
			reminder.WithLogger(logger),
			reminder.WithMetrics(metrics),
		)
		if err != nil {
			shutdown(logger, cfg, apiServer, obsServer)
			return err
		}
		go func() {
			if runErr := scheduler.Run(ctx); runErr != nil {
				errutil.LogError(logger, "reminder scheduler stopped", runErr)
			}
		}()
	}

	cmd.Println("TaskPulse started")
	logger.Info("taskpulse ready", "api_addr", apiServer.Addr())

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down", "cause", context.Cause(ctx))
	case err, ok := <-apiErrCh:
		if ok {
			serveErr = oops.Code("API_SERVER_FAILED").Wrap(err)
		}
	case err, ok := <-obsErrCh:
		if ok {
			serveErr = oops.Code("OBSERVABILITY_SERVER_FAILED").Wrap(err)
		}
	}

	shutdown(logger, cfg, apiServer, obsServer)
	logger.Info("shutdown complete")
	return serveErr
}

func shutdown(logger *slog.Logger, cfg *config.Config, apiServer *api.Server, obsServer ObservabilityServer) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := apiServer.Stop(ctx); err != nil {
		errutil.LogWarn(logger, "error stopping api server", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(ctx); err != nil {
			errutil.LogWarn(logger, "error stopping observability server", err)
		}
	}
}

// ready reports why the service cannot take traffic, if it cannot.
func ready(ctx context.Context, link *bus.Link, st *store.Store) error {
	if !link.Connected() {
		return oops.Errorf("bus disconnected")
	}
	if err := st.Ping(ctx); err != nil {
		return oops.Wrapf(err, "database unreachable")
	}
	return nil
}

// newBusDriver builds the configured bus driver.
func newBusDriver(cfg *config.Config, pool *pgxpool.Pool) (bus.Driver, error) {
	switch cfg.Bus.Driver {
	case config.DriverPostgres:
		return buspg.New(pool, pool.Config().ConnConfig), nil
	case config.DriverMQTT:
		return mqtt.New(mqtt.Config{
			Broker:   cfg.Bus.MQTT.Broker,
			ClientID: cfg.Bus.MQTT.ClientID,
			Username: cfg.Bus.MQTT.Username,
			Password: cfg.Bus.MQTT.Password,
			QoS:      byte(cfg.Bus.MQTT.QoS),
			Timeout:  cfg.Bus.MQTT.Timeout,
		}), nil
	case config.DriverMemory:
		return memory.NewBroker().Driver(), nil
	default:
		return nil, oops.Code("CONFIG_INVALID").With("driver", cfg.Bus.Driver).Errorf("unknown bus driver")
	}
}
