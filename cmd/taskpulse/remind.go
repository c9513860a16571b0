// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskpulse/taskpulse/internal/bus"
	"github.com/taskpulse/taskpulse/internal/config"
	"github.com/taskpulse/taskpulse/internal/logging"
	"github.com/taskpulse/taskpulse/internal/realtime"
	"github.com/taskpulse/taskpulse/internal/reminder"
	"github.com/taskpulse/taskpulse/internal/store"
	"github.com/taskpulse/taskpulse/pkg/errutil"
)

// NewRemindCmd creates the remind subcommand.
func NewRemindCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remind",
		Short: "Publish reminders for overdue tasks once",
		Long: `Scan for open tasks whose due date has passed and publish a reminder
for each on its project's topic, then exit. The serve command runs the
same scan on the reminders.schedule cron.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			return runRemind(cmd, cfg)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func runRemind(cmd *cobra.Command, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := logging.SetDefault(serviceName, version, cfg.Log.Format, logging.ParseLevel(cfg.Log.Level))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	pool, err := store.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	driver, err := newBusDriver(cfg, pool)
	if err != nil {
		return err
	}
	link := bus.NewLink(driver,
		bus.WithPublishRetries(cfg.Bus.PublishRetries, cfg.Bus.ReconnectInitial),
		bus.WithLogger(logger),
	)
	if err := link.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if closeErr := link.Close(); closeErr != nil {
			errutil.LogWarn(logger, "error closing bus link", closeErr)
		}
	}()

	scheduler, err := reminder.New(store.New(pool),
		realtime.NewBusProducer(link, realtime.WithProducerLogger(logger)),
		cfg.Reminders.Schedule,
		reminder.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	result, err := scheduler.RunOnce(ctx)
	cmd.Printf("Reminders: %d due, %d sent, %d failed\n", result.Due, result.Sent, result.Failed)
	return err
}
