// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/taskpulse/taskpulse/internal/config"
	"github.com/taskpulse/taskpulse/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the TaskPulse CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "taskpulse",
		Short: "TaskPulse - collaborative task tracking with live updates",
		Long: `TaskPulse serves a task tracking API and pushes task changes to
connected clients over WebSockets, fanned out through a pub/sub bus.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: $XDG_CONFIG_HOME/taskpulse/config.yaml if present)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewRemindCmd())
	cmd.AddCommand(NewStatusCmd())
	cmd.AddCommand(NewUserCmd())
	cmd.AddCommand(NewTokenCmd())

	return cmd
}

// loadConfig reads the config file and any flags in fs that map to config
// keys. fs may be nil.
func loadConfig(fs *pflag.FlagSet) (*config.Config, error) {
	path := configFile
	if path == "" {
		path = xdg.ExistingConfigFile()
	}
	return config.Load(path, fs)
}
