// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

type migrateConfig struct {
	all        bool
	jsonOutput bool
}

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cfg := &migrateConfig{}

	cmd := &cobra.Command{
		Use:   "migrate [up|down|status]",
		Short: "Run database migrations",
		Long: `Apply pending schema migrations (up, the default), roll back the most
recent one (down, or every one with --all), or show the schema status.`,
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			action := "up"
			if len(args) == 1 {
				action = args[0]
			}
			return runMigrate(cmd, action, cfg, nil)
		},
	}

	cmd.Flags().BoolVar(&cfg.all, "all", false, "with down, roll back every migration")
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "with status, output as JSON")

	return cmd
}

func runMigrate(cmd *cobra.Command, action string, cfg *migrateConfig, deps *MigrateDeps) error {
	deps = deps.withDefaults()

	appCfg, err := loadConfig(nil)
	if err != nil {
		return err
	}
	if appCfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database.url is required (set DATABASE_URL)")
	}

	m, err := deps.MigratorFactory(appCfg.Database.URL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			cmd.PrintErrln("warning: closing migrator:", closeErr)
		}
	}()

	switch action {
	case "up":
		cmd.Println("Running migrations...")
		if err := m.Up(); err != nil {
			return oops.Code("MIGRATION_FAILED").With("operation", "up").Wrap(err)
		}
		cmd.Println("Migrations completed successfully")
	case "down":
		if cfg.all {
			cmd.Println("Rolling back all migrations...")
			err = m.Down()
		} else {
			cmd.Println("Rolling back one migration...")
			err = m.Steps(-1)
		}
		if err != nil {
			return oops.Code("MIGRATION_FAILED").With("operation", "down").Wrap(err)
		}
		cmd.Println("Rollback completed successfully")
	case "status":
		status, err := m.Status()
		if err != nil {
			return err
		}
		if cfg.jsonOutput {
			data, err := json.MarshalIndent(status, "", "  ")
			if err != nil {
				return oops.Wrapf(err, "marshal status")
			}
			cmd.Println(string(data))
			return nil
		}
		name := status.Name
		if name == "" {
			name = "none"
		}
		cmd.Printf("Version: %d (%s)\n", status.Version, name)
		if status.Dirty {
			cmd.Println("Dirty:   yes (a migration failed part way; fix and force the version)")
		}
		cmd.Printf("Applied: %s\n", formatVersions(status.Applied))
		cmd.Printf("Pending: %s\n", formatVersions(status.Pending))
	default:
		return oops.Code("CONFIG_INVALID").Errorf("unknown migrate action %q", action)
	}
	return nil
}

func formatVersions(vs []uint) string {
	if len(vs) == 0 {
		return "-"
	}
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ", ")
}
