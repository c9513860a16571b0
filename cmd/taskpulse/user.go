// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

package main

import (
	"context"
	"strconv"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/taskpulse/taskpulse/internal/auth"
	"github.com/taskpulse/taskpulse/internal/config"
	"github.com/taskpulse/taskpulse/internal/store"
)

const defaultTokenTTL = 24 * time.Hour

type userCreateConfig struct {
	role string
	ttl  time.Duration
}

// NewUserCmd creates the user subcommand.
func NewUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	cmd.AddCommand(newUserCreateCmd())
	return cmd
}

func newUserCreateCmd() *cobra.Command {
	cfg := &userCreateConfig{}

	cmd := &cobra.Command{
		Use:   "create <username>",
		Short: "Create a user and print a bearer token for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserCreate(cmd, args[0], cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.role, "role", auth.RoleMember, "user role (member or admin)")
	cmd.Flags().DurationVar(&cfg.ttl, "ttl", defaultTokenTTL, "token lifetime")

	return cmd
}

func runUserCreate(cmd *cobra.Command, username string, cfg *userCreateConfig) error {
	if err := checkRole(cfg.role); err != nil {
		return err
	}
	appCfg, err := loadConfig(nil)
	if err != nil {
		return err
	}
	if appCfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database.url is required (set %s)", config.EnvDatabaseURL)
	}
	issuer, err := auth.NewIssuer(appCfg.Auth.JWTSecret, cfg.ttl)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	pool, err := store.Connect(ctx, appCfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	user, err := store.New(pool).CreateUser(ctx, username, cfg.role)
	if err != nil {
		return err
	}
	token, err := issuer.Issue(auth.Principal{UserID: user.ID, Username: user.Username, Role: user.Role})
	if err != nil {
		return err
	}

	cmd.Printf("Created user %s (id %d, role %s)\n", user.Username, user.ID, user.Role)
	cmd.Println(token)
	return nil
}

type tokenConfig struct {
	username string
	role     string
	ttl      time.Duration
}

// NewTokenCmd creates the token subcommand.
func NewTokenCmd() *cobra.Command {
	cfg := &tokenConfig{}

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Print a bearer token for an existing user",
		Long: `Sign a bearer token for the given user ID with auth.jwt_secret. The
database is not consulted, so the caller vouches for the username and role.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(cmd, args[0], cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.username, "username", "", "username claim")
	cmd.Flags().StringVar(&cfg.role, "role", auth.RoleMember, "role claim (member or admin)")
	cmd.Flags().DurationVar(&cfg.ttl, "ttl", defaultTokenTTL, "token lifetime")

	return cmd
}

func runToken(cmd *cobra.Command, rawID string, cfg *tokenConfig) error {
	userID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || userID <= 0 {
		return oops.Code("VALIDATION_FAILED").Errorf("user id must be a positive integer, got %q", rawID)
	}
	if err := checkRole(cfg.role); err != nil {
		return err
	}

	appCfg, err := loadConfig(nil)
	if err != nil {
		return err
	}
	issuer, err := auth.NewIssuer(appCfg.Auth.JWTSecret, cfg.ttl)
	if err != nil {
		return err
	}

	token, err := issuer.Issue(auth.Principal{UserID: userID, Username: cfg.username, Role: cfg.role})
	if err != nil {
		return err
	}
	cmd.Println(token)
	return nil
}

func checkRole(role string) error {
	if role != auth.RoleMember && role != auth.RoleAdmin {
		return oops.Code("VALIDATION_FAILED").Errorf("role must be %q or %q, got %q", auth.RoleMember, auth.RoleAdmin, role)
	}
	return nil
}
