// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

package main

import (
	"github.com/spf13/cobra"
)

// rootOptions are the flags shared by every subcommand that are not part
// of the config file.
type rootOptions struct {
	configFile    string
	inMemory      bool
	revealSecrets bool
}

// NewRootCmd creates the root command. deps may be nil.
func NewRootCmd(deps *Deps) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "latchkey",
		Short: "Latchkey - account and credential management",
		Long: `Latchkey manages user accounts and their credentials: registration and
email verification, password and two-factor authentication, lockout,
password reset, and signed session tokens.`,
		SilenceUsage: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/latchkey/config.yaml)")
	pf.BoolVar(&opts.inMemory, "in-memory", false, "use a throwaway in-process account store instead of Postgres")
	pf.BoolVar(&opts.revealSecrets, "reveal-secrets", false, "log verification keys and codes in notifications")
	pf.String("database-url", "", "Postgres connection URL (overrides DATABASE_URL)")
	pf.String("redis-addr", "", "Redis address for token revocations")
	pf.String("log-format", "json", "log format (json or text)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("metrics-textfile", "", "write metrics to this node-exporter textfile on exit")
	pf.String("signing-key", "", "token signing key, at least 32 bytes")
	pf.Bool("multi-tenant", false, "accept caller-supplied tenants")
	pf.String("default-tenant", "", "tenant used when multi-tenancy is off")

	cmd.AddCommand(NewMigrateCmd(opts, deps))
	cmd.AddCommand(NewAccountCmd(opts, deps))
	cmd.AddCommand(NewTokenCmd(opts, deps))

	return cmd
}
