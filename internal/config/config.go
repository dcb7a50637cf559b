// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

// Package config loads Latchkey configuration from defaults, a YAML file,
// and command-line flags, in that order of precedence.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/latchkey/latchkey/internal/auth"
	"github.com/latchkey/latchkey/internal/policy"
	"github.com/latchkey/latchkey/internal/token"
)

// DatabaseURLEnv overrides database.url when set.
const DatabaseURLEnv = "DATABASE_URL"

// Config is the full Latchkey configuration.
type Config struct {
	Security Security `koanf:"security"`
	Database Database `koanf:"database"`
	Redis    Redis    `koanf:"redis"`
	Token    Token    `koanf:"token"`
	Log      Log      `koanf:"log"`
	Metrics  Metrics  `koanf:"metrics"`
}

// Security mirrors auth.SecuritySettings.
type Security struct {
	MultiTenant                    bool          `koanf:"multi_tenant"`
	DefaultTenant                  string        `koanf:"default_tenant"`
	EmailIsUsername                bool          `koanf:"email_is_username"`
	UsernamesUniqueAcrossTenants   bool          `koanf:"usernames_unique_across_tenants"`
	RequireAccountVerification     bool          `koanf:"require_account_verification"`
	AllowLoginAfterAccountCreation bool          `koanf:"allow_login_after_account_creation"`
	LockoutFailedLoginAttempts     int           `koanf:"lockout_failed_login_attempts"`
	LockoutDuration                time.Duration `koanf:"lockout_duration"`
	AllowAccountDeletion           bool          `koanf:"allow_account_deletion"`
	PasswordHashingIterationCount  int           `koanf:"password_hashing_iteration_count"`
	PasswordResetFrequency         int           `koanf:"password_reset_frequency"`
	UsernamePunctuation            string        `koanf:"username_punctuation"`
	ReservedUsernames              []string      `koanf:"reserved_usernames"`
	MinPasswordLength              int           `koanf:"min_password_length"`
	MinPasswordScore               int           `koanf:"min_password_score"`
}

// Database configures the Postgres repository.
type Database struct {
	URL string `koanf:"url"`
}

// Redis configures the token revocation store. An empty Addr keeps
// revocations in process.
type Redis struct {
	Addr      string `koanf:"addr"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	KeyPrefix string `koanf:"key_prefix"`
}

// Token configures the token issuer.
type Token struct {
	Issuer             string        `koanf:"issuer"`
	SigningKey         string        `koanf:"signing_key"`
	Lifetime           time.Duration `koanf:"lifetime"`
	PersistentLifetime time.Duration `koanf:"persistent_lifetime"`
	PartialLifetime    time.Duration `koanf:"partial_lifetime"`
}

// Log configures the default logger.
type Log struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// Metrics configures metric export.
type Metrics struct {
	// Textfile is a node-exporter textfile path written on exit. Empty
	// disables export.
	Textfile string `koanf:"textfile"`
}

// Default returns the built-in configuration.
func Default() Config {
	s := auth.DefaultSecuritySettings()
	return Config{
		Security: Security{
			MultiTenant:                    s.MultiTenant,
			DefaultTenant:                  s.DefaultTenant,
			EmailIsUsername:                s.EmailIsUsername,
			UsernamesUniqueAcrossTenants:   s.UsernamesUniqueAcrossTenants,
			RequireAccountVerification:     s.RequireAccountVerification,
			AllowLoginAfterAccountCreation: s.AllowLoginAfterAccountCreation,
			LockoutFailedLoginAttempts:     s.AccountLockoutFailedLoginAttempts,
			LockoutDuration:                s.AccountLockoutDuration,
			AllowAccountDeletion:           s.AllowAccountDeletion,
			PasswordHashingIterationCount:  s.PasswordHashingIterationCount,
			PasswordResetFrequency:         s.PasswordResetFrequency,
			UsernamePunctuation:            s.Policy.UsernamePunctuation,
			ReservedUsernames:              s.Policy.ReservedUsernames,
			MinPasswordLength:              s.Policy.MinPasswordLength,
			MinPasswordScore:               s.Policy.MinPasswordScore,
		},
		Redis: Redis{KeyPrefix: token.DefaultRedisPrefix},
		Token: Token{
			Issuer:             token.DefaultIssuer,
			Lifetime:           auth.DefaultTokenLifetime,
			PersistentLifetime: auth.DefaultPersistentLifetime,
			PartialLifetime:    auth.DefaultPartialTokenLifetime,
		},
		Log: Log{Format: "json", Level: "info"},
	}
}

// SecuritySettings converts the security section for the account services.
func (c Config) SecuritySettings() auth.SecuritySettings {
	s := c.Security
	return auth.SecuritySettings{
		MultiTenant:                       s.MultiTenant,
		DefaultTenant:                     s.DefaultTenant,
		EmailIsUsername:                   s.EmailIsUsername,
		UsernamesUniqueAcrossTenants:      s.UsernamesUniqueAcrossTenants,
		RequireAccountVerification:        s.RequireAccountVerification,
		AllowLoginAfterAccountCreation:    s.AllowLoginAfterAccountCreation,
		AccountLockoutFailedLoginAttempts: s.LockoutFailedLoginAttempts,
		AccountLockoutDuration:            s.LockoutDuration,
		AllowAccountDeletion:              s.AllowAccountDeletion,
		PasswordHashingIterationCount:     s.PasswordHashingIterationCount,
		PasswordResetFrequency:            s.PasswordResetFrequency,
		Policy: policy.Settings{
			UsernamePunctuation: s.UsernamePunctuation,
			ReservedUsernames:   s.ReservedUsernames,
			MinPasswordLength:   s.MinPasswordLength,
			MinPasswordScore:    s.MinPasswordScore,
		},
	}
}

// Validate rejects configuration no command can run with.
func (c Config) Validate() error {
	if err := c.SecuritySettings().Validate(); err != nil {
		return err
	}
	switch {
	case c.Log.Format != "json" && c.Log.Format != "text":
		return oops.Code("CONFIG_INVALID").With("field", "log.format").
			Errorf("log format must be 'json' or 'text', got %q", c.Log.Format)
	case c.Security.MinPasswordScore < 0 || c.Security.MinPasswordScore > 4:
		return oops.Code("CONFIG_INVALID").With("field", "security.min_password_score").
			Errorf("password score must be between 0 and 4, got %d", c.Security.MinPasswordScore)
	case c.Token.Lifetime <= 0, c.Token.PersistentLifetime <= 0, c.Token.PartialLifetime <= 0:
		return oops.Code("CONFIG_INVALID").With("field", "token").
			Errorf("token lifetimes must be positive")
	case c.Token.SigningKey != "" && len(c.Token.SigningKey) < token.MinKeyLength:
		return oops.Code("CONFIG_INVALID").With("field", "token.signing_key").
			Errorf("signing key must be at least %d bytes", token.MinKeyLength)
	}
	return nil
}

// FlagKeys maps command-line flag names to config keys.
var FlagKeys = map[string]string{
	"database-url":     "database.url",
	"redis-addr":       "redis.addr",
	"log-format":       "log.format",
	"log-level":        "log.level",
	"metrics-textfile": "metrics.textfile",
	"signing-key":      "token.signing_key",
	"multi-tenant":     "security.multi_tenant",
	"default-tenant":   "security.default_tenant",
}

// Load builds a Config. path may be empty; a missing file is only an
// error when required is set. DATABASE_URL overrides the file, and flags
// the user changed override both.
func Load(path string, required bool, flags *pflag.FlagSet) (Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if path != "" {
		err := k.Load(file.Provider(path), yaml.Parser())
		switch {
		case err == nil:
		case errors.Is(err, fs.ErrNotExist) && !required:
		default:
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if url := strings.TrimSpace(os.Getenv(DatabaseURLEnv)); url != "" {
		if err := k.Set("database.url", url); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("source", DatabaseURLEnv).Wrap(err)
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := FlagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
