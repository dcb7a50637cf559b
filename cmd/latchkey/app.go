// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

package main

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/latchkey/latchkey/internal/account"
	"github.com/latchkey/latchkey/internal/account/memory"
	"github.com/latchkey/latchkey/internal/account/postgres"
	"github.com/latchkey/latchkey/internal/auth"
	"github.com/latchkey/latchkey/internal/config"
	"github.com/latchkey/latchkey/internal/eventbus"
	"github.com/latchkey/latchkey/internal/logging"
	"github.com/latchkey/latchkey/internal/notify"
	"github.com/latchkey/latchkey/internal/observability"
	"github.com/latchkey/latchkey/internal/secret"
	"github.com/latchkey/latchkey/internal/store"
	"github.com/latchkey/latchkey/internal/token"
	"github.com/latchkey/latchkey/internal/xdg"
	"github.com/latchkey/latchkey/pkg/errutil"
)

// Deps contains injectable dependencies for the account and token commands.
// All fields with nil values use their default implementations.
type Deps struct {
	// Repository stores accounts.
	// Default: Postgres at database.url, or memory with --in-memory.
	Repository account.Repository

	// Revocations records signed-out tokens.
	// Default: Redis at redis.addr, or in process.
	Revocations token.Revocations

	// Env supplies the clock and password hasher.
	// Default: the wall clock and the configured iteration count.
	Env *account.Env

	// MigratorFactory opens a schema migrator.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)
}

// app is the wired service graph for one command invocation.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	env      account.Env
	bus      *eventbus.Bus
	metrics  *observability.Metrics
	accounts *auth.AccountService
	opts     *rootOptions
	deps     *Deps
	closers  []func()
}

// loadConfig resolves the config file and merges flags.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (config.Config, error) {
	path, required := opts.configFile, true
	if path == "" {
		required = false
		def, err := xdg.ConfigFile()
		if err != nil {
			return config.Config{}, err
		}
		path = def
	}
	return config.Load(path, required, cmd.Flags())
}

// newApp builds the account service graph.
func newApp(cmd *cobra.Command, opts *rootOptions, deps *Deps) (*app, error) {
	if deps == nil {
		deps = &Deps{}
	}
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return nil, err
	}

	logger := logging.Setup(logging.Options{
		Service: "latchkey",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   logging.ParseLevel(cfg.Log.Level),
		Writer:  cmd.ErrOrStderr(),
	})
	settings := cfg.SecuritySettings()

	a := &app{cfg: cfg, logger: logger, opts: opts, deps: deps}
	if deps.Env != nil {
		a.env = *deps.Env
	} else {
		a.env = account.Env{
			Now:    time.Now,
			Hasher: &secret.Hasher{Iterations: settings.PasswordHashingIterationCount},
		}
	}

	repo, err := a.repository(cmd.Context())
	if err != nil {
		a.close()
		return nil, err
	}

	a.bus = eventbus.New(eventbus.WithLogger(logger))
	a.metrics = observability.NewMetrics(false)
	a.metrics.Subscribe(a.bus)
	notifier, err := notify.NewHandler(notify.LogSender{Logger: logger, Reveal: opts.revealSecrets}, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	notifier.Register(a.bus)

	a.accounts, err = auth.NewAccountService(repo, settings,
		auth.WithPublisher(a.bus),
		auth.WithEnv(a.env),
		auth.WithLogger(logger))
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) repository(ctx context.Context) (account.Repository, error) {
	switch {
	case a.deps.Repository != nil:
		return a.deps.Repository, nil
	case a.opts.inMemory:
		a.logger.WarnContext(ctx, "using in-memory account store; nothing is persisted")
		return memory.NewRepository(memory.WithEnv(a.env)), nil
	case a.cfg.Database.URL == "":
		return nil, oops.Code("CONFIG_INVALID").
			Errorf("database.url (or %s) is required unless --in-memory is set", config.DatabaseURLEnv)
	}
	pool, err := store.Connect(ctx, a.cfg.Database.URL, store.ConnectOptions{Logger: a.logger})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pool.Close)
	return postgres.NewRepository(pool).WithEnv(a.env), nil
}

// signIn builds the token issuer and sign-in façade.
func (a *app) signIn() (*auth.SignInService, *token.Issuer, error) {
	key := a.cfg.Token.SigningKey
	if key == "" {
		if !a.opts.inMemory {
			return nil, nil, oops.Code("CONFIG_INVALID").Errorf("token.signing_key is required")
		}
		// In-memory runs get a throwaway key; tokens die with the process.
		for len(key) < token.MinKeyLength {
			part, err := secret.GenerateKey()
			if err != nil {
				return nil, nil, err
			}
			key += part
		}
	}

	revocations := a.deps.Revocations
	if revocations == nil && a.cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		a.closers = append(a.closers, func() { _ = client.Close() })
		revocations = token.NewRedisRevocations(client, a.cfg.Redis.KeyPrefix)
	}

	issuer, err := token.NewIssuer(token.Config{
		Issuer:      a.cfg.Token.Issuer,
		SigningKey:  []byte(key),
		Revocations: revocations,
		Now:         a.env.Now,
	})
	if err != nil {
		return nil, nil, err
	}
	svc, err := auth.NewSignInService(a.accounts, issuer,
		auth.WithSignInLogger(a.logger),
		auth.WithSignInRecorder(a.metrics),
		auth.WithTokenLifetimes(a.cfg.Token.Lifetime, a.cfg.Token.PersistentLifetime, a.cfg.Token.PartialLifetime))
	if err != nil {
		return nil, nil, err
	}
	return svc, issuer, nil
}

// resolve finds an account by ID or username.
func (a *app) resolve(ctx context.Context, tenant, ref string) (*account.Account, error) {
	ref = strings.TrimSpace(ref)
	if id, err := ulid.ParseStrict(ref); err == nil {
		return a.accounts.GetByID(ctx, id)
	}
	acct, err := a.accounts.GetByUsername(ctx, tenant, ref)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("account", ref).Errorf("no account %q", ref)
	}
	return acct, nil
}

// close flushes metrics and releases connections.
func (a *app) close() {
	if a.metrics != nil && a.cfg.Metrics.Textfile != "" {
		if err := a.metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
			errutil.LogError(a.logger, "metrics export failed", err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// run builds an app, hands it to fn, and tears it down.
func run(cmd *cobra.Command, opts *rootOptions, deps *Deps, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(cmd, opts, deps)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(cmd.Context(), a)
}
