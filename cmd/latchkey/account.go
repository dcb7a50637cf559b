// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/latchkey/latchkey/internal/account"
)

// NewAccountCmd creates the account command group.
func NewAccountCmd(opts *rootOptions, deps *Deps) *cobra.Command {
	var tenant string
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Administer accounts",
	}
	cmd.PersistentFlags().StringVar(&tenant, "tenant", "", "account tenant (multi-tenant mode)")

	withApp := func(fn func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, deps, func(ctx context.Context, a *app) error {
				return fn(ctx, cmd, a, args)
			})
		}
	}

	var password string
	create := &cobra.Command{
		Use:   "create USERNAME EMAIL",
		Short: "Register an account",
		Long: `Register an account. With email-as-username enabled, pass the email
address as both arguments.`,
		Args: cobra.ExactArgs(2),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			acct, err := a.accounts.CreateAccount(ctx, tenant, args[0], password, args[1])
			if err != nil {
				return err
			}
			cmd.Printf("Created account %s (%s)\n", acct.ID(), acct.Username())
			if !acct.IsAccountVerified() {
				cmd.Printf("Verification key: %s\n", acct.VerificationKey())
			}
			return nil
		}),
	}
	create.Flags().StringVar(&password, "password", "", "initial password")
	_ = create.MarkFlagRequired("password")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "verify KEY",
		Short: "Verify an account with its emailed key",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			ok, err := a.accounts.VerifyAccount(ctx, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return oops.Code("VERIFY_FAILED").Errorf("verification key is invalid or expired")
			}
			cmd.Println("Account verified")
			return nil
		}),
	})

	var authPassword string
	authenticate := &cobra.Command{
		Use:   "authenticate USERNAME_OR_EMAIL",
		Short: "Check a password",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			acct, ok, err := a.accounts.AuthenticateWithUsernameOrEmail(ctx, tenant, args[0], authPassword)
			if err != nil {
				return err
			}
			if !ok {
				return oops.Code("AUTH_INVALID_CREDENTIALS").Errorf("invalid username or password")
			}
			cmd.Printf("Authenticated %s\n", acct.ID())
			if acct.RequiresTwoFactorAuthToSignIn() {
				cmd.Printf("Second factor required: %s\n", acct.CurrentTwoFactorStatus())
			}
			return nil
		}),
	}
	authenticate.Flags().StringVar(&authPassword, "password", "", "password to check")
	_ = authenticate.MarkFlagRequired("password")
	cmd.AddCommand(authenticate)

	var resetKey, resetPassword string
	reset := &cobra.Command{
		Use:   "reset-password EMAIL",
		Short: "Request a password reset key, or redeem one with --key",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			if resetKey != "" {
				changed, err := a.accounts.ChangePasswordFromResetKey(ctx, resetKey, resetPassword)
				if err != nil {
					return err
				}
				if !changed {
					return oops.Code("RESET_FAILED").Errorf("reset key is invalid or expired")
				}
				cmd.Println("Password changed")
				return nil
			}
			if len(args) != 1 {
				return oops.Code("INVALID_ARGUMENT").Errorf("EMAIL is required without --key")
			}
			if err := a.accounts.ResetPassword(ctx, tenant, args[0]); err != nil {
				return err
			}
			cmd.Println("If the address belongs to an account, a reset key has been sent")
			return nil
		}),
	}
	reset.Flags().StringVar(&resetKey, "key", "", "reset key to redeem")
	reset.Flags().StringVar(&resetPassword, "new-password", "", "new password when redeeming a key")
	reset.MarkFlagsRequiredTogether("key", "new-password")
	cmd.AddCommand(reset)

	var oldPassword, newPassword string
	change := &cobra.Command{
		Use:   "change-password ACCOUNT",
		Short: "Change a password given the current one",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			acct, err := a.resolve(ctx, tenant, args[0])
			if err != nil {
				return err
			}
			if err := a.accounts.ChangePassword(ctx, acct.ID(), oldPassword, newPassword); err != nil {
				return err
			}
			cmd.Println("Password changed")
			return nil
		}),
	}
	change.Flags().StringVar(&oldPassword, "old-password", "", "current password")
	change.Flags().StringVar(&newPassword, "new-password", "", "new password")
	_ = change.MarkFlagRequired("old-password")
	_ = change.MarkFlagRequired("new-password")
	cmd.AddCommand(change)

	byRef := func(use, short, done string, fn func(ctx context.Context, a *app, acct *account.Account) error) *cobra.Command {
		return &cobra.Command{
			Use:   use + " ACCOUNT",
			Short: short,
			Long:  short + ". ACCOUNT is an account ID or username.",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
				acct, err := a.resolve(ctx, tenant, args[0])
				if err != nil {
					return err
				}
				if err := fn(ctx, a, acct); err != nil {
					return err
				}
				cmd.Printf("%s %s\n", done, acct.ID())
				return nil
			}),
		}
	}

	cmd.AddCommand(byRef("close", "Close an account", "Closed",
		func(ctx context.Context, a *app, acct *account.Account) error {
			return a.accounts.CloseAccount(ctx, acct.ID())
		}))
	cmd.AddCommand(byRef("delete", "Delete an account", "Deleted",
		func(ctx context.Context, a *app, acct *account.Account) error {
			return a.accounts.DeleteAccount(ctx, acct.ID())
		}))
	cmd.AddCommand(byRef("lock", "Refuse logins to an account", "Locked",
		func(ctx context.Context, a *app, acct *account.Account) error {
			return a.accounts.SetIsLoginAllowed(ctx, acct.ID(), false)
		}))
	cmd.AddCommand(byRef("unlock", "Allow logins to an account", "Unlocked",
		func(ctx context.Context, a *app, acct *account.Account) error {
			return a.accounts.SetIsLoginAllowed(ctx, acct.ID(), true)
		}))
	cmd.AddCommand(byRef("require-password-reset", "Force a password change at next sign-in", "Password reset required for",
		func(ctx context.Context, a *app, acct *account.Account) error {
			return a.accounts.SetRequiresPasswordReset(ctx, acct.ID(), true)
		}))
	cmd.AddCommand(byRef("resend-verification", "Send a fresh verification key", "Verification sent for",
		func(ctx context.Context, a *app, acct *account.Account) error {
			return a.accounts.RequestAccountVerification(ctx, acct.ID())
		}))

	cmd.AddCommand(&cobra.Command{
		Use:   "show ACCOUNT",
		Short: "Show one account",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			acct, err := a.resolve(ctx, tenant, args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "ID\t%s\n", acct.ID())
			fmt.Fprintf(w, "Tenant\t%s\n", acct.Tenant())
			fmt.Fprintf(w, "Username\t%s\n", acct.Username())
			fmt.Fprintf(w, "Email\t%s\n", acct.Email())
			fmt.Fprintf(w, "Verified\t%t\n", acct.IsAccountVerified())
			fmt.Fprintf(w, "Login allowed\t%t\n", acct.IsLoginAllowed())
			fmt.Fprintf(w, "Closed\t%t\n", acct.IsAccountClosed())
			fmt.Fprintf(w, "Failed logins\t%d\n", acct.FailedLoginCount())
			fmt.Fprintf(w, "Two-factor\t%s\n", acct.TwoFactorMode())
			return w.Flush()
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List open accounts",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			accts, err := a.accounts.GetAll(ctx, tenant)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTENANT\tUSERNAME\tEMAIL\tVERIFIED")
			for _, acct := range accts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n",
					acct.ID(), acct.Tenant(), acct.Username(), acct.Email(), acct.IsAccountVerified())
			}
			return w.Flush()
		}),
	})

	return cmd
}
