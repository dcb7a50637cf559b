// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/latchkey/latchkey/internal/auth"
)

// NewTokenCmd creates the token command group.
func NewTokenCmd(opts *rootOptions, deps *Deps) *cobra.Command {
	var tenant string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue, inspect, and revoke sign-in tokens",
	}
	cmd.PersistentFlags().StringVar(&tenant, "tenant", "", "account tenant (multi-tenant mode)")

	withSignIn := func(fn func(ctx context.Context, cmd *cobra.Command, svc *auth.SignInService, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, deps, func(ctx context.Context, a *app) error {
				svc, _, err := a.signIn()
				if err != nil {
					return err
				}
				return fn(ctx, cmd, svc, args)
			})
		}
	}

	var password, rememberToken string
	var persistent bool
	signIn := &cobra.Command{
		Use:   "sign-in USERNAME_OR_EMAIL",
		Short: "Authenticate and issue a token",
		Long: `Authenticate and issue a token. Accounts that still owe a second factor
or a password change receive a short-lived partial token; finish with
"token complete-two-factor" or "token complete-password-change".`,
		Args: cobra.ExactArgs(1),
		RunE: withSignIn(func(ctx context.Context, cmd *cobra.Command, svc *auth.SignInService, args []string) error {
			res, err := svc.SignInWithCredentials(ctx, tenant, args[0], password, rememberToken, persistent)
			if err != nil {
				return err
			}
			printResult(cmd, res)
			return nil
		}),
	}
	signIn.Flags().StringVar(&password, "password", "", "account password")
	signIn.Flags().StringVar(&rememberToken, "remember-token", "", "remembered-device token that satisfies two-factor")
	signIn.Flags().BoolVar(&persistent, "persistent", false, "issue a long-lived token")
	_ = signIn.MarkFlagRequired("password")
	cmd.AddCommand(signIn)

	var (
		rememberDevice bool
		certificate    bool
	)
	twoFactor := &cobra.Command{
		Use:   "complete-two-factor PARTIAL_TOKEN CODE",
		Short: "Trade a partial token and a second-factor code for a full token",
		Long: `Trade a partial token and a second-factor code for a full token. With
--certificate the second argument is the thumbprint of a registered client
certificate.`,
		Args: cobra.ExactArgs(2),
		RunE: withSignIn(func(ctx context.Context, cmd *cobra.Command, svc *auth.SignInService, args []string) error {
			complete := svc.CompleteTwoFactor
			if certificate {
				complete = svc.CompleteTwoFactorWithCertificate
			}
			res, err := complete(ctx, args[0], args[1], rememberDevice)
			if err != nil {
				return err
			}
			printResult(cmd, res)
			return nil
		}),
	}
	twoFactor.Flags().BoolVar(&rememberDevice, "remember-device", false, "also issue a remembered-device token")
	twoFactor.Flags().BoolVar(&certificate, "certificate", false, "answer a certificate challenge with a thumbprint")
	cmd.AddCommand(twoFactor)

	var oldPassword, newPassword string
	passwordChange := &cobra.Command{
		Use:   "complete-password-change PARTIAL_TOKEN",
		Short: "Change a required or expired password and receive a full token",
		Args:  cobra.ExactArgs(1),
		RunE: withSignIn(func(ctx context.Context, cmd *cobra.Command, svc *auth.SignInService, args []string) error {
			res, err := svc.CompletePasswordChange(ctx, args[0], oldPassword, newPassword)
			if err != nil {
				return err
			}
			printResult(cmd, res)
			return nil
		}),
	}
	passwordChange.Flags().StringVar(&oldPassword, "old-password", "", "current password")
	passwordChange.Flags().StringVar(&newPassword, "new-password", "", "new password")
	_ = passwordChange.MarkFlagRequired("old-password")
	_ = passwordChange.MarkFlagRequired("new-password")
	cmd.AddCommand(passwordChange)

	cmd.AddCommand(&cobra.Command{
		Use:   "inspect TOKEN",
		Short: "Validate a token and show who it identifies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, deps, func(ctx context.Context, a *app) error {
				_, issuer, err := a.signIn()
				if err != nil {
					return err
				}
				p, err := issuer.CurrentPrincipal(ctx, args[0])
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintf(w, "Token ID\t%s\n", p.TokenID)
				fmt.Fprintf(w, "Subject\t%s\n", p.Subject)
				fmt.Fprintf(w, "Tenant\t%s\n", p.Tenant)
				fmt.Fprintf(w, "Username\t%s\n", p.Username)
				fmt.Fprintf(w, "State\t%s\n", p.State)
				if p.Pending != auth.PendingNone {
					fmt.Fprintf(w, "Pending\t%s\n", p.Pending)
				}
				for _, c := range p.Claims {
					fmt.Fprintf(w, "Claim\t%s=%s\n", c.Type, c.Value)
				}
				fmt.Fprintf(w, "Expires\t%s\n", p.ExpiresAt.UTC().Format(time.RFC3339))
				return w.Flush()
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "sign-out TOKEN",
		Short: "Revoke a token",
		Args:  cobra.ExactArgs(1),
		RunE: withSignIn(func(ctx context.Context, cmd *cobra.Command, svc *auth.SignInService, args []string) error {
			if err := svc.SignOut(ctx, args[0]); err != nil {
				return err
			}
			cmd.Println("Signed out")
			return nil
		}),
	})

	return cmd
}

func printResult(cmd *cobra.Command, res *auth.SignInResult) {
	cmd.Printf("State: %s\n", res.State)
	if res.Pending != auth.PendingNone {
		cmd.Printf("Pending: %s\n", res.Pending)
	}
	cmd.Printf("Token: %s\n", res.Token.Value)
	cmd.Printf("Expires: %s\n", res.Token.ExpiresAt.UTC().Format(time.RFC3339))
	if res.RememberToken != "" {
		cmd.Printf("Remember token: %s\n", res.RememberToken)
	}
}
