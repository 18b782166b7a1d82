package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lanonasis/memctl-go/internal/faults"
	"github.com/lanonasis/memctl-go/internal/secret"
)

var (
	loginEmail     string
	loginPassword  string
	loginToken     string
	loginVendorKey string

	loginCmd = &cobra.Command{
		Use:   "login",
		Short: "Authenticate with the memory service",
		Long: `Authenticate and store a credential for later commands.

Three credential sources are supported:
  --email/--password   exchanges credentials for a session token
  --token              stores an existing JWT or OAuth access token
  --vendor-key         validates and stores a pk_<id>.sk_<secret> key

Vendor keys accept secret references (env:NAME, keyring:NAME) so the
literal key never has to appear in shell history. With no flags the key
is prompted for without echo.`,
		Example: `  memctl login --email dev@example.com
  memctl login --vendor-key env:ONASIS_KEY
  memctl login --token "$ONASIS_TOKEN"
  memctl login`,
		RunE: runLogin,
	}
)

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "Account email for password login")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Account password (prompted when omitted)")
	loginCmd.Flags().StringVar(&loginToken, "token", "", "Existing session token to store")
	loginCmd.Flags().StringVar(&loginVendorKey, "vendor-key", "", "Vendor key or secret reference (env:NAME, keyring:NAME)")
}

func runLogin(cmd *cobra.Command, _ []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()

	switch {
	case loginEmail != "":
		password := loginPassword
		if password == "" {
			if password, err = promptSecret("Password"); err != nil {
				return err
			}
		}
		if err := a.auth.LoginWithPassword(ctx, loginEmail, password); err != nil {
			return err
		}
		fmt.Println("Logged in with email/password")
		return nil

	case loginToken != "":
		if err := a.auth.SetToken(ctx, loginToken); err != nil {
			return err
		}
		fmt.Println("Token stored")
		return nil

	default:
		key := loginVendorKey
		if key == "" {
			if key, err = promptSecret("Vendor key"); err != nil {
				return err
			}
		}
		if key == "" {
			return faults.New(faults.Validation, "no credential provided")
		}
		resolved, _, err := secret.NewResolver().Resolve(ctx, key)
		if err != nil {
			return err
		}
		if err := a.auth.SetVendorKey(ctx, resolved); err != nil {
			return err
		}
		fmt.Println("Vendor key validated and stored")
		return nil
	}
}
