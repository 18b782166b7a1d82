package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear stored credentials",
	Long: `Remove every stored credential and its auth bookkeeping. Device
identity, discovered endpoints, and the preferred connection mode are
kept so the next login starts warm.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		a, err := newApp(false)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.auth.Logout(); err != nil {
			return err
		}
		fmt.Println("Logged out")
		return nil
	},
}
