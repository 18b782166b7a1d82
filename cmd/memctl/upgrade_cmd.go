package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lanonasis/memctl-go/internal/updatecheck"
)

var (
	upgradeCheckOnly bool

	upgradeCmd = &cobra.Command{
		Use:   "upgrade",
		Short: "Update memctl to the latest release",
		Long: `Check GitHub releases for a newer version and replace the running
binary in place. Development builds are never upgraded. Set
ONASIS_ALLOW_PRERELEASE=true to include prereleases.`,
		Example: `  memctl upgrade --check
  memctl upgrade`,
		RunE: runUpgrade,
	}
)

func init() {
	upgradeCmd.Flags().BoolVar(&upgradeCheckOnly, "check", false, "Only check for updates, do not apply")
}

func runUpgrade(cmd *cobra.Command, _ []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()

	checker := updatecheck.New(a.logger, version)
	info, release, err := checker.Check(ctx)
	if err != nil {
		return err
	}

	if release == nil {
		fmt.Printf("Update checks are disabled for %s builds\n", version)
		return nil
	}
	if !info.UpdateAvailable {
		fmt.Printf("Already on the latest version (%s)\n", info.CurrentVersion)
		return nil
	}

	fmt.Printf("Update available: %s -> %s\n", info.CurrentVersion, info.LatestVersion)
	if info.ReleaseURL != "" {
		fmt.Printf("Release notes: %s\n", info.ReleaseURL)
	}
	if upgradeCheckOnly {
		return nil
	}

	if err := updatecheck.Apply(ctx, a.logger, release); err != nil {
		return err
	}
	fmt.Printf("Updated to %s - restart memctl to use the new version\n", info.LatestVersion)
	return nil
}
