// Package updatecheck compares the running binary against the newest
// GitHub release and applies self-updates.
package updatecheck

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/mod/semver"
)

// EnvAllowPrerelease enables prerelease versions in checks when set to "true".
const EnvAllowPrerelease = "ONASIS_ALLOW_PRERELEASE"

// VersionInfo is the result of a single update check.
type VersionInfo struct {
	CurrentVersion  string    `json:"current_version"`
	LatestVersion   string    `json:"latest_version,omitempty"`
	UpdateAvailable bool      `json:"update_available"`
	ReleaseURL      string    `json:"release_url,omitempty"`
	IsPrerelease    bool      `json:"is_prerelease,omitempty"`
	CheckedAt       time.Time `json:"checked_at"`
}

// Checker performs version checks against GitHub releases.
type Checker struct {
	logger  *zap.Logger
	version string

	// latestFunc is the release lookup; tests replace it.
	latestFunc func(ctx context.Context, prerelease bool) (*Release, error)
}

// New creates a checker for the given running version.
func New(logger *zap.Logger, version string) *Checker {
	client := NewReleaseClient(logger)
	return &Checker{
		logger:     logger.With(zap.String("component", "updatecheck")),
		version:    version,
		latestFunc: client.Latest,
	}
}

// Check fetches the latest release and compares it against the running
// version. Development builds (non-semver versions) never report an update.
func (c *Checker) Check(ctx context.Context) (*VersionInfo, *Release, error) {
	info := &VersionInfo{
		CurrentVersion: c.version,
		CheckedAt:      time.Now(),
	}

	if !semver.IsValid(ensureVPrefix(c.version)) {
		c.logger.Debug("Skipping update check for non-semver build",
			zap.String("version", c.version))
		return info, nil, nil
	}

	prerelease := os.Getenv(EnvAllowPrerelease) == "true"
	release, err := c.latestFunc(ctx, prerelease)
	if err != nil {
		return nil, nil, err
	}

	info.LatestVersion = release.TagName
	info.ReleaseURL = release.HTMLURL
	info.IsPrerelease = release.Prerelease
	info.UpdateAvailable = newerThan(c.version, release.TagName)

	if info.UpdateAvailable {
		c.logger.Info("Update available",
			zap.String("current", c.version),
			zap.String("latest", release.TagName))
	} else {
		c.logger.Debug("Running latest version", zap.String("version", c.version))
	}
	return info, release, nil
}

// newerThan reports whether latest is strictly newer than current.
func newerThan(current, latest string) bool {
	return semver.Compare(ensureVPrefix(current), ensureVPrefix(latest)) < 0
}

func ensureVPrefix(version string) string {
	if len(version) > 0 && version[0] != 'v' {
		return "v" + version
	}
	return version
}
