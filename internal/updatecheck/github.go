package updatecheck

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lanonasis/memctl-go/internal/faults"
)

const (
	// GitHubRepo is the repository checked for new releases.
	GitHubRepo = "lanonasis/memctl-go"

	defaultAPIBase = "https://api.github.com"
	httpTimeout    = 10 * time.Second
)

// Release is a release from the GitHub Releases API.
type Release struct {
	TagName    string  `json:"tag_name"`
	Name       string  `json:"name"`
	Prerelease bool    `json:"prerelease"`
	HTMLURL    string  `json:"html_url"`
	Assets     []Asset `json:"assets"`
}

// Asset is a downloadable file attached to a release.
type Asset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Size               int64  `json:"size"`
}

// ReleaseClient talks to the GitHub Releases API.
type ReleaseClient struct {
	logger     *zap.Logger
	httpClient *http.Client
	apiBase    string
	repo       string
}

// NewReleaseClient creates a client for the project's release repository.
func NewReleaseClient(logger *zap.Logger) *ReleaseClient {
	return &ReleaseClient{
		logger:     logger.With(zap.String("component", "updatecheck")),
		httpClient: &http.Client{Timeout: httpTimeout},
		apiBase:    defaultAPIBase,
		repo:       GitHubRepo,
	}
}

// Latest fetches the newest release. With includePrereleases it lists all
// releases and takes the first entry (GitHub sorts newest first); otherwise
// it asks for the latest stable release.
func (c *ReleaseClient) Latest(ctx context.Context, includePrereleases bool) (*Release, error) {
	if includePrereleases {
		releases, err := c.listReleases(ctx)
		if err != nil {
			return nil, err
		}
		if len(releases) == 0 {
			return nil, faults.New(faults.Server, "no releases found")
		}
		return &releases[0], nil
	}

	url := fmt.Sprintf("%s/repos/%s/releases/latest", c.apiBase, c.repo)
	var release Release
	if err := c.getJSON(ctx, url, &release); err != nil {
		return nil, err
	}
	return &release, nil
}

func (c *ReleaseClient) listReleases(ctx context.Context) ([]Release, error) {
	url := fmt.Sprintf("%s/repos/%s/releases", c.apiBase, c.repo)
	var releases []Release
	if err := c.getJSON(ctx, url, &releases); err != nil {
		return nil, err
	}
	return releases, nil
}

func (c *ReleaseClient) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("Release fetch failed", zap.Error(err))
		return faults.Wrap(faults.Network, "fetching release metadata", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("GitHub API returned non-200 status",
			zap.Int("status_code", resp.StatusCode),
			zap.String("url", url))
		return faults.Newf(faults.Server, "GitHub API returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return faults.Wrap(faults.Server, "decoding release metadata", err)
	}
	return nil
}

// AssetURL picks the download URL matching the running OS and architecture.
// Release assets use x86_64 naming for amd64 builds.
func AssetURL(release *Release) (string, error) {
	osName := runtime.GOOS
	archName := runtime.GOARCH
	if archName == "amd64" {
		archName = "x86_64"
	}

	for _, asset := range release.Assets {
		name := strings.ToLower(asset.Name)
		if strings.Contains(name, osName) && strings.Contains(name, archName) {
			return asset.BrowserDownloadURL, nil
		}
	}
	return "", faults.Newf(faults.Validation, "no release asset for %s/%s", osName, archName)
}
