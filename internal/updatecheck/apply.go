package updatecheck

import (
	"context"
	"fmt"
	"net/http"
	"time"

	update "github.com/inconshreveable/go-update"
	"go.uber.org/zap"

	"github.com/lanonasis/memctl-go/internal/faults"
)

const downloadTimeout = 5 * time.Minute

// Apply downloads the release asset for this OS and architecture and
// replaces the running binary in place. The previous binary is restored
// when the swap fails partway.
func Apply(ctx context.Context, logger *zap.Logger, release *Release) error {
	assetURL, err := AssetURL(release)
	if err != nil {
		return err
	}

	logger.Info("Downloading update",
		zap.String("version", release.TagName),
		zap.String("url", assetURL))

	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return faults.Wrap(faults.Network, "downloading update", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return faults.Newf(faults.Server, "update download returned status %d", resp.StatusCode)
	}

	if err := update.Apply(resp.Body, update.Options{}); err != nil {
		if rollbackErr := update.RollbackError(err); rollbackErr != nil {
			return fmt.Errorf("update failed and rollback failed: %w (rollback: %v)", err, rollbackErr)
		}
		return fmt.Errorf("applying update: %w", err)
	}

	logger.Info("Updated binary", zap.String("version", release.TagName))
	return nil
}
