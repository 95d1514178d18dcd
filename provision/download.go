package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/dustin/go-humanize"
)

// download fetches url into dst. The body is written to dst+".part" and only
// renamed to dst once fully received, so an interrupted download never looks
// like a cached archive.
func (p *Provisioner) download(ctx context.Context, url, dst string, logger *slog.Logger) error {
	logger.Info("downloading", slog.String("url", url))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: unexpected status %s", url, resp.Status)
	}

	part := dst + ".part"

	//nolint:gosec // Path is derived from the configured install root.
	f, err := os.Create(part)
	if err != nil {
		return fmt.Errorf("create %s: %w", part, err)
	}

	n, err := io.Copy(f, resp.Body)
	if err != nil {
		closeErr := f.Close()

		if rmErr := os.Remove(part); rmErr != nil {
			logger.Warn("remove partial download", slog.Any("error", rmErr))
		}

		return errors.Join(fmt.Errorf("download %s: %w", url, err), closeErr)
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("close %s: %w", part, err)
	}

	err = os.Rename(part, dst)
	if err != nil {
		return fmt.Errorf("rename %s: %w", part, err)
	}

	logger.Info("downloaded", slog.String("size", humanize.Bytes(uint64(n)))) //nolint:gosec // n is non-negative.

	return nil
}
