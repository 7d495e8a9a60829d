package update

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/lawik/hub_link_agent/internal/agenterr"
)

// httpClient is overridable in tests; production code uses http.DefaultClient
// and leans on net/http's own redirect following rather than reimplementing
// it.
var httpClient = http.DefaultClient

// downloadTo fetches url and writes the full body to pu.DownloadPath,
// truncating any existing file there first, calling onBytes after every
// chunk written so the caller can derive progress. The full body is written
// to disk before the caller applies it; there is no streaming apply.
func downloadTo(ctx context.Context, logger *slog.Logger, url string, pu *PendingUpdate, onBytes func(written, total int64)) error {
	const op = "update.downloadTo"

	logger.Info("download starting", "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		logger.Info("download ended", "url", url, "error", err)
		return agenterr.New(agenterr.DownloadFailed, op, err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		logger.Info("download ended", "url", url, "error", err)
		return agenterr.New(agenterr.DownloadFailed, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := agenterr.New(agenterr.DownloadFailed, op, fmt.Errorf("unexpected status %d", resp.StatusCode))
		logger.Info("download ended", "url", url, "error", err)
		return err
	}

	pu.BytesTotal = resp.ContentLength // -1 if absent; no percent progress is reported then, only the terminal 100.

	f, err := os.Create(pu.DownloadPath)
	if err != nil {
		err = agenterr.New(agenterr.IoFailed, op, err)
		logger.Info("download ended", "url", url, "error", err)
		return err
	}
	defer f.Close()

	var written int64
	buf := make([]byte, 64*1024)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				err := agenterr.New(agenterr.IoFailed, op, werr)
				logger.Info("download ended", "url", url, "error", err)
				return err
			}
			written += int64(n)
			pu.BytesWritten = written
			onBytes(written, pu.BytesTotal)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			err := agenterr.New(agenterr.DownloadFailed, op, fmt.Errorf("reading body: %w", rerr))
			logger.Info("download ended", "url", url, "error", err)
			return err
		}
	}

	if pu.BytesTotal >= 0 && written != pu.BytesTotal {
		err := agenterr.New(agenterr.DownloadFailed, op, fmt.Errorf("truncated download: got %d of %d bytes", written, pu.BytesTotal))
		logger.Info("download ended", "url", url, "error", err)
		return err
	}

	logger.Info("download ended", "url", url, "bytes", written)
	return nil
}

// removeDownload unlinks the downloaded file on terminal success. It is left
// in place on failure for post-mortem inspection.
func removeDownload(path string) {
	_ = os.Remove(path)
}
