// Package update implements the update executor: downloading a firmware
// image, applying it via the external writer binary, and reporting progress
// and terminal status back through the channel session.
package update

import (
	"context"
	"log/slog"
	"path/filepath"
)

// Reporter is how the executor reports back into the channel session,
// without the update package needing to know anything about the channel
// wire protocol. The channel session implements this.
type Reporter interface {
	// Progress reports a percent-complete value in [0, 100].
	Progress(ctx context.Context, value int) error
	// Status reports a terminal or rescheduled status.
	Status(ctx context.Context, status string) error
}

// Status values for Reporter.Status.
const (
	StatusRescheduled = "update-rescheduled"
	StatusFailed      = "update-failed"
	StatusHandled     = "update-handled"
)

// PendingUpdate is the in-flight update state tracked for the lifetime of one
// Run call. At most one exists per session; the channel session enforces
// that by rejecting a second "update" event while one is already running.
type PendingUpdate struct {
	URL          string
	Meta         map[string]any
	DownloadPath string
	BytesTotal   int64
	BytesWritten int64
}

// Config configures where images are downloaded to and how the writer is
// invoked.
type Config struct {
	Devpath string
	Task    string
	DataDir string
	Logger  *slog.Logger
}

func (c Config) downloadPath() string {
	return filepath.Join(c.DataDir, "firmware.fw")
}

// Executor drives one update flow at a time: download, apply, report.
type Executor struct {
	cfg    Config
	writer Writer
	logger *slog.Logger
}

// NewExecutor builds an Executor. writer is the external firmware-writer
// collaborator; pass RealWriter for production use.
func NewExecutor(cfg Config, writer Writer) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{cfg: cfg, writer: writer, logger: logger}
}

// WriterVersion reports the writer's self-reported version, for the channel
// join payload's fwup_version field.
func (e *Executor) WriterVersion(ctx context.Context) string {
	return e.writer.Version(ctx)
}

// Run downloads firmwareURL to {data_dir}/firmware.fw, invokes the writer,
// and reports progress/status through reporter. On any failure it reports
// update-failed and returns the underlying error (callers use it only for
// logging -- a failed update never ends the channel session, it just
// returns Updating to Joined).
func (e *Executor) Run(ctx context.Context, firmwareURL string, meta map[string]any, reporter Reporter) error {
	pu := &PendingUpdate{
		URL:          firmwareURL,
		Meta:         meta,
		DownloadPath: e.cfg.downloadPath(),
	}

	progress := newProgressTracker(ctx, reporter, e.logger)

	if err := downloadTo(ctx, e.logger, firmwareURL, pu, progress.onBytes); err != nil {
		reporter.Status(ctx, StatusFailed)
		e.logger.Info("update terminal status", "status", StatusFailed, "error", err)
		return err
	}

	if err := e.writer.Apply(ctx, e.cfg.Devpath, pu.DownloadPath, e.cfg.Task); err != nil {
		reporter.Status(ctx, StatusFailed)
		e.logger.Info("update terminal status", "status", StatusFailed, "error", err)
		return err
	}

	progress.final()
	removeDownload(pu.DownloadPath)
	reporter.Status(ctx, StatusHandled)
	e.logger.Info("update terminal status", "status", StatusHandled)
	return nil
}
