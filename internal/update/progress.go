package update

import (
	"context"
	"log/slog"
)

// progressTracker emits fwup_progress reports only when the percent
// complete has advanced by at least 5 since the last emission, plus a
// terminal 100 once download and apply both succeed. Progress never
// decreases: it is monotonically non-decreasing, in [0, 100].
type progressTracker struct {
	ctx      context.Context
	reporter Reporter
	logger   *slog.Logger
	last     int
}

func newProgressTracker(ctx context.Context, reporter Reporter, logger *slog.Logger) *progressTracker {
	return &progressTracker{ctx: ctx, reporter: reporter, logger: logger, last: 0}
}

// onBytes is the download callback; total < 0 means Content-Length was
// absent, in which case no percent can be computed and progress is left to
// the terminal 100 reported by final().
func (p *progressTracker) onBytes(written, total int64) {
	if total <= 0 {
		return
	}
	percent := int(written * 100 / total)
	if percent > 100 {
		percent = 100
	}
	p.emit(percent)
}

func (p *progressTracker) emit(percent int) {
	if percent <= p.last {
		return
	}
	if percent-p.last < 5 && percent != 100 {
		return
	}
	p.last = percent
	p.logger.Debug("update progress", "percent", percent)
	_ = p.reporter.Progress(p.ctx, percent)
}

// final reports the terminal 100% once the whole flow (download + apply) has
// succeeded, regardless of whether byte-milestone progress ever reached it.
func (p *progressTracker) final() {
	p.emit(100)
}
