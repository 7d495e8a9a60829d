// Package supervisor owns the reconnect loop: it builds a fresh channel
// session per attempt, applies exponential backoff with jitter between
// failed attempts, and gives an in-flight update a grace period to finish
// before a shutdown request tears the connection down.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/lawik/hub_link_agent/internal/agenterr"
	"github.com/lawik/hub_link_agent/internal/channel"
)

// DefaultShutdownGrace bounds how long Run waits for an Updating session to
// leave Updating (or end) after ctx is cancelled, before force-closing it.
const DefaultShutdownGrace = 5 * time.Minute

// Supervisor drives the connect/join/serve/reconnect lifecycle for one
// device. cfg is reused across attempts: each attempt gets its own
// channel.Session, but the authenticator, executor, and logger in cfg are
// shared.
type Supervisor struct {
	cfg   channel.Config
	grace time.Duration
}

// New builds a Supervisor. grace <= 0 uses DefaultShutdownGrace.
func New(cfg channel.Config, grace time.Duration) *Supervisor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if grace <= 0 {
		grace = DefaultShutdownGrace
	}
	return &Supervisor{cfg: cfg, grace: grace}
}

// Run loops connecting, joining, and serving sessions until ctx is
// cancelled. It returns ctx.Err() on cooperative shutdown; it never returns
// nil except via that path.
func (s *Supervisor) Run(ctx context.Context) error {
	b := newBackoff()
	attempt := 0

	for {
		attempt++
		sess := channel.New(s.cfg)
		outcome := s.runOne(ctx, sess)

		switch {
		case agenterr.Is(outcome.Err, agenterr.AuthRejected):
			// Non-fatal but logged at high severity: an auth rejection is
			// usually a misconfiguration, not ordinary transport flakiness.
			s.cfg.Logger.Error("session ended: auth rejected",
				"attempt", attempt, "joined", outcome.Joined, "uptime", outcome.Uptime, "cause", outcome.Err)
		case outcome.Err != nil:
			s.cfg.Logger.Warn("session ended",
				"attempt", attempt, "joined", outcome.Joined, "uptime", outcome.Uptime, "cause", outcome.Err)
		default:
			s.cfg.Logger.Info("session ended cleanly", "attempt", attempt, "uptime", outcome.Uptime)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if outcome.Joined && outcome.Uptime >= minSessionUptime {
			b.reset()
		}
		delay := b.next()
		s.cfg.Logger.Info("reconnecting", "attempt", attempt+1, "delay", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// runOne drives a single session attempt against its own cancellable
// context, decoupled from the shutdown context so an in-flight update can
// outlive a shutdown request by up to s.grace.
func (s *Supervisor) runOne(shutdownCtx context.Context, sess *channel.Session) channel.Outcome {
	sessionCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan channel.Outcome, 1)
	go func() { done <- sess.Run(sessionCtx) }()

	select {
	case outcome := <-done:
		return outcome
	case <-shutdownCtx.Done():
	}

	if sess.State() == channel.StateUpdating {
		s.cfg.Logger.Info("shutdown requested mid-update, waiting for grace period", "grace", s.grace)
		graceTimer := time.NewTimer(s.grace)
		defer graceTimer.Stop()
		poll := time.NewTicker(100 * time.Millisecond)
		defer poll.Stop()
	wait:
		for sess.State() == channel.StateUpdating {
			select {
			case outcome := <-done:
				return outcome
			case <-graceTimer.C:
				s.cfg.Logger.Warn("grace period elapsed, cancelling in-flight update")
				break wait
			case <-poll.C:
			}
		}
	}

	cancel()
	return <-done
}
