package execution

import (
	"context"
	"errors"
	"time"

	"github.com/pledgepool/pledge-api/internal/session"
	"github.com/pledgepool/pledge-api/internal/types"
	"github.com/rs/zerolog/log"
)

// Trigger is the automated executor for sessions under the session_end
// rule: a recurring check that runs the buy branch as the system actor
// once a session's scheduled end has passed.
type Trigger struct {
	service  *Service
	cache    *session.Cache
	interval time.Duration // time between trigger sweeps
}

// NewTrigger creates a trigger over the execution service. The candidate
// session list is read through a TTL cache to keep the sweep cheap.
func NewTrigger(service *Service, sessions *session.Service, interval, cacheTTL time.Duration) *Trigger {
	return &Trigger{
		service:  service,
		cache:    session.NewCache(cacheTTL, sessions.GetDB().ListAutoExecutableSessions),
		interval: interval,
	}
}

// Start begins the trigger loop
func (t *Trigger) Start(ctx context.Context) {
	logger := log.With().Str("component", "execution_trigger").Logger()
	logger.Info().Dur("interval", t.interval).Msg("starting execution trigger")

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down execution trigger")
			return
		case <-ticker.C:
			if err := t.processDueSessions(ctx); err != nil {
				logger.Error().Err(err).Msg("failed to process due sessions")
			}
		}
	}
}

func (t *Trigger) processDueSessions(ctx context.Context) error {
	logger := log.With().Str("component", "execution_trigger").Logger()

	candidates, err := t.cache.Get()
	if err != nil {
		// Transient store failure: retry on the next sweep.
		return err
	}

	now := time.Now()
	triggered := 0
	for _, sess := range candidates {
		// Liveness check before each step: stop scheduling once cancelled.
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if sess.SessionEnd.After(now) {
			continue
		}

		logger.Info().
			Str("session_id", sess.SessionID).
			Time("session_end", sess.SessionEnd).
			Msg("session past scheduled end, triggering execution")

		summary, err := t.service.ExecuteSession(ctx, sess.SessionID, types.SystemActor)
		if err != nil {
			var conflictErr *types.ExecutionConflictError
			if errors.As(err, &conflictErr) {
				// A manual execution won the race; nothing to do.
				logger.Info().
					Str("session_id", sess.SessionID).
					Msg("session already being executed, skipping")
				continue
			}
			logger.Error().Err(err).
				Str("session_id", sess.SessionID).
				Msg("automated execution failed")
			continue
		}

		triggered++
		logger.Info().
			Str("session_id", sess.SessionID).
			Int("succeeded", summary.Succeeded).
			Int("failed", summary.Failed).
			Str("next_status", summary.NextStatus).
			Msg("automated execution completed")
	}

	if triggered > 0 {
		// Executed sessions left the candidate set.
		t.cache.Invalidate()
	}

	return nil
}
