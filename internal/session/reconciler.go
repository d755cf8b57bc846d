package session

import (
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Reconciler periodically re-derives aggregate stats for every
// non-terminal session. Recalculation is idempotent, so the job repairs
// any drift between pledges and stored aggregates without coordination.
type Reconciler struct {
	service *Service
	cron    *cron.Cron
	spec    string
}

func NewReconciler(service *Service, spec string) *Reconciler {
	return &Reconciler{
		service: service,
		cron:    cron.New(),
		spec:    spec,
	}
}

// Start schedules the reconciliation job.
func (r *Reconciler) Start() error {
	if _, err := r.cron.AddFunc(r.spec, r.run); err != nil {
		return err
	}
	r.cron.Start()

	log.Info().
		Str("component", "stats_reconciler").
		Str("spec", r.spec).
		Msg("stats reconciler started")

	return nil
}

// Stop halts the schedule; a run already in flight completes.
func (r *Reconciler) Stop() {
	r.cron.Stop()
}

func (r *Reconciler) run() {
	logger := log.With().Str("component", "stats_reconciler").Logger()

	reconciled := 0
	for _, status := range nonTerminalStatuses {
		sessions, err := r.service.ListSessions(status)
		if err != nil {
			logger.Error().Err(err).Str("status", status).Msg("failed to list sessions for reconciliation")
			continue
		}

		for _, session := range sessions {
			if _, err := r.service.RecalculateStats(session.SessionID); err != nil {
				logger.Error().Err(err).
					Str("session_id", session.SessionID).
					Msg("failed to reconcile session stats")
				continue
			}
			reconciled++
		}
	}

	logger.Info().Int("sessions_reconciled", reconciled).Msg("stats reconciliation pass completed")
}
