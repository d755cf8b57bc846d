package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pledgepool/pledge-api/internal/pricing"
	"github.com/pledgepool/pledge-api/internal/session"
	"github.com/pledgepool/pledge-api/internal/types"
	"github.com/pledgepool/pledge-api/pkg/middleware"
	"github.com/pledgepool/pledge-api/pkg/response"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// settlementOffset is how far after execution funds and shares settle.
const settlementOffset = 2 * 24 * time.Hour

// Service converts a session's eligible pledges into execution records,
// isolating per-pledge failures so one bad pledge never aborts the batch.
type Service struct {
	db       *Database
	sessions *session.Service
	policy   pricing.Policy
	pacing   time.Duration // delay between pledge executions, throttles the store
	locks    *sessionLocks
}

// NewService creates a new execution service with the given database connection
func NewService(gormDB *gorm.DB, policy pricing.Policy, pacing time.Duration) *Service {
	return &Service{
		db:       NewDatabase(gormDB),
		sessions: session.NewService(gormDB),
		policy:   policy,
		pacing:   pacing,
		locks:    newSessionLocks(),
	}
}

// ExecuteSession drives one execution pass over a session: the buy branch
// from active/closed, or the sell branch for a buy_sell_cycle session
// awaiting its sell leg. Concurrent calls for the same session are
// rejected with ExecutionConflictError.
func (s *Service) ExecuteSession(ctx context.Context, sessionID string, actor types.Actor) (*types.ExecutionSummary, error) {
	logger := log.With().
		Str("session_id", sessionID).
		Str("actor_id", actor.ID).
		Str("service", "execution").
		Logger()

	if !s.locks.acquire(sessionID) {
		logger.Warn().Msg("session is already being executed, rejecting")
		return nil, &types.ExecutionConflictError{SessionID: sessionID}
	}
	defer s.locks.release(sessionID)

	sess, err := s.db.GetSession(sessionID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to fetch session")
		return nil, err
	}

	switch {
	case sess.Status == types.SessionActive || sess.Status == types.SessionClosed:
		return s.executeBuyBranch(ctx, sess, actor, logger)
	case sess.Status == types.SessionAwaitingSell && sess.SessionMode == types.ModeBuySellCycle:
		return s.executeSellBranch(ctx, sess, actor, logger)
	case sess.Status == types.SessionExecuting:
		return nil, &types.ExecutionConflictError{SessionID: sessionID}
	default:
		return nil, &types.InvalidTransitionError{
			Entity: "session",
			ID:     sessionID,
			From:   sess.Status,
			To:     types.SessionExecuting,
		}
	}
}

// executeBuyBranch processes pledges in ready_for_execution and moves the
// session to awaiting_sell_execution or completed.
func (s *Service) executeBuyBranch(ctx context.Context, sess *types.PledgeSession, actor types.Actor, logger zerolog.Logger) (*types.ExecutionSummary, error) {
	logger.Info().Str("branch", types.BranchBuy).Msg("starting execution")

	// Entering executing is the store-level half of the mutual exclusion:
	// whoever wins this conditional update owns the batch.
	ok, err := s.db.TransitionSessionStatus(sess.SessionID,
		[]string{types.SessionActive, types.SessionClosed}, types.SessionExecuting, nil)
	if err != nil {
		return nil, &types.OrchestrationError{SessionID: sess.SessionID, Stage: "enter_executing", Err: err}
	}
	if !ok {
		return nil, &types.ExecutionConflictError{SessionID: sess.SessionID}
	}

	nextStatus := types.SessionCompleted
	if sess.SessionMode == types.ModeBuySellCycle {
		nextStatus = types.SessionAwaitingSell
	}

	pledges, err := s.db.ListEligiblePledges(sess.SessionID, types.PledgeReady)
	if err != nil {
		logger.Error().Err(err).Msg("failed to fetch eligible pledges")
		s.rollbackToActive(sess.SessionID, logger)
		return nil, &types.OrchestrationError{SessionID: sess.SessionID, Stage: "fetch_pledges", Err: err}
	}

	logger.Info().Int("eligible_pledges", len(pledges)).Msg("fetched eligible pledges")

	now := time.Now()
	summary := &types.ExecutionSummary{
		SessionID:  sess.SessionID,
		Branch:     types.BranchBuy,
		NextStatus: nextStatus,
		ExecutedAt: now,
	}

	if len(pledges) == 0 {
		// Nothing to execute: no records are fabricated, the session just
		// advances and records the execution time.
		ok, err := s.db.TransitionSessionStatus(sess.SessionID,
			[]string{types.SessionExecuting}, nextStatus,
			map[string]interface{}{"last_executed_at": now})
		if err != nil || !ok {
			s.rollbackToActive(sess.SessionID, logger)
			return nil, &types.OrchestrationError{SessionID: sess.SessionID, Stage: "finalize_empty", Err: err}
		}
		logger.Info().Str("next_status", nextStatus).Msg("no eligible pledges, session advanced")
		return summary, nil
	}

	for i, pledge := range pledges {
		if err := s.pace(ctx, i); err != nil {
			// Caller cancelled between pledges: already-written records
			// stand, the rest of the batch is not scheduled, and the
			// session goes back to active so it can be re-executed.
			logger.Warn().Int("processed", i).Msg("execution cancelled between pledges")
			s.rollbackToActive(sess.SessionID, logger)
			return nil, &types.OrchestrationError{SessionID: sess.SessionID, Stage: "cancelled", Err: err}
		}

		summary.Attempted++
		if s.executeBuyPledge(sess, pledge, actor, logger) {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}

	ok, err = s.db.TransitionSessionStatus(sess.SessionID,
		[]string{types.SessionExecuting}, nextStatus,
		map[string]interface{}{"last_executed_at": now})
	if err != nil || !ok {
		s.rollbackToActive(sess.SessionID, logger)
		return nil, &types.OrchestrationError{SessionID: sess.SessionID, Stage: "finalize", Err: err}
	}

	s.recalculateStats(sess.SessionID, logger)

	logger.Info().
		Int("attempted", summary.Attempted).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Str("next_status", nextStatus).
		Msg("buy execution completed")

	return summary, nil
}

// executeBuyPledge processes a single pledge. Returns false on failure;
// failures are recorded and never abort the batch.
func (s *Service) executeBuyPledge(sess *types.PledgeSession, pledge types.Pledge, actor types.Actor, logger zerolog.Logger) bool {
	price := pledge.PriceTarget
	if price <= 0 {
		price = sess.StockPrice
	}

	record, err := s.buildRecord(sess, pledge, types.SideBuy, price)
	if err != nil {
		s.recordFailure(sess, pledge, types.SideBuy, err, actor, logger)
		return false
	}

	if err := s.db.CreateExecutionRecord(record); err != nil {
		s.recordFailure(sess, pledge, types.SideBuy, err, actor, logger)
		return false
	}

	ok, err := s.db.TransitionPledgeStatus(pledge.PledgeID,
		[]string{types.PledgeReady}, types.PledgeExecuted)
	if err != nil || !ok {
		if err == nil {
			err = fmt.Errorf("pledge %s left ready_for_execution concurrently", pledge.PledgeID)
		}
		s.recordFailure(sess, pledge, types.SideBuy, err, actor, logger)
		return false
	}

	logger.Debug().
		Str("pledge_id", pledge.PledgeID).
		Str("execution_id", record.ExecutionID).
		Float64("executed_price", record.ExecutedPrice).
		Float64("total_execution_value", record.TotalExecutionValue).
		Msg("buy pledge executed")

	s.auditExecution("buy_execution_completed", actor, pledge, record, true, "")

	return true
}

// executeSellBranch processes previously executed pledges for the sell leg
// of a buy_sell_cycle session. The session stays in
// awaiting_sell_execution while the batch runs and moves to completed at
// the end.
func (s *Service) executeSellBranch(ctx context.Context, sess *types.PledgeSession, actor types.Actor, logger zerolog.Logger) (*types.ExecutionSummary, error) {
	logger.Info().Str("branch", types.BranchSell).Msg("starting execution")

	pledges, err := s.db.ListEligiblePledges(sess.SessionID, types.PledgeExecuted)
	if err != nil {
		logger.Error().Err(err).Msg("failed to fetch eligible pledges")
		return nil, &types.OrchestrationError{SessionID: sess.SessionID, Stage: "fetch_pledges", Err: err}
	}

	logger.Info().Int("eligible_pledges", len(pledges)).Msg("fetched eligible pledges")

	now := time.Now()
	summary := &types.ExecutionSummary{
		SessionID:  sess.SessionID,
		Branch:     types.BranchSell,
		NextStatus: types.SessionCompleted,
		ExecutedAt: now,
	}

	for i, pledge := range pledges {
		if err := s.pace(ctx, i); err != nil {
			// The session is still awaiting_sell_execution, so a retry
			// picks up the pledges that were not reached.
			logger.Warn().Int("processed", i).Msg("execution cancelled between pledges")
			return nil, &types.OrchestrationError{SessionID: sess.SessionID, Stage: "cancelled", Err: err}
		}

		summary.Attempted++
		if s.executeSellPledge(sess, pledge, actor, logger) {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}

	ok, err := s.db.TransitionSessionStatus(sess.SessionID,
		[]string{types.SessionAwaitingSell}, types.SessionCompleted,
		map[string]interface{}{"last_executed_at": now})
	if err != nil || !ok {
		if err == nil {
			err = fmt.Errorf("session %s left awaiting_sell_execution concurrently", sess.SessionID)
		}
		return nil, &types.OrchestrationError{SessionID: sess.SessionID, Stage: "finalize", Err: err}
	}

	s.recalculateStats(sess.SessionID, logger)

	logger.Info().
		Int("attempted", summary.Attempted).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Msg("sell execution completed")

	return summary, nil
}

func (s *Service) executeSellPledge(sess *types.PledgeSession, pledge types.Pledge, actor types.Actor, logger zerolog.Logger) bool {
	// The sell leg closes out a completed buy; require its record.
	buyRecord, err := s.db.GetCompletedExecution(pledge.PledgeID, types.SideBuy)
	if err != nil {
		s.recordFailure(sess, pledge, types.SideSell,
			fmt.Errorf("no completed buy execution for pledge: %w", err), actor, logger)
		return false
	}

	price := sess.StockPrice
	if price <= 0 {
		price = pledge.PriceTarget
	}

	record, err := s.buildRecord(sess, pledge, types.SideSell, price)
	if err != nil {
		s.recordFailure(sess, pledge, types.SideSell, err, actor, logger)
		return false
	}

	if err := s.db.CreateExecutionRecord(record); err != nil {
		s.recordFailure(sess, pledge, types.SideSell, err, actor, logger)
		return false
	}

	// Settled is terminal: the pledge cannot be picked up by another sell
	// pass.
	ok, err := s.db.TransitionPledgeStatus(pledge.PledgeID,
		[]string{types.PledgeExecuted}, types.PledgeSettled)
	if err != nil || !ok {
		if err == nil {
			err = fmt.Errorf("pledge %s left executed concurrently", pledge.PledgeID)
		}
		s.recordFailure(sess, pledge, types.SideSell, err, actor, logger)
		return false
	}

	logger.Debug().
		Str("pledge_id", pledge.PledgeID).
		Str("execution_id", record.ExecutionID).
		Str("buy_execution_id", buyRecord.ExecutionID).
		Float64("executed_price", record.ExecutedPrice).
		Float64("total_execution_value", record.TotalExecutionValue).
		Msg("sell pledge executed")

	s.auditExecution("sell_execution_completed", actor, pledge, record, true, "")

	return true
}

// buildRecord assembles a completed execution record for a full fill.
func (s *Service) buildRecord(sess *types.PledgeSession, pledge types.Pledge, side string, price float64) (*types.ExecutionRecord, error) {
	if price <= 0 {
		return nil, fmt.Errorf("no valid execution price for pledge %s", pledge.PledgeID)
	}

	now := time.Now()
	value := pricing.PledgeValue(pledge.Quantity, price)

	return &types.ExecutionRecord{
		ExecutionID:         "EXE_" + uuid.New().String(),
		PledgeID:            pledge.PledgeID,
		SessionID:           sess.SessionID,
		Side:                side,
		PledgedQty:          pledge.Quantity,
		ExecutedQty:         pledge.Quantity, // full fill, partial fills are not modeled
		ExecutedPrice:       price,
		TotalExecutionValue: value,
		PlatformCommission:  s.policy.Commission(value),
		CommissionRate:      s.policy.RateFloat(),
		PolicyVersion:       s.policy.Version,
		Status:              types.ExecutionCompleted,
		ExecutedAt:          now,
		SettlementDate:      now.Add(settlementOffset),
		CreatedAt:           now,
	}, nil
}

// recordFailure persists a failed execution record and its audit entry.
// The pledge status is left untouched so a retry can pick it up.
func (s *Service) recordFailure(sess *types.PledgeSession, pledge types.Pledge, side string, cause error, actor types.Actor, logger zerolog.Logger) {
	logger.Error().Err(cause).
		Str("pledge_id", pledge.PledgeID).
		Str("side", side).
		Msg("pledge execution failed")

	now := time.Now()
	record := &types.ExecutionRecord{
		ExecutionID:    "EXE_" + uuid.New().String(),
		PledgeID:       pledge.PledgeID,
		SessionID:      sess.SessionID,
		Side:           side,
		PledgedQty:     pledge.Quantity,
		ExecutedQty:    0,
		CommissionRate: s.policy.RateFloat(),
		PolicyVersion:  s.policy.Version,
		Status:         types.ExecutionFailed,
		ErrorMessage:   cause.Error(),
		ExecutedAt:     now,
		CreatedAt:      now,
	}

	if err := s.db.CreateExecutionRecord(record); err != nil {
		logger.Error().Err(err).
			Str("pledge_id", pledge.PledgeID).
			Msg("failed to persist failed execution record")
	}

	s.auditExecution(side+"_execution_failed", actor, pledge, record, false, cause.Error())
}

// pace waits the configured delay between pledge executions, aborting when
// the context is cancelled. The first pledge is never delayed.
func (s *Service) pace(ctx context.Context, index int) error {
	if index == 0 || s.pacing <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(s.pacing)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// rollbackToActive is the best-effort recovery after a batch-level
// failure: the session returns to active so the caller can retry. A
// failed rollback is logged, never rethrown.
func (s *Service) rollbackToActive(sessionID string, logger zerolog.Logger) {
	ok, err := s.db.TransitionSessionStatus(sessionID,
		[]string{types.SessionExecuting}, types.SessionActive, nil)
	if err != nil || !ok {
		logger.Error().Err(err).Msg("failed to roll session back to active")
	}
}

func (s *Service) recalculateStats(sessionID string, logger zerolog.Logger) {
	if _, err := s.sessions.RecalculateStats(sessionID); err != nil {
		logger.Error().Err(err).Msg("failed to recalculate stats after execution")
	}
}

func (s *Service) auditExecution(action string, actor types.Actor, pledge types.Pledge, record *types.ExecutionRecord, success bool, errMsg string) {
	entry := &types.AuditLog{
		AuditID:         "AUD_" + uuid.New().String(),
		Action:          action,
		ActorID:         actor.ID,
		ActorRole:       actor.Role,
		TargetType:      "pledge",
		TargetPledgeID:  pledge.PledgeID,
		TargetSessionID: pledge.SessionID,
		Success:         success,
		ErrorMessage:    errMsg,
		CreatedAt:       time.Now(),
	}
	payload, err := json.Marshal(gin.H{
		"execution_id":          record.ExecutionID,
		"side":                  record.Side,
		"executed_qty":          record.ExecutedQty,
		"executed_price":        record.ExecutedPrice,
		"total_execution_value": record.TotalExecutionValue,
	})
	if err == nil {
		entry.Payload = string(payload)
	}

	if err := s.db.CreateAuditLog(entry); err != nil {
		log.Error().Err(err).
			Str("action", action).
			Str("pledge_id", pledge.PledgeID).
			Msg("failed to write audit log entry")
	}
}

// ListSessionExecutions returns the execution records for a session
func (s *Service) ListSessionExecutions(sessionID string) ([]types.ExecutionRecord, error) {
	return s.db.ListSessionExecutions(sessionID)
}

// ListSessionAudit returns the audit trail for a session
func (s *Service) ListSessionAudit(sessionID string) ([]types.AuditLog, error) {
	return s.db.ListSessionAudit(sessionID)
}

// GetDB exposes the execution store for the automated trigger.
func (s *Service) GetDB() *Database {
	return s.db
}

// GinHandlers contains HTTP handlers for execution endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for execution endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// ExecuteSessionHandler handles POST requests to execute a session's
// eligible pledges. Requires internal authentication.
func (h *GinHandlers) ExecuteSessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, exists := middleware.GetActor(c)
		if !exists {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}

		summary, err := h.service.ExecuteSession(c.Request.Context(), c.Param("session_id"), actor)
		response.Handle(c, summary, err)
	}
}

func (h *GinHandlers) ListSessionExecutionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := h.service.ListSessionExecutions(c.Param("session_id"))
		response.Handle(c, records, err)
	}
}

func (h *GinHandlers) ListSessionAuditHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		entries, err := h.service.ListSessionAudit(c.Param("session_id"))
		response.Handle(c, entries, err)
	}
}
