package session

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pledgepool/pledge-api/internal/types"
	"github.com/pledgepool/pledge-api/pkg/middleware"
	"github.com/pledgepool/pledge-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service validates and performs session lifecycle transitions.
type Service struct {
	db *Database
}

// NewService creates a new session service with the given database connection
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// nonTerminalStatuses are the states a session can still be cancelled from.
var nonTerminalStatuses = []string{
	types.SessionDraft,
	types.SessionActive,
	types.SessionClosed,
	types.SessionExecuting,
	types.SessionAwaitingSell,
}

// CreateSession creates a new session in draft status.
func (s *Service) CreateSession(req CreateSessionRequest, actor types.Actor) (*types.PledgeSession, error) {
	if req.StockSymbol == "" {
		return nil, &types.ValidationError{Field: "stock_symbol", Reason: "is required"}
	}
	if !req.SessionEnd.After(req.SessionStart) {
		return nil, &types.ValidationError{Field: "session_end", Reason: "must be after session_start"}
	}
	if req.TargetPrice <= 0 {
		return nil, &types.ValidationError{Field: "target_price", Reason: "must be positive"}
	}

	mode := req.SessionMode
	if mode == "" {
		mode = types.ModeSingleCycle
	}
	if mode != types.ModeSingleCycle && mode != types.ModeBuySellCycle {
		return nil, &types.ValidationError{Field: "session_mode", Reason: "must be single_cycle or buy_sell_cycle"}
	}

	rule := req.ExecutionRule
	if rule == "" {
		rule = types.RuleManual
	}
	if rule != types.RuleManual && rule != types.RuleSessionEnd {
		return nil, &types.ValidationError{Field: "execution_rule", Reason: "must be manual or session_end"}
	}

	session := &types.PledgeSession{
		SessionID:     "SES_" + uuid.New().String(),
		StockSymbol:   req.StockSymbol,
		StockName:     req.StockName,
		Title:         req.Title,
		Description:   req.Description,
		TargetPrice:   req.TargetPrice,
		StockPrice:    req.StockPrice,
		SessionStart:  req.SessionStart,
		SessionEnd:    req.SessionEnd,
		Status:        types.SessionDraft,
		SessionMode:   mode,
		ExecutionRule: rule,
		CreatedBy:     actor.ID,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}

	if err := s.db.CreateSession(session); err != nil {
		return nil, err
	}

	log.Info().
		Str("session_id", session.SessionID).
		Str("stock_symbol", session.StockSymbol).
		Str("session_mode", session.SessionMode).
		Str("execution_rule", session.ExecutionRule).
		Str("service", "session").
		Msg("session created")

	s.audit("session_created", actor, session.SessionID, true, "", session)

	return session, nil
}

// ActivateSession moves a draft session to active so it accepts pledges.
func (s *Service) ActivateSession(sessionID string, actor types.Actor) (*types.PledgeSession, error) {
	return s.transition(sessionID, actor, "session_activated",
		[]string{types.SessionDraft}, types.SessionActive, nil)
}

// CloseSession stops an active session from accepting new pledges.
func (s *Service) CloseSession(sessionID string, actor types.Actor) (*types.PledgeSession, error) {
	return s.transition(sessionID, actor, "session_closed",
		[]string{types.SessionActive}, types.SessionClosed, nil)
}

// CancelSession cancels a session from any non-terminal state.
func (s *Service) CancelSession(sessionID string, actor types.Actor) (*types.PledgeSession, error) {
	return s.transition(sessionID, actor, "session_cancelled",
		nonTerminalStatuses, types.SessionCancelled, nil)
}

// transition performs a guarded status change and reloads the session.
func (s *Service) transition(sessionID string, actor types.Actor, action string, from []string, to string, extra map[string]interface{}) (*types.PledgeSession, error) {
	ok, err := s.db.TransitionStatus(sessionID, from, to, extra)
	if err != nil {
		return nil, err
	}

	if !ok {
		current, err := s.db.GetSession(sessionID)
		if err != nil {
			return nil, err
		}
		transitionErr := &types.InvalidTransitionError{
			Entity: "session",
			ID:     sessionID,
			From:   current.Status,
			To:     to,
		}
		s.audit(action, actor, sessionID, false, transitionErr.Error(), nil)
		return nil, transitionErr
	}

	log.Info().
		Str("session_id", sessionID).
		Str("status", to).
		Str("actor_id", actor.ID).
		Str("service", "session").
		Msg("session status transition")

	s.audit(action, actor, sessionID, true, "", gin.H{"status": to})

	return s.db.GetSession(sessionID)
}

// CloneSession produces a new draft session copying the configuration of an
// existing one, with fresh identity and zeroed aggregates.
func (s *Service) CloneSession(sessionID string, actor types.Actor) (*types.PledgeSession, error) {
	source, err := s.db.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	clone := &types.PledgeSession{
		SessionID:     "SES_" + uuid.New().String(),
		StockSymbol:   source.StockSymbol,
		StockName:     source.StockName,
		Title:         source.Title,
		Description:   source.Description,
		TargetPrice:   source.TargetPrice,
		StockPrice:    source.StockPrice,
		SessionStart:  source.SessionStart,
		SessionEnd:    source.SessionEnd,
		Status:        types.SessionDraft,
		SessionMode:   source.SessionMode,
		ExecutionRule: source.ExecutionRule,
		CreatedBy:     actor.ID,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}

	if err := s.db.CreateSession(clone); err != nil {
		return nil, err
	}

	s.audit("session_cloned", actor, clone.SessionID, true, "", gin.H{"cloned_from": source.SessionID})

	return clone, nil
}

// DeleteSession hard-deletes a session. Refused once any execution record
// references it, so audit history is never orphaned.
func (s *Service) DeleteSession(sessionID string, actor types.Actor) error {
	count, err := s.db.CountExecutionRecords(sessionID)
	if err != nil {
		return err
	}
	if count > 0 {
		return &types.ValidationError{Field: "session_id", Reason: "session has execution records and cannot be deleted"}
	}

	if err := s.db.DeleteSession(sessionID); err != nil {
		return err
	}

	s.audit("session_deleted", actor, sessionID, true, "", nil)

	return nil
}

// GetSession retrieves a session by its ID
func (s *Service) GetSession(sessionID string) (*types.PledgeSession, error) {
	return s.db.GetSession(sessionID)
}

// ListSessions retrieves sessions, optionally filtered by status
func (s *Service) ListSessions(status string) ([]types.PledgeSession, error) {
	return s.db.ListSessions(status)
}

// GetDB exposes the session store for collaborating components.
func (s *Service) GetDB() *Database {
	return s.db
}

// audit writes an append-only audit entry. Audit failures are logged but
// never fail the operation they describe.
func (s *Service) audit(action string, actor types.Actor, sessionID string, success bool, errMsg string, payload interface{}) {
	entry := &types.AuditLog{
		AuditID:         "AUD_" + uuid.New().String(),
		Action:          action,
		ActorID:         actor.ID,
		ActorRole:       actor.Role,
		TargetType:      "session",
		TargetSessionID: sessionID,
		Success:         success,
		ErrorMessage:    errMsg,
		CreatedAt:       time.Now(),
	}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			entry.Payload = string(raw)
		}
	}

	if err := s.db.CreateAuditLog(entry); err != nil {
		log.Error().Err(err).
			Str("action", action).
			Str("session_id", sessionID).
			Msg("failed to write audit log entry")
	}
}

// GinHandlers contains HTTP handlers for session endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for session endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

func (h *GinHandlers) CreateSessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		actor, _ := middleware.GetActor(c)
		session, err := h.service.CreateSession(req, actor)
		response.Handle(c, session, err)
	}
}

func (h *GinHandlers) ActivateSessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, _ := middleware.GetActor(c)
		session, err := h.service.ActivateSession(c.Param("session_id"), actor)
		response.Handle(c, session, err)
	}
}

func (h *GinHandlers) CloseSessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, _ := middleware.GetActor(c)
		session, err := h.service.CloseSession(c.Param("session_id"), actor)
		response.Handle(c, session, err)
	}
}

func (h *GinHandlers) CancelSessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, _ := middleware.GetActor(c)
		session, err := h.service.CancelSession(c.Param("session_id"), actor)
		response.Handle(c, session, err)
	}
}

func (h *GinHandlers) CloneSessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, _ := middleware.GetActor(c)
		session, err := h.service.CloneSession(c.Param("session_id"), actor)
		response.Handle(c, session, err)
	}
}

func (h *GinHandlers) DeleteSessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, _ := middleware.GetActor(c)
		err := h.service.DeleteSession(c.Param("session_id"), actor)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"message": "session deleted"})
	}
}

func (h *GinHandlers) GetSessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := h.service.GetSession(c.Param("session_id"))
		response.Handle(c, session, err)
	}
}

func (h *GinHandlers) ListSessionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessions, err := h.service.ListSessions(c.Query("status"))
		response.Handle(c, sessions, err)
	}
}

func (h *GinHandlers) RecalculateStatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := h.service.RecalculateStats(c.Param("session_id"))
		response.Handle(c, stats, err)
	}
}
