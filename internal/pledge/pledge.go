package pledge

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pledgepool/pledge-api/internal/pricing"
	"github.com/pledgepool/pledge-api/internal/session"
	"github.com/pledgepool/pledge-api/internal/types"
	"github.com/pledgepool/pledge-api/pkg/middleware"
	"github.com/pledgepool/pledge-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service handles pledge intake and pre-execution status moves.
type Service struct {
	db       *Database
	sessions *session.Service
	policy   pricing.Policy
}

// NewService creates a new pledge service with the given database connection
func NewService(gormDB *gorm.DB, policy pricing.Policy) *Service {
	return &Service{
		db:       NewDatabase(gormDB),
		sessions: session.NewService(gormDB),
		policy:   policy,
	}
}

// CreatePledge records a pledge against an active session, applying the
// platform fee policy at creation time. Duplicate submissions with the
// same idempotency key return the original pledge.
func (s *Service) CreatePledge(sessionID string, req CreatePledgeRequest, actor types.Actor, idempotencyKey string) (*types.Pledge, error) {
	// Check for existing idempotency record
	record, err := s.db.GetIdempotencyRecord(idempotencyKey)
	if err != nil {
		return nil, err
	}
	if record != nil && record.ExpiresAt.After(time.Now()) {
		return s.db.GetPledge(record.ResourceID)
	}

	parent, err := s.db.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if parent.Status != types.SessionActive {
		return nil, &types.InvalidTransitionError{
			Entity: "pledge",
			ID:     sessionID,
			From:   parent.Status,
			To:     types.PledgePending,
		}
	}

	if req.Side != types.SideBuy && req.Side != types.SideSell {
		return nil, &types.ValidationError{Field: "side", Reason: "must be buy or sell"}
	}
	if req.Quantity <= 0 {
		return nil, &types.ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	if req.PriceTarget <= 0 {
		return nil, &types.ValidationError{Field: "price_target", Reason: "must be positive"}
	}
	if !req.ConsentSigned {
		return nil, &types.ValidationError{Field: "consent_signed", Reason: "consent is required"}
	}
	if !req.RiskAcknowledged {
		return nil, &types.ValidationError{Field: "risk_acknowledged", Reason: "risk acknowledgement is required"}
	}

	totalAmount := pricing.PledgeValue(req.Quantity, req.PriceTarget)

	pledge := &types.Pledge{
		PledgeID:         "PLG_" + uuid.New().String(),
		SessionID:        parent.SessionID,
		UserID:           actor.ID,
		DematAccountID:   req.DematAccountID,
		StockSymbol:      parent.StockSymbol,
		Side:             req.Side,
		Quantity:         req.Quantity,
		PriceTarget:      req.PriceTarget,
		TotalAmount:      totalAmount,
		PlatformFee:      s.policy.PlatformFee(totalAmount),
		Status:           types.PledgePending,
		ConsentSigned:    req.ConsentSigned,
		RiskAcknowledged: req.RiskAcknowledged,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}

	if err := s.db.CreatePledgeWithIdempotency(pledge, idempotencyKey); err != nil {
		return nil, err
	}

	log.Info().
		Str("pledge_id", pledge.PledgeID).
		Str("session_id", pledge.SessionID).
		Str("side", pledge.Side).
		Int64("quantity", pledge.Quantity).
		Float64("total_amount", pledge.TotalAmount).
		Str("service", "pledge").
		Msg("pledge created")

	s.audit("pledge_created", actor, pledge, true, "")

	return pledge, nil
}

// MarkPaid records the payment backing a pledge.
func (s *Service) MarkPaid(pledgeID, paymentID string, actor types.Actor) (*types.Pledge, error) {
	return s.transition(pledgeID, actor, "pledge_paid",
		[]string{types.PledgePending}, types.PledgePaid,
		map[string]interface{}{"payment_id": paymentID})
}

// MarkReady flags a paid pledge as eligible for execution.
func (s *Service) MarkReady(pledgeID string, actor types.Actor) (*types.Pledge, error) {
	pledge, err := s.transition(pledgeID, actor, "pledge_ready",
		[]string{types.PledgePaid}, types.PledgeReady, nil)
	if err != nil {
		return nil, err
	}

	// Now counted in aggregates
	if _, err := s.sessions.RecalculateStats(pledge.SessionID); err != nil {
		log.Error().Err(err).
			Str("session_id", pledge.SessionID).
			Msg("failed to recalculate stats after pledge became ready")
	}

	return pledge, nil
}

// CancelPledge withdraws a pledge before execution.
func (s *Service) CancelPledge(pledgeID string, actor types.Actor) (*types.Pledge, error) {
	pledge, err := s.transition(pledgeID, actor, "pledge_cancelled",
		[]string{types.PledgePending, types.PledgePaid, types.PledgeReady},
		types.PledgeCancelled, nil)
	if err != nil {
		return nil, err
	}

	if _, err := s.sessions.RecalculateStats(pledge.SessionID); err != nil {
		log.Error().Err(err).
			Str("session_id", pledge.SessionID).
			Msg("failed to recalculate stats after pledge cancellation")
	}

	return pledge, nil
}

func (s *Service) transition(pledgeID string, actor types.Actor, action string, from []string, to string, extra map[string]interface{}) (*types.Pledge, error) {
	ok, err := s.db.TransitionStatus(pledgeID, from, to, extra)
	if err != nil {
		return nil, err
	}

	if !ok {
		current, err := s.db.GetPledge(pledgeID)
		if err != nil {
			return nil, err
		}
		transitionErr := &types.InvalidTransitionError{
			Entity: "pledge",
			ID:     pledgeID,
			From:   current.Status,
			To:     to,
		}
		s.audit(action, actor, current, false, transitionErr.Error())
		return nil, transitionErr
	}

	pledge, err := s.db.GetPledge(pledgeID)
	if err != nil {
		return nil, err
	}

	s.audit(action, actor, pledge, true, "")

	return pledge, nil
}

// GetPledge retrieves a pledge by its ID
func (s *Service) GetPledge(pledgeID string) (*types.Pledge, error) {
	return s.db.GetPledge(pledgeID)
}

// ListSessionPledges retrieves all pledges attached to a session
func (s *Service) ListSessionPledges(sessionID string) ([]types.Pledge, error) {
	return s.db.ListSessionPledges(sessionID)
}

// ListUserPledges retrieves all pledges placed by a user
func (s *Service) ListUserPledges(userID string) ([]types.Pledge, error) {
	return s.db.ListUserPledges(userID)
}

func (s *Service) audit(action string, actor types.Actor, pledge *types.Pledge, success bool, errMsg string) {
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
	if raw, err := json.Marshal(gin.H{"status": pledge.Status, "side": pledge.Side}); err == nil {
		entry.Payload = string(raw)
	}

	if err := s.db.CreateAuditLog(entry); err != nil {
		log.Error().Err(err).
			Str("action", action).
			Str("pledge_id", pledge.PledgeID).
			Msg("failed to write audit log entry")
	}
}

// GinHandlers contains HTTP handlers for pledge endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for pledge endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreatePledgeHandler handles POST requests to place pledges
// Requires a valid JWT token and idempotency key in headers
func (h *GinHandlers) CreatePledgeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Get idempotency key from header
		idempotencyKey := c.GetHeader("Idempotency-Key")
		if idempotencyKey == "" {
			response.BadRequest(c, "Idempotency-Key header is required")
			return
		}

		var req CreatePledgeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		actor, _ := middleware.GetActor(c)
		pledge, err := h.service.CreatePledge(c.Param("session_id"), req, actor, idempotencyKey)
		response.Handle(c, pledge, err)
	}
}

func (h *GinHandlers) MarkPaidHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req PaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		actor, _ := middleware.GetActor(c)
		pledge, err := h.service.MarkPaid(c.Param("pledge_id"), req.PaymentID, actor)
		response.Handle(c, pledge, err)
	}
}

func (h *GinHandlers) MarkReadyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, _ := middleware.GetActor(c)
		pledge, err := h.service.MarkReady(c.Param("pledge_id"), actor)
		response.Handle(c, pledge, err)
	}
}

func (h *GinHandlers) CancelPledgeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, _ := middleware.GetActor(c)
		pledge, err := h.service.CancelPledge(c.Param("pledge_id"), actor)
		response.Handle(c, pledge, err)
	}
}

func (h *GinHandlers) GetPledgeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		pledge, err := h.service.GetPledge(c.Param("pledge_id"))
		response.Handle(c, pledge, err)
	}
}

func (h *GinHandlers) ListSessionPledgesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		pledges, err := h.service.ListSessionPledges(c.Param("session_id"))
		response.Handle(c, pledges, err)
	}
}

func (h *GinHandlers) ListUserPledgesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, exists := middleware.GetActor(c)
		if !exists {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}

		pledges, err := h.service.ListUserPledges(actor.ID)
		response.Handle(c, pledges, err)
	}
}
