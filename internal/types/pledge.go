package types

import (
	"time"

	"gorm.io/gorm"
)

// Session statuses
const (
	SessionDraft        = "draft"
	SessionActive       = "active"
	SessionClosed       = "closed"
	SessionExecuting    = "executing"
	SessionAwaitingSell = "awaiting_sell_execution"
	SessionCompleted    = "completed"
	SessionCancelled    = "cancelled"
)

// Session modes
const (
	ModeSingleCycle  = "single_cycle"
	ModeBuySellCycle = "buy_sell_cycle"
)

// Execution rules
const (
	RuleManual     = "manual"
	RuleSessionEnd = "session_end"
)

// Pledge statuses
const (
	PledgePending   = "pending"
	PledgePaid      = "paid"
	PledgeReady     = "ready_for_execution"
	PledgeExecuted  = "executed"
	PledgeSettled   = "settled"
	PledgeCancelled = "cancelled"
	PledgeFailed    = "failed"
)

// Pledge sides
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Execution record statuses
const (
	ExecutionCompleted = "completed"
	ExecutionFailed    = "failed"
)

// TerminalSessionStatuses lists the states with no outgoing transitions.
var TerminalSessionStatuses = []string{SessionCompleted, SessionCancelled}

// IsTerminalSessionStatus reports whether no further transition is allowed.
func IsTerminalSessionStatus(status string) bool {
	return status == SessionCompleted || status == SessionCancelled
}

// PledgeSession is a time-boxed pool of pledges for one stock. Aggregate
// fields are derived from the attached pledges and are recomputable at any
// time; they are never the source of truth.
type PledgeSession struct {
	gorm.Model       `json:"-"`
	SessionID        string     `gorm:"uniqueIndex" json:"session_id"`
	StockSymbol      string     `json:"stock_symbol"`
	StockName        string     `json:"stock_name"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	TargetPrice      float64    `json:"target_price"`
	StockPrice       float64    `json:"stock_price"` // latest known market price, optional
	SessionStart     time.Time  `json:"session_start"`
	SessionEnd       time.Time  `json:"session_end"`
	Status           string     `json:"status"`         // draft, active, closed, executing, awaiting_sell_execution, completed, cancelled
	SessionMode      string     `json:"session_mode"`   // single_cycle or buy_sell_cycle
	ExecutionRule    string     `json:"execution_rule"` // manual or session_end
	TotalPledges     int64      `json:"total_pledges"`
	TotalPledgeValue float64    `json:"total_pledge_value"`
	BuyPledges       int64      `json:"buy_pledges"`
	BuyPledgeValue   float64    `json:"buy_pledge_value"`
	SellPledges      int64      `json:"sell_pledges"`
	SellPledgeValue  float64    `json:"sell_pledge_value"`
	LastExecutedAt   *time.Time `json:"last_executed_at,omitempty"`
	CreatedBy        string     `json:"created_by"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Pledge is a user's intent to buy or sell a quantity of the session's
// stock at a target price.
type Pledge struct {
	gorm.Model       `json:"-"`
	PledgeID         string    `gorm:"uniqueIndex" json:"pledge_id"`
	SessionID        string    `gorm:"index" json:"session_id"`
	UserID           string    `gorm:"index" json:"user_id"`
	DematAccountID   string    `json:"demat_account_id"`
	StockSymbol      string    `json:"stock_symbol"`
	Side             string    `json:"side"` // buy or sell
	Quantity         int64     `json:"quantity"`
	PriceTarget      float64   `json:"price_target"`
	TotalAmount      float64   `json:"total_amount"`
	PlatformFee      float64   `json:"platform_fee"`
	Status           string    `json:"status"` // pending, paid, ready_for_execution, executed, settled, cancelled, failed
	ConsentSigned    bool      `json:"consent_signed"`
	RiskAcknowledged bool      `json:"risk_acknowledged"`
	PaymentID        string    `json:"payment_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ExecutionRecord is the immutable outcome of one pledge's execution
// attempt on one side. Records are append-only: a failed attempt is kept
// for audit and does not block a retry.
type ExecutionRecord struct {
	gorm.Model          `json:"-"`
	ExecutionID         string    `gorm:"uniqueIndex" json:"execution_id"`
	PledgeID            string    `gorm:"index" json:"pledge_id"`
	SessionID           string    `gorm:"index" json:"session_id"`
	Side                string    `json:"side"`
	PledgedQty          int64     `json:"pledged_qty"`
	ExecutedQty         int64     `json:"executed_qty"`
	ExecutedPrice       float64   `json:"executed_price"`
	TotalExecutionValue float64   `json:"total_execution_value"`
	PlatformCommission  float64   `json:"platform_commission"`
	CommissionRate      float64   `json:"commission_rate"`
	PolicyVersion       string    `json:"policy_version"`
	Status              string    `json:"status"` // completed or failed
	ErrorMessage        string    `json:"error_message,omitempty"`
	ExecutedAt          time.Time `json:"executed_at"`
	SettlementDate      time.Time `json:"settlement_date"`
	CreatedAt           time.Time `json:"created_at"`
}

// AuditLog is an append-only record of a state transition or failure
// observed during orchestration.
type AuditLog struct {
	gorm.Model      `json:"-"`
	AuditID         string    `gorm:"uniqueIndex" json:"audit_id"`
	Action          string    `json:"action"`
	ActorID         string    `json:"actor_id"`
	ActorRole       string    `json:"actor_role"`
	TargetType      string    `json:"target_type"` // pledge or session
	TargetPledgeID  string    `gorm:"index" json:"target_pledge_id,omitempty"`
	TargetSessionID string    `gorm:"index" json:"target_session_id,omitempty"`
	Payload         string    `json:"payload,omitempty"` // JSON context
	Success         bool      `json:"success"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// IdempotencyRecord maps a caller-supplied idempotency key to the resource
// it created, preventing duplicate writes on retried requests.
type IdempotencyRecord struct {
	gorm.Model
	IdempotencyKey string    `gorm:"uniqueIndex" json:"idempotency_key"`
	ResourceID     string    `json:"resource_id"`
	ResourceType   string    `json:"resource_type"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Actor identifies who requested a mutating operation. The engine records
// the identity, it does not authenticate it.
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role"` // trader, admin or system
}

// Actor roles
const (
	RoleTrader = "trader"
	RoleAdmin  = "admin"
	RoleSystem = "system"
)

// SystemActor is used by background jobs.
var SystemActor = Actor{ID: "system", Role: RoleSystem}
