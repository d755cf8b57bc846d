package pledge

// CreatePledgeRequest carries a user's pledge for an active session.
type CreatePledgeRequest struct {
	DematAccountID   string  `json:"demat_account_id" binding:"required"`
	Side             string  `json:"side" binding:"required"`
	Quantity         int64   `json:"quantity" binding:"required"`
	PriceTarget      float64 `json:"price_target" binding:"required"`
	ConsentSigned    bool    `json:"consent_signed"`
	RiskAcknowledged bool    `json:"risk_acknowledged"`
}

// PaymentRequest records the payment backing a pledge.
type PaymentRequest struct {
	PaymentID string `json:"payment_id" binding:"required"`
}
