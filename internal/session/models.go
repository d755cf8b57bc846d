package session

import "time"

// CreateSessionRequest carries the configuration for a new pledge session.
type CreateSessionRequest struct {
	StockSymbol   string    `json:"stock_symbol" binding:"required"`
	StockName     string    `json:"stock_name"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	TargetPrice   float64   `json:"target_price"`
	StockPrice    float64   `json:"stock_price"`
	SessionStart  time.Time `json:"session_start"`
	SessionEnd    time.Time `json:"session_end"`
	SessionMode   string    `json:"session_mode"`
	ExecutionRule string    `json:"execution_rule"`
}
