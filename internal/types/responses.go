package types

import "time"

// Execution branches
const (
	BranchBuy  = "buy"
	BranchSell = "sell"
)

// ExecutionSummary reports the outcome of one orchestration run over a
// session's eligible pledges.
type ExecutionSummary struct {
	SessionID  string    `json:"session_id"`
	Branch     string    `json:"branch"` // buy or sell
	Attempted  int       `json:"attempted"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	NextStatus string    `json:"next_status"`
	ExecutedAt time.Time `json:"executed_at"`
}

// SessionStats is the recomputed aggregate view of a session's pledges.
type SessionStats struct {
	SessionID        string  `json:"session_id"`
	TotalPledges     int64   `json:"total_pledges"`
	TotalPledgeValue float64 `json:"total_pledge_value"`
	BuyPledges       int64   `json:"buy_pledges"`
	BuyPledgeValue   float64 `json:"buy_pledge_value"`
	SellPledges      int64   `json:"sell_pledges"`
	SellPledgeValue  float64 `json:"sell_pledge_value"`
}
