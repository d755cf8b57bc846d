package session

import (
	"github.com/pledgepool/pledge-api/internal/pricing"
	"github.com/pledgepool/pledge-api/internal/types"
	"github.com/rs/zerolog/log"
)

// statsEligibleStatuses are the pledge statuses that count toward session
// aggregates. Settled pledges remain counted so a completed buy-sell cycle
// keeps its totals.
var statsEligibleStatuses = []string{
	types.PledgeReady,
	types.PledgeExecuted,
	types.PledgeSettled,
}

// RecalculateStats recomputes a session's aggregate fields from its
// pledges and writes them back. The computation is a pure function of the
// pledge set, so re-running it at any time is safe.
func (s *Service) RecalculateStats(sessionID string) (*types.SessionStats, error) {
	logger := log.With().
		Str("session_id", sessionID).
		Str("service", "session").
		Logger()

	if _, err := s.db.GetSession(sessionID); err != nil {
		return nil, err
	}

	pledges, err := s.db.ListPledgesByStatuses(sessionID, statsEligibleStatuses)
	if err != nil {
		logger.Error().Err(err).Msg("failed to fetch pledges for stats recalculation")
		return nil, err
	}

	stats := &types.SessionStats{SessionID: sessionID}
	for _, pledge := range pledges {
		value := pricing.PledgeValue(pledge.Quantity, pledge.PriceTarget)
		stats.TotalPledges++
		stats.TotalPledgeValue += value
		if pledge.Side == types.SideBuy {
			stats.BuyPledges++
			stats.BuyPledgeValue += value
		} else {
			stats.SellPledges++
			stats.SellPledgeValue += value
		}
	}

	err = s.db.UpdateSessionFields(sessionID, map[string]interface{}{
		"total_pledges":      stats.TotalPledges,
		"total_pledge_value": stats.TotalPledgeValue,
		"buy_pledges":        stats.BuyPledges,
		"buy_pledge_value":   stats.BuyPledgeValue,
		"sell_pledges":       stats.SellPledges,
		"sell_pledge_value":  stats.SellPledgeValue,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to write recalculated stats")
		return nil, err
	}

	logger.Debug().
		Int64("total_pledges", stats.TotalPledges).
		Float64("total_pledge_value", stats.TotalPledgeValue).
		Int64("buy_pledges", stats.BuyPledges).
		Int64("sell_pledges", stats.SellPledges).
		Msg("session stats recalculated")

	return stats, nil
}
