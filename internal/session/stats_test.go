package session

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pledgepool/pledge-api/internal/types"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedPledge(t *testing.T, db *gorm.DB, sessionID, side, status string, qty int64, price float64) {
	t.Helper()
	pledge := &types.Pledge{
		PledgeID:    "PLG_" + uuid.New().String(),
		SessionID:   sessionID,
		UserID:      "user_1",
		Side:        side,
		Quantity:    qty,
		PriceTarget: price,
		Status:      status,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	require.NoError(t, db.Create(pledge).Error)
}

func TestRecalculateStatsEmptySession(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	sess, err := service.CreateSession(validRequest(), testActor)
	require.NoError(t, err)

	stats, err := service.RecalculateStats(sess.SessionID)
	require.NoError(t, err)

	require.Zero(t, stats.TotalPledges)
	require.Zero(t, stats.TotalPledgeValue)
	require.Zero(t, stats.BuyPledges)
	require.Zero(t, stats.SellPledges)
}

func TestRecalculateStatsCountsEligibleStatuses(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	sess, err := service.CreateSession(validRequest(), testActor)
	require.NoError(t, err)

	seedPledge(t, db, sess.SessionID, types.SideBuy, types.PledgeReady, 10, 100)    // 1000
	seedPledge(t, db, sess.SessionID, types.SideBuy, types.PledgeExecuted, 5, 200)  // 1000
	seedPledge(t, db, sess.SessionID, types.SideSell, types.PledgeSettled, 2, 150)  // 300
	seedPledge(t, db, sess.SessionID, types.SideBuy, types.PledgePending, 99, 999)  // not counted
	seedPledge(t, db, sess.SessionID, types.SideSell, types.PledgeCancelled, 7, 50) // not counted

	stats, err := service.RecalculateStats(sess.SessionID)
	require.NoError(t, err)

	require.Equal(t, int64(3), stats.TotalPledges)
	require.Equal(t, 2300.0, stats.TotalPledgeValue)
	require.Equal(t, int64(2), stats.BuyPledges)
	require.Equal(t, 2000.0, stats.BuyPledgeValue)
	require.Equal(t, int64(1), stats.SellPledges)
	require.Equal(t, 300.0, stats.SellPledgeValue)

	// Written back onto the session row
	current, err := service.GetSession(sess.SessionID)
	require.NoError(t, err)
	require.Equal(t, int64(3), current.TotalPledges)
	require.Equal(t, 2300.0, current.TotalPledgeValue)
}

func TestRecalculateStatsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	sess, err := service.CreateSession(validRequest(), testActor)
	require.NoError(t, err)

	seedPledge(t, db, sess.SessionID, types.SideBuy, types.PledgeReady, 10, 100)

	first, err := service.RecalculateStats(sess.SessionID)
	require.NoError(t, err)
	second, err := service.RecalculateStats(sess.SessionID)
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func TestRecalculateStatsOverwritesDrift(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	sess, err := service.CreateSession(validRequest(), testActor)
	require.NoError(t, err)

	seedPledge(t, db, sess.SessionID, types.SideBuy, types.PledgeReady, 10, 100)

	// Simulate drifted aggregates
	require.NoError(t, service.GetDB().UpdateSessionFields(sess.SessionID, map[string]interface{}{
		"total_pledges":      int64(42),
		"total_pledge_value": 99999.0,
	}))

	_, err = service.RecalculateStats(sess.SessionID)
	require.NoError(t, err)

	current, err := service.GetSession(sess.SessionID)
	require.NoError(t, err)
	require.Equal(t, int64(1), current.TotalPledges)
	require.Equal(t, 1000.0, current.TotalPledgeValue)
}

func TestRecalculateStatsUnknownSession(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	_, err := service.RecalculateStats("SES_missing")
	require.True(t, IsNotFound(err))
}
