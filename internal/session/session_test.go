package session

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/pledgepool/pledge-api/internal/database"
	"github.com/pledgepool/pledge-api/internal/types"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testActor = types.Actor{ID: "admin_1", Role: types.RoleAdmin}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	return db
}

func validRequest() CreateSessionRequest {
	return CreateSessionRequest{
		StockSymbol:  "RELIANCE",
		StockName:    "Reliance Industries",
		Title:        "Reliance group pledge",
		TargetPrice:  2500,
		StockPrice:   2480,
		SessionStart: time.Now(),
		SessionEnd:   time.Now().Add(time.Hour),
	}
}

func TestCreateSession(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	sess, err := service.CreateSession(validRequest(), testActor)
	require.NoError(t, err)

	require.Contains(t, sess.SessionID, "SES_")
	require.Equal(t, types.SessionDraft, sess.Status)
	require.Equal(t, types.ModeSingleCycle, sess.SessionMode)
	require.Equal(t, types.RuleManual, sess.ExecutionRule)
	require.Equal(t, testActor.ID, sess.CreatedBy)
	require.Zero(t, sess.TotalPledges)
}

func TestCreateSessionValidation(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	tests := []struct {
		name   string
		mutate func(*CreateSessionRequest)
		field  string
	}{
		{
			name:   "missing stock symbol",
			mutate: func(r *CreateSessionRequest) { r.StockSymbol = "" },
			field:  "stock_symbol",
		},
		{
			name:   "end before start",
			mutate: func(r *CreateSessionRequest) { r.SessionEnd = r.SessionStart.Add(-time.Hour) },
			field:  "session_end",
		},
		{
			name:   "non-positive target price",
			mutate: func(r *CreateSessionRequest) { r.TargetPrice = 0 },
			field:  "target_price",
		},
		{
			name:   "unknown session mode",
			mutate: func(r *CreateSessionRequest) { r.SessionMode = "weekly" },
			field:  "session_mode",
		},
		{
			name:   "unknown execution rule",
			mutate: func(r *CreateSessionRequest) { r.ExecutionRule = "cron" },
			field:  "execution_rule",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)

			_, err := service.CreateSession(req, testActor)
			require.Error(t, err)

			var validationErr *types.ValidationError
			require.ErrorAs(t, err, &validationErr)
			require.Equal(t, tt.field, validationErr.Field)
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	sess, err := service.CreateSession(validRequest(), testActor)
	require.NoError(t, err)

	activated, err := service.ActivateSession(sess.SessionID, testActor)
	require.NoError(t, err)
	require.Equal(t, types.SessionActive, activated.Status)

	closed, err := service.CloseSession(sess.SessionID, testActor)
	require.NoError(t, err)
	require.Equal(t, types.SessionClosed, closed.Status)
}

func TestActivateClosedSessionRejected(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	sess, err := service.CreateSession(validRequest(), testActor)
	require.NoError(t, err)

	_, err = service.ActivateSession(sess.SessionID, testActor)
	require.NoError(t, err)
	_, err = service.CloseSession(sess.SessionID, testActor)
	require.NoError(t, err)

	_, err = service.ActivateSession(sess.SessionID, testActor)
	require.Error(t, err)

	var transitionErr *types.InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
	require.Equal(t, types.SessionClosed, transitionErr.From)
	require.Equal(t, types.SessionActive, transitionErr.To)

	// The failed attempt leaves the session untouched
	current, err := service.GetSession(sess.SessionID)
	require.NoError(t, err)
	require.Equal(t, types.SessionClosed, current.Status)
}

func TestCancelSession(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	sess, err := service.CreateSession(validRequest(), testActor)
	require.NoError(t, err)

	cancelled, err := service.CancelSession(sess.SessionID, testActor)
	require.NoError(t, err)
	require.Equal(t, types.SessionCancelled, cancelled.Status)

	// Cancelled is terminal
	_, err = service.CancelSession(sess.SessionID, testActor)
	var transitionErr *types.InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
}

func TestCloneSession(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	req := validRequest()
	req.SessionMode = types.ModeBuySellCycle
	source, err := service.CreateSession(req, testActor)
	require.NoError(t, err)

	// Give the source some aggregates so we can check they reset
	require.NoError(t, service.GetDB().UpdateSessionFields(source.SessionID, map[string]interface{}{
		"total_pledges":      int64(5),
		"total_pledge_value": 1000.0,
	}))

	clone, err := service.CloneSession(source.SessionID, testActor)
	require.NoError(t, err)

	require.NotEqual(t, source.SessionID, clone.SessionID)
	require.Equal(t, types.SessionDraft, clone.Status)
	require.Equal(t, source.StockSymbol, clone.StockSymbol)
	require.Equal(t, source.TargetPrice, clone.TargetPrice)
	require.Equal(t, types.ModeBuySellCycle, clone.SessionMode)
	require.Zero(t, clone.TotalPledges)
	require.Zero(t, clone.TotalPledgeValue)
}

func TestDeleteSession(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	sess, err := service.CreateSession(validRequest(), testActor)
	require.NoError(t, err)

	require.NoError(t, service.DeleteSession(sess.SessionID, testActor))

	_, err = service.GetSession(sess.SessionID)
	require.True(t, IsNotFound(err))
}

func TestDeleteSessionWithExecutionRecordsRefused(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	sess, err := service.CreateSession(validRequest(), testActor)
	require.NoError(t, err)

	record := &types.ExecutionRecord{
		ExecutionID: "EXE_test",
		PledgeID:    "PLG_test",
		SessionID:   sess.SessionID,
		Side:        types.SideBuy,
		Status:      types.ExecutionCompleted,
		ExecutedAt:  time.Now(),
		CreatedAt:   time.Now(),
	}
	require.NoError(t, db.Create(record).Error)

	err = service.DeleteSession(sess.SessionID, testActor)
	require.Error(t, err)

	var validationErr *types.ValidationError
	require.ErrorAs(t, err, &validationErr)

	// The session is still there
	_, err = service.GetSession(sess.SessionID)
	require.NoError(t, err)
}

func TestListSessionsByStatus(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	first, err := service.CreateSession(validRequest(), testActor)
	require.NoError(t, err)
	_, err = service.CreateSession(validRequest(), testActor)
	require.NoError(t, err)

	_, err = service.ActivateSession(first.SessionID, testActor)
	require.NoError(t, err)

	active, err := service.ListSessions(types.SessionActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, first.SessionID, active[0].SessionID)

	all, err := service.ListSessions("")
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestTransitionAudited(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	sess, err := service.CreateSession(validRequest(), testActor)
	require.NoError(t, err)
	_, err = service.ActivateSession(sess.SessionID, testActor)
	require.NoError(t, err)

	var entries []types.AuditLog
	require.NoError(t, db.Where("target_session_id = ?", sess.SessionID).Find(&entries).Error)

	actions := make(map[string]bool)
	for _, entry := range entries {
		actions[entry.Action] = true
		require.Equal(t, testActor.ID, entry.ActorID)
		require.Equal(t, testActor.Role, entry.ActorRole)
	}
	require.True(t, actions["session_created"])
	require.True(t, actions["session_activated"])
}
