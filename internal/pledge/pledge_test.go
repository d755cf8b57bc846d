package pledge

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pledgepool/pledge-api/internal/database"
	"github.com/pledgepool/pledge-api/internal/pricing"
	"github.com/pledgepool/pledge-api/internal/session"
	"github.com/pledgepool/pledge-api/internal/types"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var (
	adminActor  = types.Actor{ID: "admin_1", Role: types.RoleAdmin}
	traderActor = types.Actor{ID: "trader_1", Role: types.RoleTrader}
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	return db
}

func setupActiveSession(t *testing.T, db *gorm.DB) *types.PledgeSession {
	t.Helper()
	sessions := session.NewService(db)

	sess, err := sessions.CreateSession(session.CreateSessionRequest{
		StockSymbol:  "TCS",
		StockName:    "Tata Consultancy Services",
		TargetPrice:  3500,
		StockPrice:   3480,
		SessionStart: time.Now(),
		SessionEnd:   time.Now().Add(time.Hour),
	}, adminActor)
	require.NoError(t, err)

	active, err := sessions.ActivateSession(sess.SessionID, adminActor)
	require.NoError(t, err)
	return active
}

func validPledgeRequest() CreatePledgeRequest {
	return CreatePledgeRequest{
		DematAccountID:   "DEMAT_001",
		Side:             types.SideBuy,
		Quantity:         10,
		PriceTarget:      3500,
		ConsentSigned:    true,
		RiskAcknowledged: true,
	}
}

func TestCreatePledge(t *testing.T) {
	db := setupTestDB(t)
	sess := setupActiveSession(t, db)
	service := NewService(db, pricing.DefaultPolicy())

	pledge, err := service.CreatePledge(sess.SessionID, validPledgeRequest(), traderActor, uuid.New().String())
	require.NoError(t, err)

	require.Contains(t, pledge.PledgeID, "PLG_")
	require.Equal(t, sess.SessionID, pledge.SessionID)
	require.Equal(t, traderActor.ID, pledge.UserID)
	require.Equal(t, sess.StockSymbol, pledge.StockSymbol)
	require.Equal(t, types.PledgePending, pledge.Status)
	require.Equal(t, 35000.0, pledge.TotalAmount)
	require.Equal(t, 700.0, pledge.PlatformFee) // 2% of 35000
}

func TestCreatePledgeOnInactiveSession(t *testing.T) {
	db := setupTestDB(t)
	sessions := session.NewService(db)
	service := NewService(db, pricing.DefaultPolicy())

	draft, err := sessions.CreateSession(session.CreateSessionRequest{
		StockSymbol:  "TCS",
		TargetPrice:  3500,
		SessionStart: time.Now(),
		SessionEnd:   time.Now().Add(time.Hour),
	}, adminActor)
	require.NoError(t, err)

	_, err = service.CreatePledge(draft.SessionID, validPledgeRequest(), traderActor, uuid.New().String())
	require.Error(t, err)

	var transitionErr *types.InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
	require.Equal(t, types.SessionDraft, transitionErr.From)
}

func TestCreatePledgeValidation(t *testing.T) {
	db := setupTestDB(t)
	sess := setupActiveSession(t, db)
	service := NewService(db, pricing.DefaultPolicy())

	tests := []struct {
		name   string
		mutate func(*CreatePledgeRequest)
		field  string
	}{
		{
			name:   "bad side",
			mutate: func(r *CreatePledgeRequest) { r.Side = "hold" },
			field:  "side",
		},
		{
			name:   "non-positive quantity",
			mutate: func(r *CreatePledgeRequest) { r.Quantity = 0 },
			field:  "quantity",
		},
		{
			name:   "non-positive price target",
			mutate: func(r *CreatePledgeRequest) { r.PriceTarget = -1 },
			field:  "price_target",
		},
		{
			name:   "missing consent",
			mutate: func(r *CreatePledgeRequest) { r.ConsentSigned = false },
			field:  "consent_signed",
		},
		{
			name:   "missing risk acknowledgement",
			mutate: func(r *CreatePledgeRequest) { r.RiskAcknowledged = false },
			field:  "risk_acknowledged",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validPledgeRequest()
			tt.mutate(&req)

			_, err := service.CreatePledge(sess.SessionID, req, traderActor, uuid.New().String())
			require.Error(t, err)

			var validationErr *types.ValidationError
			require.ErrorAs(t, err, &validationErr)
			require.Equal(t, tt.field, validationErr.Field)
		})
	}
}

func TestCreatePledgeIdempotency(t *testing.T) {
	db := setupTestDB(t)
	sess := setupActiveSession(t, db)
	service := NewService(db, pricing.DefaultPolicy())

	key := uuid.New().String()

	first, err := service.CreatePledge(sess.SessionID, validPledgeRequest(), traderActor, key)
	require.NoError(t, err)

	// Retried submission returns the original pledge
	second, err := service.CreatePledge(sess.SessionID, validPledgeRequest(), traderActor, key)
	require.NoError(t, err)
	require.Equal(t, first.PledgeID, second.PledgeID)

	pledges, err := service.ListSessionPledges(sess.SessionID)
	require.NoError(t, err)
	require.Len(t, pledges, 1)
}

func TestPledgePaymentFlow(t *testing.T) {
	db := setupTestDB(t)
	sess := setupActiveSession(t, db)
	service := NewService(db, pricing.DefaultPolicy())

	created, err := service.CreatePledge(sess.SessionID, validPledgeRequest(), traderActor, uuid.New().String())
	require.NoError(t, err)

	paid, err := service.MarkPaid(created.PledgeID, "PAY_123", traderActor)
	require.NoError(t, err)
	require.Equal(t, types.PledgePaid, paid.Status)
	require.Equal(t, "PAY_123", paid.PaymentID)

	ready, err := service.MarkReady(created.PledgeID, traderActor)
	require.NoError(t, err)
	require.Equal(t, types.PledgeReady, ready.Status)

	// Becoming ready feeds the session aggregates
	current, err := session.NewService(db).GetSession(sess.SessionID)
	require.NoError(t, err)
	require.Equal(t, int64(1), current.TotalPledges)
	require.Equal(t, 35000.0, current.TotalPledgeValue)
}

func TestMarkReadySkippingPaymentRejected(t *testing.T) {
	db := setupTestDB(t)
	sess := setupActiveSession(t, db)
	service := NewService(db, pricing.DefaultPolicy())

	created, err := service.CreatePledge(sess.SessionID, validPledgeRequest(), traderActor, uuid.New().String())
	require.NoError(t, err)

	_, err = service.MarkReady(created.PledgeID, traderActor)
	require.Error(t, err)

	var transitionErr *types.InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
	require.Equal(t, types.PledgePending, transitionErr.From)
	require.Equal(t, types.PledgeReady, transitionErr.To)
}

func TestCancelPledge(t *testing.T) {
	db := setupTestDB(t)
	sess := setupActiveSession(t, db)
	service := NewService(db, pricing.DefaultPolicy())

	created, err := service.CreatePledge(sess.SessionID, validPledgeRequest(), traderActor, uuid.New().String())
	require.NoError(t, err)
	_, err = service.MarkPaid(created.PledgeID, "PAY_123", traderActor)
	require.NoError(t, err)
	_, err = service.MarkReady(created.PledgeID, traderActor)
	require.NoError(t, err)

	cancelled, err := service.CancelPledge(created.PledgeID, traderActor)
	require.NoError(t, err)
	require.Equal(t, types.PledgeCancelled, cancelled.Status)

	// Cancelled pledges leave the aggregates
	current, err := session.NewService(db).GetSession(sess.SessionID)
	require.NoError(t, err)
	require.Zero(t, current.TotalPledges)
	require.Zero(t, current.TotalPledgeValue)
}

func TestCancelExecutedPledgeRejected(t *testing.T) {
	db := setupTestDB(t)
	sess := setupActiveSession(t, db)
	service := NewService(db, pricing.DefaultPolicy())

	created, err := service.CreatePledge(sess.SessionID, validPledgeRequest(), traderActor, uuid.New().String())
	require.NoError(t, err)

	require.NoError(t, db.Model(&types.Pledge{}).
		Where("pledge_id = ?", created.PledgeID).
		Update("status", types.PledgeExecuted).Error)

	_, err = service.CancelPledge(created.PledgeID, traderActor)
	require.Error(t, err)

	var transitionErr *types.InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
	require.Equal(t, types.PledgeExecuted, transitionErr.From)
}

func TestListUserPledges(t *testing.T) {
	db := setupTestDB(t)
	sess := setupActiveSession(t, db)
	service := NewService(db, pricing.DefaultPolicy())

	_, err := service.CreatePledge(sess.SessionID, validPledgeRequest(), traderActor, uuid.New().String())
	require.NoError(t, err)

	other := types.Actor{ID: "trader_2", Role: types.RoleTrader}
	_, err = service.CreatePledge(sess.SessionID, validPledgeRequest(), other, uuid.New().String())
	require.NoError(t, err)

	mine, err := service.ListUserPledges(traderActor.ID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.Equal(t, traderActor.ID, mine[0].UserID)
}
