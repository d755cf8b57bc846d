package execution

import (
	"context"
	"testing"
	"time"

	"github.com/pledgepool/pledge-api/internal/session"
	"github.com/pledgepool/pledge-api/internal/types"
	"github.com/stretchr/testify/require"
)

// createAutoSession creates an active session under the session_end rule
// with the given scheduled end.
func (env *testEnv) createAutoSession(t *testing.T, end time.Time) *types.PledgeSession {
	t.Helper()
	sess, err := env.sessions.CreateSession(session.CreateSessionRequest{
		StockSymbol:   "ITC",
		TargetPrice:   450,
		StockPrice:    445,
		SessionStart:  end.Add(-time.Hour),
		SessionEnd:    end,
		ExecutionRule: types.RuleSessionEnd,
	}, adminActor)
	require.NoError(t, err)

	active, err := env.sessions.ActivateSession(sess.SessionID, adminActor)
	require.NoError(t, err)
	return active
}

func TestTriggerExecutesDueSessions(t *testing.T) {
	env := setupTestEnv(t)

	due := env.createAutoSession(t, time.Now().Add(-time.Minute))
	env.createReadyPledge(t, due.SessionID, 10, 450)

	trigger := NewTrigger(env.execution, env.sessions, time.Second, time.Millisecond)
	require.NoError(t, trigger.processDueSessions(context.Background()))

	current, err := env.sessions.GetSession(due.SessionID)
	require.NoError(t, err)
	require.Equal(t, types.SessionCompleted, current.Status)
	require.NotNil(t, current.LastExecutedAt)

	records, err := env.execution.ListSessionExecutions(due.SessionID)
	require.NoError(t, err)
	require.Len(t, records, 1)

	// Automated executions are attributed to the system actor
	entries, err := env.execution.ListSessionAudit(due.SessionID)
	require.NoError(t, err)
	found := false
	for _, entry := range entries {
		if entry.Action == "buy_execution_completed" {
			require.Equal(t, types.SystemActor.ID, entry.ActorID)
			require.Equal(t, types.RoleSystem, entry.ActorRole)
			found = true
		}
	}
	require.True(t, found)
}

func TestTriggerSkipsFutureSessions(t *testing.T) {
	env := setupTestEnv(t)

	future := env.createAutoSession(t, time.Now().Add(time.Hour))
	env.createReadyPledge(t, future.SessionID, 10, 450)

	trigger := NewTrigger(env.execution, env.sessions, time.Second, time.Millisecond)
	require.NoError(t, trigger.processDueSessions(context.Background()))

	current, err := env.sessions.GetSession(future.SessionID)
	require.NoError(t, err)
	require.Equal(t, types.SessionActive, current.Status)
}

func TestTriggerSkipsManualSessions(t *testing.T) {
	env := setupTestEnv(t)

	// Manual-rule session past its end is never auto-executed
	manual, err := env.sessions.CreateSession(session.CreateSessionRequest{
		StockSymbol:  "ITC",
		TargetPrice:  450,
		SessionStart: time.Now().Add(-2 * time.Hour),
		SessionEnd:   time.Now().Add(-time.Hour),
	}, adminActor)
	require.NoError(t, err)
	_, err = env.sessions.ActivateSession(manual.SessionID, adminActor)
	require.NoError(t, err)

	trigger := NewTrigger(env.execution, env.sessions, time.Second, time.Millisecond)
	require.NoError(t, trigger.processDueSessions(context.Background()))

	current, err := env.sessions.GetSession(manual.SessionID)
	require.NoError(t, err)
	require.Equal(t, types.SessionActive, current.Status)
}

func TestTriggerSkipsSessionsBeingExecuted(t *testing.T) {
	env := setupTestEnv(t)

	due := env.createAutoSession(t, time.Now().Add(-time.Minute))

	// Simulate a manual run holding the session lock; the trigger sweep
	// must skip it without reporting an error.
	require.True(t, env.execution.locks.acquire(due.SessionID))
	defer env.execution.locks.release(due.SessionID)

	trigger := NewTrigger(env.execution, env.sessions, time.Second, time.Millisecond)
	require.NoError(t, trigger.processDueSessions(context.Background()))

	current, err := env.sessions.GetSession(due.SessionID)
	require.NoError(t, err)
	require.Equal(t, types.SessionActive, current.Status)
}

func TestTriggerStopsOnCancelledContext(t *testing.T) {
	env := setupTestEnv(t)

	env.createAutoSession(t, time.Now().Add(-time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	trigger := NewTrigger(env.execution, env.sessions, time.Second, time.Millisecond)
	require.ErrorIs(t, trigger.processDueSessions(ctx), context.Canceled)
}
