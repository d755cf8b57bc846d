package session

import (
	"errors"
	"time"

	"github.com/pledgepool/pledge-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateSession(session *types.PledgeSession) error {
	return d.db.Create(session).Error
}

func (d *Database) GetSession(sessionID string) (*types.PledgeSession, error) {
	var session types.PledgeSession
	if err := d.db.Where("session_id = ?", sessionID).First(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func (d *Database) ListSessions(status string) ([]types.PledgeSession, error) {
	var sessions []types.PledgeSession
	query := d.db.Order("created_at DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

// ListAutoExecutableSessions returns active sessions under the
// session_end rule, the candidate set for the automated trigger.
func (d *Database) ListAutoExecutableSessions() ([]types.PledgeSession, error) {
	var sessions []types.PledgeSession
	if err := d.db.
		Where("status = ? AND execution_rule = ?", types.SessionActive, types.RuleSessionEnd).
		Order("session_end ASC").
		Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

// UpdateSessionFields applies a partial field patch to a session.
func (d *Database) UpdateSessionFields(sessionID string, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now()
	result := d.db.Model(&types.PledgeSession{}).
		Where("session_id = ?", sessionID).
		Updates(fields)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	return nil
}

// TransitionStatus moves a session from one of the expected statuses to the
// target status. The conditional update doubles as the optimistic
// concurrency guard: zero rows affected means the session was not in an
// expected state at write time.
func (d *Database) TransitionStatus(sessionID string, from []string, to string, extra map[string]interface{}) (bool, error) {
	fields := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now(),
	}
	for k, v := range extra {
		fields[k] = v
	}

	result := d.db.Model(&types.PledgeSession{}).
		Where("session_id = ? AND status IN ?", sessionID, from).
		Updates(fields)

	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

func (d *Database) DeleteSession(sessionID string) error {
	result := d.db.Where("session_id = ?", sessionID).Delete(&types.PledgeSession{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CountExecutionRecords reports how many execution records reference the
// session. Deletion is refused once this is non-zero.
func (d *Database) CountExecutionRecords(sessionID string) (int64, error) {
	var count int64
	if err := d.db.Model(&types.ExecutionRecord{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// ListPledgesByStatuses returns the session's pledges in the given
// statuses, ordered deterministically for reproducible aggregation.
func (d *Database) ListPledgesByStatuses(sessionID string, statuses []string) ([]types.Pledge, error) {
	var pledges []types.Pledge
	if err := d.db.
		Where("session_id = ? AND status IN ?", sessionID, statuses).
		Order("created_at ASC, id ASC").
		Find(&pledges).Error; err != nil {
		return nil, err
	}
	return pledges, nil
}

func (d *Database) CreateAuditLog(entry *types.AuditLog) error {
	return d.db.Create(entry).Error
}

// IsNotFound reports whether the error is the store's missing-row sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
