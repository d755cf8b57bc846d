package execution

import (
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

// GetSession retrieves session details for orchestration
func (d *Database) GetSession(sessionID string) (*types.PledgeSession, error) {
	var session types.PledgeSession
	if err := d.db.Where("session_id = ?", sessionID).First(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// ListEligiblePledges returns the session's pledges in the given status,
// ordered by creation so audit trails are reproducible across runs.
func (d *Database) ListEligiblePledges(sessionID, status string) ([]types.Pledge, error) {
	var pledges []types.Pledge
	if err := d.db.
		Where("session_id = ? AND status = ?", sessionID, status).
		Order("created_at ASC, id ASC").
		Find(&pledges).Error; err != nil {
		return nil, err
	}
	return pledges, nil
}

// GetCompletedExecution returns the completed execution record for a
// pledge on one side, or gorm.ErrRecordNotFound.
func (d *Database) GetCompletedExecution(pledgeID, side string) (*types.ExecutionRecord, error) {
	var record types.ExecutionRecord
	if err := d.db.
		Where("pledge_id = ? AND side = ? AND status = ?", pledgeID, side, types.ExecutionCompleted).
		First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// CreateExecutionRecord appends an execution record. Records are never
// updated or deleted afterwards.
func (d *Database) CreateExecutionRecord(record *types.ExecutionRecord) error {
	return d.db.Create(record).Error
}

// ListSessionExecutions returns all execution records for a session
func (d *Database) ListSessionExecutions(sessionID string) ([]types.ExecutionRecord, error) {
	var records []types.ExecutionRecord
	if err := d.db.
		Where("session_id = ?", sessionID).
		Order("executed_at ASC, id ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// TransitionPledgeStatus performs the guarded pledge status move.
func (d *Database) TransitionPledgeStatus(pledgeID string, from []string, to string) (bool, error) {
	result := d.db.Model(&types.Pledge{}).
		Where("pledge_id = ? AND status IN ?", pledgeID, from).
		Updates(map[string]interface{}{
			"status":     to,
			"updated_at": time.Now(),
		})

	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

// TransitionSessionStatus performs the guarded session status move, the
// store-level half of the execution mutual exclusion.
func (d *Database) TransitionSessionStatus(sessionID string, from []string, to string, extra map[string]interface{}) (bool, error) {
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

// ListSessionAudit returns the audit trail for a session
func (d *Database) ListSessionAudit(sessionID string) ([]types.AuditLog, error) {
	var entries []types.AuditLog
	if err := d.db.
		Where("target_session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (d *Database) CreateAuditLog(entry *types.AuditLog) error {
	return d.db.Create(entry).Error
}
