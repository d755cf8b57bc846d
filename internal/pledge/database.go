package pledge

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

func (d *Database) GetPledge(pledgeID string) (*types.Pledge, error) {
	var pledge types.Pledge
	if err := d.db.Where("pledge_id = ?", pledgeID).First(&pledge).Error; err != nil {
		return nil, err
	}
	return &pledge, nil
}

func (d *Database) ListSessionPledges(sessionID string) ([]types.Pledge, error) {
	var pledges []types.Pledge
	if err := d.db.Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Find(&pledges).Error; err != nil {
		return nil, err
	}
	return pledges, nil
}

func (d *Database) ListUserPledges(userID string) ([]types.Pledge, error) {
	var pledges []types.Pledge
	if err := d.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&pledges).Error; err != nil {
		return nil, err
	}
	return pledges, nil
}

// GetSession retrieves the parent session for pledge validation
func (d *Database) GetSession(sessionID string) (*types.PledgeSession, error) {
	var session types.PledgeSession
	if err := d.db.Where("session_id = ?", sessionID).First(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// TransitionStatus moves a pledge from one of the expected statuses to the
// target status, with the same zero-rows-means-conflict contract as the
// session store.
func (d *Database) TransitionStatus(pledgeID string, from []string, to string, extra map[string]interface{}) (bool, error) {
	fields := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now(),
	}
	for k, v := range extra {
		fields[k] = v
	}

	result := d.db.Model(&types.Pledge{}).
		Where("pledge_id = ? AND status IN ?", pledgeID, from).
		Updates(fields)

	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

// CreatePledgeWithIdempotency creates a new pledge and idempotency record in a transaction
func (d *Database) CreatePledgeWithIdempotency(pledge *types.Pledge, idempotencyKey string) error {
	// Begin transaction
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Create(pledge).Error; err != nil {
		tx.Rollback()
		return err
	}

	// Create idempotency record
	record := types.IdempotencyRecord{
		IdempotencyKey: idempotencyKey,
		ResourceID:     pledge.PledgeID,
		ResourceType:   "pledge",
		ExpiresAt:      time.Now().Add(24 * time.Hour),
	}

	if err := tx.Create(&record).Error; err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

// GetIdempotencyRecord retrieves an idempotency record by key
func (d *Database) GetIdempotencyRecord(key string) (*types.IdempotencyRecord, error) {
	var record types.IdempotencyRecord
	if err := d.db.Where("idempotency_key = ?", key).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (d *Database) CreateAuditLog(entry *types.AuditLog) error {
	return d.db.Create(entry).Error
}
