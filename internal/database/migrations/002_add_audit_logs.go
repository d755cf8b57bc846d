package migrations

import (
	"github.com/pledgepool/pledge-api/internal/types"
	"gorm.io/gorm"
)

// AddAuditLogs creates the append-only audit log table and its indexes
func AddAuditLogs(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.AuditLog{}); err != nil {
		return err
	}

	indexes := []string{
		// Index for per-session audit trails
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_target_session
		 ON audit_logs(target_session_id, created_at)`,

		// Index for per-pledge audit trails
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_target_pledge
		 ON audit_logs(target_pledge_id, created_at)`,

		// Index for action filtering
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_action
		 ON audit_logs(action)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
