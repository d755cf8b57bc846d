package migrations

import (
	"github.com/pledgepool/pledge-api/internal/types"
	"gorm.io/gorm"
)

// AddExecutionRecords creates the execution records table and required indexes
func AddExecutionRecords(db *gorm.DB) error {
	// Create the execution records table
	if err := db.AutoMigrate(&types.ExecutionRecord{}); err != nil {
		return err
	}

	// Add indexes for better query performance
	// Using raw SQL for index creation to have more control over index types
	indexes := []string{
		// Composite index for the eligibility lookup per session and side
		`CREATE INDEX IF NOT EXISTS idx_execution_records_session_side
		 ON execution_records(session_id, side)`,

		// Composite index for the one-completed-record-per-pledge-and-side check
		`CREATE INDEX IF NOT EXISTS idx_execution_records_pledge_side_status
		 ON execution_records(pledge_id, side, status)`,

		// Index for settlement date range queries
		`CREATE INDEX IF NOT EXISTS idx_execution_records_settlement_date
		 ON execution_records(settlement_date)`,

		// Index for executed_at timestamp (useful for time-based queries)
		`CREATE INDEX IF NOT EXISTS idx_execution_records_executed_at
		 ON execution_records(executed_at)`,
	}

	// Execute each index creation
	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
