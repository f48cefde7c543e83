package database

import (
	"database/sql"
	"time"
)

const (
	JobPending   string = "PENDING"
	JobRunning   string = "RUNNING"
	JobCompleted string = "COMPLETED"
	JobFailed    string = "FAILED"
)

// LoadJob is the ledger of every load attempt submitted to the warehouse.
// JobId doubles as the idempotency key: a redelivered notification for the
// same object produces the same id, and a completed ledger row short-circuits
// the duplicate append.
type LoadJob struct {
	JobId string `gorm:"primaryKey"`

	SourceURI string `gorm:"not null"`
	Dataset   string `gorm:"not null"`
	Table     string `gorm:"not null"`

	Status     string `gorm:"size:20;not null"`
	RowsLoaded int64  `gorm:"default:0"`
	Attempts   int    `gorm:"default:0"`

	ErrorDetail sql.NullString

	CreationTime   time.Time
	CompletionTime sql.NullTime
}
