package migration_0

import (
	"database/sql"
	"time"

	"gorm.io/gorm"
)

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

func Migration(txn *gorm.DB) error {
	return txn.AutoMigrate(&LoadJob{})
}

func Rollback(txn *gorm.DB) error {
	return txn.Migrator().DropTable(&LoadJob{})
}
