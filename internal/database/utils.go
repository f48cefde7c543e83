package database

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

func UpdateLoadJobStatus(ctx context.Context, txn *gorm.DB, jobId, status string) error {
	updates := map[string]any{"status": status}
	if status == JobCompleted || status == JobFailed {
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&LoadJob{JobId: jobId}).Updates(updates).Error; err != nil {
		slog.Error("error updating load job status", "job_id", jobId, "status", status, "error", err)
		return err
	}
	return nil
}

func CompleteLoadJob(ctx context.Context, txn *gorm.DB, jobId string, rowsLoaded int64) error {
	updates := map[string]any{
		"status":          JobCompleted,
		"rows_loaded":     rowsLoaded,
		"completion_time": time.Now().UTC(),
	}

	if err := txn.WithContext(ctx).Model(&LoadJob{JobId: jobId}).Updates(updates).Error; err != nil {
		slog.Error("error completing load job", "job_id", jobId, "error", err)
		return err
	}
	return nil
}

func FailLoadJob(ctx context.Context, txn *gorm.DB, jobId, errorDetail string) error {
	updates := map[string]any{
		"status":          JobFailed,
		"error_detail":    sql.NullString{String: errorDetail, Valid: errorDetail != ""},
		"completion_time": time.Now().UTC(),
	}

	if err := txn.WithContext(ctx).Model(&LoadJob{JobId: jobId}).Updates(updates).Error; err != nil {
		slog.Error("error marking load job failed", "job_id", jobId, "error", err)
		return err
	}
	return nil
}
