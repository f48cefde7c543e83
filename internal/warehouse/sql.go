package warehouse

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"ingest-backend/internal/database"
	"ingest-backend/internal/storage"

	"gorm.io/gorm"
)

const (
	// Rows sampled for schema autodetection before streaming begins.
	autodetectSampleRows = 100

	insertBatchSize = 200
)

// SQLWarehouse executes load jobs against a SQL analytical store. The load
// streams csv rows from the source into the destination table in batches;
// the ledger (database.LoadJob) records every attempt and makes job ids
// idempotent across redelivered notifications.
type SQLWarehouse struct {
	db      *gorm.DB
	objects storage.ObjectStore
}

var _ Warehouse = (*SQLWarehouse)(nil)

func NewSQLWarehouse(db *gorm.DB, objects storage.ObjectStore) *SQLWarehouse {
	return &SQLWarehouse{db: db, objects: objects}
}

func (w *SQLWarehouse) SubmitLoad(ctx context.Context, job LoadJob) (*JobHandle, error) {
	if job.JobID == "" {
		return nil, fmt.Errorf("load job is missing a job id")
	}
	if job.WriteMode != WriteAppend {
		return nil, fmt.Errorf("unsupported write mode %q: destination tables are append-only", job.WriteMode)
	}

	var existing database.LoadJob
	err := w.db.WithContext(ctx).First(&existing, "job_id = ?", job.JobID).Error
	switch {
	case err == nil:
		switch existing.Status {
		case database.JobCompleted:
			// Redelivered notification for an already-loaded object: report
			// the prior result instead of appending the file a second time.
			slog.Info("duplicate load job, returning prior result", "job_id", job.JobID, "rows_loaded", existing.RowsLoaded)
			return completedJobHandle(job.JobID, JobResult{Status: StatusSuccess, RowsLoaded: existing.RowsLoaded}), nil
		case database.JobPending, database.JobRunning:
			return nil, fmt.Errorf("load job %s is already in progress", job.JobID)
		case database.JobFailed:
			updates := map[string]any{"status": database.JobRunning, "attempts": existing.Attempts + 1}
			if err := w.db.WithContext(ctx).Model(&database.LoadJob{JobId: job.JobID}).Updates(updates).Error; err != nil {
				return nil, fmt.Errorf("failed to restart load job %s: %w", job.JobID, err)
			}
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		record := database.LoadJob{
			JobId:        job.JobID,
			SourceURI:    job.Source.URI,
			Dataset:      job.Dataset,
			Table:        job.Table,
			Status:       database.JobRunning,
			Attempts:     1,
			CreationTime: time.Now().UTC(),
		}
		if err := w.db.WithContext(ctx).Create(&record).Error; err != nil {
			// A concurrent submission of the same job id loses the insert
			// race on the primary key and lands here.
			return nil, fmt.Errorf("failed to record load job %s: %w", job.JobID, err)
		}
	default:
		return nil, fmt.Errorf("failed to check load job ledger for %s: %w", job.JobID, err)
	}

	handle := newJobHandle(job.JobID)
	go w.run(job, handle)
	return handle, nil
}

func (w *SQLWarehouse) run(job LoadJob, handle *JobHandle) {
	// Deliberately not the request context: once submitted, the load runs to
	// completion even if the caller stops waiting.
	ctx := context.Background()

	var rowsLoaded int64
	err := withRetry(ctx, job.JobID, func() error {
		var err error
		rowsLoaded, err = w.executeLoad(ctx, job)
		return err
	})

	if err != nil {
		slog.Error("load job failed", "job_id", job.JobID, "source", job.Source.URI, "error", err)
		database.FailLoadJob(ctx, w.db, job.JobID, err.Error()) //nolint:errcheck
		handle.finish(JobResult{Status: StatusFailure, ErrorDetail: err.Error()})
		return
	}

	slog.Info("load job completed", "job_id", job.JobID, "source", job.Source.URI, "rows_loaded", rowsLoaded)
	database.CompleteLoadJob(ctx, w.db, job.JobID, rowsLoaded) //nolint:errcheck
	handle.finish(JobResult{Status: StatusSuccess, RowsLoaded: rowsLoaded})
}

func (w *SQLWarehouse) openSource(ctx context.Context, source Source) (io.ReadCloser, error) {
	if source.LocalPath != "" {
		file, err := os.Open(source.LocalPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open cleaned file %s: %w", source.LocalPath, err)
		}
		return file, nil
	}

	data, err := w.objects.GetObject(ctx, source.Bucket, source.Name)
	if err != nil {
		return nil, markTransient(err)
	}
	return data, nil
}

func (w *SQLWarehouse) executeLoad(ctx context.Context, job LoadJob) (int64, error) {
	data, err := w.openSource(ctx, job.Source)
	if err != nil {
		return 0, err
	}
	defer data.Close()

	reader := csv.NewReader(data)
	reader.LazyQuotes = true
	if job.AllowJaggedRows {
		reader.FieldsPerRecord = -1
	}

	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("failed to read header from %s: %v", job.Source.URI, err)
	}
	for i := 1; i < job.SkipLeadingRows; i++ {
		if _, err := reader.Read(); err != nil && err != io.EOF {
			return 0, fmt.Errorf("failed to skip leading rows in %s: %v", job.Source.URI, err)
		}
	}

	schema := job.Schema
	var buffered [][]string
	if schema == nil {
		for len(buffered) < autodetectSampleRows {
			record, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				return 0, fmt.Errorf("failed to sample rows for schema detection in %s: %v", job.Source.URI, err)
			}
			buffered = append(buffered, record)
		}
		schema = InferSchema(header, buffered)
	}

	// The whole load is one transaction: a mid-stream failure commits
	// nothing, so a retried or redelivered job never re-appends a partially
	// loaded prefix.
	var rows int64
	err = w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureTable(tx, job, schema); err != nil {
			return err
		}

		ins := newInserter(tx, destinationTable(tx, job.Dataset, job.Table), schema, job)

		for _, record := range buffered {
			if err := ins.add(record); err != nil {
				return err
			}
		}

		for {
			record, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				return fmt.Errorf("failed to read row from %s: %v", job.Source.URI, err)
			}
			if err := ins.add(record); err != nil {
				return err
			}
		}

		if err := ins.flush(); err != nil {
			return err
		}

		rows = ins.rows
		return nil
	})
	if err != nil {
		return 0, err
	}

	return rows, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// destinationTable qualifies the table with its dataset. Postgres gets a
// real schema; sqlite has none, so the dataset is folded into the table
// name.
func destinationTable(db *gorm.DB, dataset, table string) string {
	if dataset == "" {
		return quoteIdent(table)
	}
	if db.Dialector.Name() == "postgres" {
		return quoteIdent(dataset) + "." + quoteIdent(table)
	}
	return quoteIdent(dataset + "_" + table)
}

func columnType(t FieldType) string {
	switch t {
	case FieldInteger:
		return "BIGINT"
	case FieldFloat:
		return "DOUBLE PRECISION"
	case FieldBool:
		return "BOOLEAN"
	case FieldDate:
		return "DATE"
	default:
		return "TEXT"
	}
}

func ensureTable(tx *gorm.DB, job LoadJob, schema Schema) error {
	if job.Dataset != "" && tx.Dialector.Name() == "postgres" {
		if err := tx.Exec("CREATE SCHEMA IF NOT EXISTS " + quoteIdent(job.Dataset)).Error; err != nil {
			return fmt.Errorf("failed to create dataset %s: %w", job.Dataset, err)
		}
	}

	columns := make([]string, len(schema))
	for i, field := range schema {
		columns[i] = quoteIdent(field.Name) + " " + columnType(field.Type)
	}

	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", destinationTable(tx, job.Dataset, job.Table), strings.Join(columns, ", "))
	if err := tx.Exec(stmt).Error; err != nil {
		return fmt.Errorf("failed to create destination table %s.%s: %w", job.Dataset, job.Table, err)
	}

	return nil
}

type inserter struct {
	db     *gorm.DB
	table  string
	schema Schema
	job    LoadJob

	pending [][]any
	rows    int64
}

func newInserter(db *gorm.DB, table string, schema Schema, job LoadJob) *inserter {
	return &inserter{db: db, table: table, schema: schema, job: job}
}

func (ins *inserter) add(record []string) error {
	if len(record) > len(ins.schema) {
		if !ins.job.IgnoreUnknownValues {
			return fmt.Errorf("row %d has %d values for %d columns", ins.rows+1, len(record), len(ins.schema))
		}
		record = record[:len(ins.schema)]
	}
	if len(record) < len(ins.schema) && !ins.job.AllowJaggedRows {
		return fmt.Errorf("row %d has %d values for %d columns", ins.rows+1, len(record), len(ins.schema))
	}

	values := make([]any, len(ins.schema))
	for i, field := range ins.schema {
		if i >= len(record) {
			values[i] = nil // missing trailing fields load as null
			continue
		}
		values[i] = convertValue(record[i], field.Type)
	}

	ins.pending = append(ins.pending, values)
	ins.rows++

	if len(ins.pending) >= insertBatchSize {
		return ins.flush()
	}
	return nil
}

func (ins *inserter) flush() error {
	if len(ins.pending) == 0 {
		return nil
	}

	columns := make([]string, len(ins.schema))
	for i, field := range ins.schema {
		columns[i] = quoteIdent(field.Name)
	}

	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?,", len(ins.schema)), ",") + ")"

	rows := make([]string, len(ins.pending))
	args := make([]any, 0, len(ins.pending)*len(ins.schema))
	for i, values := range ins.pending {
		rows[i] = placeholder
		args = append(args, values...)
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", ins.table, strings.Join(columns, ", "), strings.Join(rows, ", "))
	if err := ins.db.Exec(stmt, args...).Error; err != nil {
		return fmt.Errorf("failed to append rows to %s: %w", ins.table, err)
	}

	ins.pending = ins.pending[:0]
	return nil
}

// convertValue coerces a csv field into the column's type. Values that do
// not fit load as null rather than rejecting the whole file.
func convertValue(value string, t FieldType) any {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	switch t {
	case FieldInteger:
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return int64(f)
		}
		return nil
	case FieldFloat:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		return nil
	case FieldBool:
		switch strings.ToLower(value) {
		case "true", "t", "1", "yes", "y":
			return true
		case "false", "f", "0", "no", "n":
			return false
		}
		return nil
	case FieldDate:
		if _, err := time.Parse("2006-01-02", value); err == nil {
			return value
		}
		return nil
	default:
		return value
	}
}
