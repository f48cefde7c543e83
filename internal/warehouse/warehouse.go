package warehouse

import (
	"context"
)

type WriteMode string

// The destination table is an immutable log of historical loads; append is
// the only supported write mode.
const WriteAppend WriteMode = "APPEND"

const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

// Source identifies the bytes a load job ingests: either an object in the
// configured bucket, or a local cleaned file produced by normalization. When
// LocalPath is set it wins; Bucket/Name/URI still name the originating
// object for job identity and reporting.
type Source struct {
	Bucket    string
	Name      string
	URI       string
	LocalPath string
}

// LoadJob is a fully-populated load descriptor. Construction is pure; only
// submission has side effects.
type LoadJob struct {
	JobID string

	Source  Source
	Dataset string
	Table   string

	// Schema nil delegates inference to the warehouse (autodetect).
	Schema Schema

	WriteMode           WriteMode
	SkipLeadingRows     int
	AllowJaggedRows     bool
	AllowQuotedNewlines bool
	IgnoreUnknownValues bool
}

type JobResult struct {
	Status      string
	RowsLoaded  int64
	ErrorDetail string
}

type Warehouse interface {
	// SubmitLoad starts the load job. The returned handle's Wait blocks until
	// the job reaches a terminal state. Submission errors (duplicate running
	// job, ledger failure) are returned immediately.
	SubmitLoad(ctx context.Context, job LoadJob) (*JobHandle, error)
}

type JobHandle struct {
	JobID string

	done   chan struct{}
	result JobResult
}

func newJobHandle(jobID string) *JobHandle {
	return &JobHandle{JobID: jobID, done: make(chan struct{})}
}

func completedJobHandle(jobID string, result JobResult) *JobHandle {
	h := newJobHandle(jobID)
	h.finish(result)
	return h
}

func (h *JobHandle) finish(result JobResult) {
	h.result = result
	close(h.done)
}

// Wait blocks until the job is terminal or the context is done. The job
// itself keeps running if the caller gives up waiting; the warehouse-side
// mutation is already in flight.
func (h *JobHandle) Wait(ctx context.Context) (JobResult, error) {
	select {
	case <-ctx.Done():
		return JobResult{}, ctx.Err()
	case <-h.done:
		return h.result, nil
	}
}
