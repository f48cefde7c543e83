package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"ingest-backend/internal/warehouse"
	"ingest-backend/pkg/models"
)

// Loader runs one notification through the full ingestion pipeline: decode,
// resolve, materialize, build the load job, submit it, and wait for the
// terminal state. Each call is an independent unit of work; the injected
// collaborators are long-lived and carry no per-request state.
type Loader struct {
	resolver     *Resolver
	materializer SourceMaterializer
	builder      *warehouse.Builder
	warehouse    warehouse.Warehouse
}

func NewLoader(resolver *Resolver, materializer SourceMaterializer, builder *warehouse.Builder, wh warehouse.Warehouse) *Loader {
	return &Loader{
		resolver:     resolver,
		materializer: materializer,
		builder:      builder,
		warehouse:    wh,
	}
}

// ValidateNotification decodes the envelope and resolves its source without
// touching the warehouse. The async accept path uses it to reject bad
// notifications synchronously before queueing the load.
func (l *Loader) ValidateNotification(ctx context.Context, body []byte) (SourceObjectReference, error) {
	event, err := DecodeEnvelope(body)
	if err != nil {
		return SourceObjectReference{}, err
	}

	return l.resolver.Resolve(ctx, event)
}

// HandleNotification processes one inbound envelope body and blocks until
// the resulting load job succeeds or fails. Errors belong to the pipeline
// taxonomy; the caller maps them to a response.
func (l *Loader) HandleNotification(ctx context.Context, body []byte) (models.LoadResponse, error) {
	ref, err := l.ValidateNotification(ctx, body)
	if err != nil {
		return models.LoadResponse{}, err
	}

	source, cleanup, err := l.materializer.Materialize(ctx, ref)
	if err != nil {
		return models.LoadResponse{}, err
	}
	defer cleanup()

	job := l.builder.Build(source)

	slog.Info("submitting load job", "job_id", job.JobID, "source", ref.URI, "dataset", job.Dataset, "table", job.Table)

	handle, err := l.warehouse.SubmitLoad(ctx, job)
	if err != nil {
		return models.LoadResponse{}, fmt.Errorf("failed to submit load job %s: %w", job.JobID, err)
	}

	result, err := handle.Wait(ctx)
	if err != nil {
		return models.LoadResponse{}, fmt.Errorf("failed waiting for load job %s: %w", job.JobID, err)
	}

	destination := job.Dataset + "." + job.Table
	if result.Status != warehouse.StatusSuccess {
		return models.LoadResponse{}, &LoadFailedError{JobID: job.JobID, Detail: result.ErrorDetail}
	}

	return models.LoadResponse{
		JobId:      job.JobID,
		Object:     ref.Name,
		Table:      destination,
		RowsLoaded: result.RowsLoaded,
		Message:    fmt.Sprintf("File %s successfully loaded into %s.", ref.Name, destination),
	}, nil
}
