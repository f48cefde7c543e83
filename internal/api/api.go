package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"ingest-backend/internal/database"
	"ingest-backend/internal/messaging"
	"ingest-backend/internal/normalize"
	"ingest-backend/internal/pipeline"
	"ingest-backend/pkg/models"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type IngestService struct {
	loader    *pipeline.Loader
	db        *gorm.DB
	publisher messaging.Publisher
}

func NewIngestService(loader *pipeline.Loader, db *gorm.DB) *IngestService {
	return &IngestService{loader: loader, db: db}
}

// WithAsyncAccept switches the notification endpoint to validate-and-queue:
// the envelope is checked synchronously so bad notifications still get a 4xx,
// and the load itself runs on a worker consuming the queue.
func (s *IngestService) WithAsyncAccept(publisher messaging.Publisher) *IngestService {
	s.publisher = publisher
	return s
}

func (s *IngestService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Post("/", RestHandler(s.HandleNotification))
	r.Route("/loads", func(r chi.Router) {
		r.Get("/", RestHandler(s.ListLoadJobs))
		r.Get("/{job_id}", RestHandler(s.GetLoadJob))
	})
}

// HandleNotification is the push endpoint the notification transport calls.
// The response code tells the transport whether to redeliver: 2xx settles
// the message, anything else triggers its retry policy.
func (s *IngestService) HandleNotification(r *http.Request) (any, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "unable to read request body")
	}

	if s.publisher != nil {
		return s.acceptNotification(r.Context(), body)
	}

	resp, err := s.loader.HandleNotification(r.Context(), body)
	if err != nil {
		return nil, reportOutcome(err)
	}

	return resp, nil
}

func (s *IngestService) acceptNotification(ctx context.Context, body []byte) (any, error) {
	ref, err := s.loader.ValidateNotification(ctx, body)
	if err != nil {
		return nil, reportOutcome(err)
	}

	payload := models.NotificationTaskPayload{Envelope: body}
	if err := s.publisher.PublishNotification(ctx, payload); err != nil {
		slog.Error("failed to queue notification", "object", ref.URI, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue notification")
	}

	return models.AcceptResponse{
		Object:  ref.Name,
		Message: fmt.Sprintf("File %s accepted for loading.", ref.Name),
	}, nil
}

// reportOutcome maps the pipeline error taxonomy onto response codes. Full
// diagnostic detail goes to the log; the caller gets a bounded message.
func reportOutcome(err error) error {
	var decodeErr *pipeline.DecodeError
	var sourceErr *pipeline.UnexpectedSourceError
	var loadErr *pipeline.LoadFailedError

	switch {
	case errors.Is(err, pipeline.ErrMalformedEnvelope),
		errors.Is(err, pipeline.ErrMissingPayload),
		errors.As(err, &decodeErr),
		errors.As(err, &sourceErr):
		return CodedError(http.StatusBadRequest, err)

	case errors.Is(err, pipeline.ErrNoSourceFound):
		return CodedError(http.StatusNotFound, err)

	case errors.Is(err, normalize.ErrUnparsable):
		return CodedError(http.StatusUnprocessableEntity, err)

	case errors.As(err, &loadErr):
		slog.Error("load job reported failure", "job_id", loadErr.JobID, "detail", loadErr.Detail)
		return CodedError(http.StatusInternalServerError, err)

	default:
		return CodedError(http.StatusInternalServerError, err)
	}
}

func (s *IngestService) GetLoadJob(r *http.Request) (any, error) {
	jobId, err := URLParam(r, "job_id")
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	var job database.LoadJob
	if err := s.db.WithContext(ctx).First(&job, "job_id = ?", jobId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "load job not found")
		}
		slog.Error("error getting load job", "job_id", jobId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving load job record")
	}

	return toLoadJobEntry(job), nil
}

func (s *IngestService) ListLoadJobs(r *http.Request) (any, error) {
	req, err := ParseRequestQueryParams[models.ListLoadJobsRequest](r)
	if err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := s.db.WithContext(r.Context()).Order("creation_time DESC").Limit(limit)
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}

	var jobs []database.LoadJob
	if err := query.Find(&jobs).Error; err != nil {
		slog.Error("error listing load jobs", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error listing load jobs")
	}

	resp := models.ListLoadJobsResponse{Jobs: make([]models.LoadJobEntry, 0, len(jobs))}
	for _, job := range jobs {
		resp.Jobs = append(resp.Jobs, toLoadJobEntry(job))
	}

	return resp, nil
}

func toLoadJobEntry(job database.LoadJob) models.LoadJobEntry {
	entry := models.LoadJobEntry{
		JobId:        job.JobId,
		SourceURI:    job.SourceURI,
		Table:        job.Dataset + "." + job.Table,
		Status:       job.Status,
		RowsLoaded:   job.RowsLoaded,
		CreationTime: job.CreationTime,
	}
	if job.ErrorDetail.Valid {
		entry.ErrorDetail = job.ErrorDetail.String
	}
	if job.CompletionTime.Valid {
		t := job.CompletionTime.Time
		entry.CompletionTime = &t
	}
	return entry
}
