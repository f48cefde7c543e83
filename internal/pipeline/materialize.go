package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"

	"ingest-backend/internal/normalize"
	"ingest-backend/internal/storage"
	"ingest-backend/internal/warehouse"
)

// SourceMaterializer turns a resolved object reference into the source a
// load job ingests. The two strategies are load-by-reference (the warehouse
// streams the original object) and normalize-then-load (a cleaned local copy
// is produced first); deployments pick one.
type SourceMaterializer interface {
	// Materialize returns the load source and a cleanup to run after the
	// load job is terminal.
	Materialize(ctx context.Context, ref SourceObjectReference) (warehouse.Source, func(), error)
}

func noopCleanup() {}

// ReferenceMaterializer loads the object exactly as uploaded, by reference.
type ReferenceMaterializer struct{}

var _ SourceMaterializer = ReferenceMaterializer{}

func (ReferenceMaterializer) Materialize(ctx context.Context, ref SourceObjectReference) (warehouse.Source, func(), error) {
	return warehouse.Source{Bucket: ref.Bucket, Name: ref.Name, URI: ref.URI}, noopCleanup, nil
}

// CleanedPrefix is where re-uploaded cleaned copies land. A distinct prefix,
// never the original location: overwriting the source object in place races
// with redelivered notifications for it.
const CleanedPrefix = "cleaned/"

// NormalizeMaterializer downloads the object, streams it through the
// normalization policy into a temp file, and hands the cleaned file to the
// load job.
type NormalizeMaterializer struct {
	objects  storage.ObjectStore
	policy   normalize.Policy
	reupload bool
}

var _ SourceMaterializer = (*NormalizeMaterializer)(nil)

func NewNormalizeMaterializer(objects storage.ObjectStore, policy normalize.Policy) *NormalizeMaterializer {
	return &NormalizeMaterializer{objects: objects, policy: policy}
}

// WithReupload also writes the cleaned bytes back to the bucket under
// CleanedPrefix, for deployments where downstream consumers want the cleaned
// copy.
func (m *NormalizeMaterializer) WithReupload() *NormalizeMaterializer {
	m.reupload = true
	return m
}

func (m *NormalizeMaterializer) Materialize(ctx context.Context, ref SourceObjectReference) (warehouse.Source, func(), error) {
	data, err := m.objects.GetObject(ctx, ref.Bucket, ref.Name)
	if err != nil {
		return warehouse.Source{}, noopCleanup, fmt.Errorf("failed to fetch object %s: %w", ref.URI, err)
	}
	defer data.Close()

	tmp, err := os.CreateTemp("", "cleaned-*.csv")
	if err != nil {
		return warehouse.Source{}, noopCleanup, fmt.Errorf("failed to create temp file for cleaned output: %w", err)
	}
	cleanup := func() {
		os.Remove(tmp.Name()) //nolint:errcheck
	}

	stats, err := normalize.Clean(data, tmp, m.policy)
	if err != nil {
		tmp.Close()
		cleanup()
		return warehouse.Source{}, noopCleanup, err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return warehouse.Source{}, noopCleanup, fmt.Errorf("failed to finalize cleaned file: %w", err)
	}

	slog.Info("normalized source object", "object", ref.URI, "rows", stats.Rows, "rows_dropped", stats.RowsDropped, "columns", stats.Columns)

	if m.reupload {
		if err := m.uploadCleaned(ctx, ref, tmp.Name()); err != nil {
			cleanup()
			return warehouse.Source{}, noopCleanup, err
		}
	}

	source := warehouse.Source{
		Bucket:    ref.Bucket,
		Name:      ref.Name,
		URI:       ref.URI,
		LocalPath: tmp.Name(),
	}
	return source, cleanup, nil
}

func (m *NormalizeMaterializer) uploadCleaned(ctx context.Context, ref SourceObjectReference, localPath string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to reopen cleaned file: %w", err)
	}
	defer file.Close()

	key := CleanedPrefix + path.Base(ref.Name)
	if err := m.objects.PutObject(ctx, ref.Bucket, key, file); err != nil {
		return fmt.Errorf("failed to upload cleaned copy of %s: %w", ref.URI, err)
	}

	return nil
}
