package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"ingest-backend/internal/storage"
)

// SourceObjectReference is the fully qualified location of the object to
// load.
type SourceObjectReference struct {
	Bucket string
	Name   string
	URI    string
}

// Resolver confirms an event references the configured source bucket and
// produces the object reference to load.
type Resolver struct {
	objects storage.ObjectStore
	bucket  string
}

func NewResolver(objects storage.ObjectStore, bucket string) *Resolver {
	return &Resolver{objects: objects, bucket: bucket}
}

func objectURI(bucket, name string) string {
	return fmt.Sprintf("s3://%s/%s", bucket, name)
}

// Resolve builds the source reference from the event. Events naming another
// bucket are rejected before any storage call. An event without an object
// name falls back to listing the bucket and taking the first csv object.
// Listing order is not deterministic under concurrent uploads, so this path
// exists for polling-style deployments and diagnostics, not as the primary
// architecture.
func (r *Resolver) Resolve(ctx context.Context, event ObjectEvent) (SourceObjectReference, error) {
	if event.Bucket != r.bucket {
		return SourceObjectReference{}, &UnexpectedSourceError{Bucket: event.Bucket}
	}

	if name := event.ObjectName(); name != "" {
		return SourceObjectReference{Bucket: r.bucket, Name: name, URI: objectURI(r.bucket, name)}, nil
	}

	slog.Warn("notification carried no object name, falling back to bucket listing", "bucket", r.bucket)

	objects, err := r.objects.ListObjects(ctx, r.bucket, "")
	if err != nil {
		return SourceObjectReference{}, fmt.Errorf("failed to list bucket %s: %w", r.bucket, err)
	}

	for _, obj := range objects {
		if strings.HasSuffix(obj.Name, ".csv") {
			return SourceObjectReference{Bucket: r.bucket, Name: obj.Name, URI: objectURI(r.bucket, obj.Name)}, nil
		}
	}

	return SourceObjectReference{}, ErrNoSourceFound
}
