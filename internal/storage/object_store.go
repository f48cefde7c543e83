package storage

import (
	"context"
	"io"
)

type Object struct {
	Name string
	Size int64
}

type ObjectStore interface {
	CreateBucket(ctx context.Context, bucket string) error

	ListObjects(ctx context.Context, bucket, prefix string) ([]Object, error)

	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)

	DownloadObject(ctx context.Context, bucket, key, filename string) error

	PutObject(ctx context.Context, bucket, key string, data io.Reader) error
}
