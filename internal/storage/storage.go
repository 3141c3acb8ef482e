package storage

import (
	"context"
	"time"
)

type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified *time.Time
}

// Archive persists mirrored payloads to remote object storage and lets the
// admin API browse what was kept.
type Archive interface {
	Archive(ctx context.Context, localPath, filename string) (string, error)
	ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error)
	ObjectURL(ctx context.Context, key string, expires time.Duration) (string, error)
}
