package storage

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a key does not exist in the bucket.
var ErrNotFound = errors.New("object not found")

// ObjectInfo describes a stored object without its content.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Object is a stored object together with its content.
type Object struct {
	Key     string
	Size    int64
	Content string
}

// PingResult reports store reachability for health checks.
type PingResult struct {
	Bucket    string  `json:"bucket"`
	LatencyMs float64 `json:"latency_ms"`
}

// Store is the object-store surface every service talks to. Keys are
// bucket-relative ({space}/live/..., _system/tokens.json, ...). The production
// implementation is the dual-signature S3 adapter; tests and the --memory
// development mode use the in-memory twin.
type Store interface {
	Put(ctx context.Context, key, content string) error
	Get(ctx context.Context, key string) (string, error)
	PutJSON(ctx context.Context, key string, v any) error
	GetJSON(ctx context.Context, key string, v any) error
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	ListPrefixes(ctx context.Context, prefix string) ([]string, error)
	ListAndGet(ctx context.Context, prefix string, includeKeep bool) ([]Object, error)
	Delete(ctx context.Context, key string) error
	DeleteMany(ctx context.Context, keys []string) (int, error)
	Copy(ctx context.Context, src, dst string) error
	Ping(ctx context.Context) (PingResult, error)
}

// contentTypeFor picks the stored content type from the key extension.
func contentTypeFor(key string) string {
	switch {
	case strings.HasSuffix(key, ".md"):
		return "text/markdown"
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// IsKeep reports whether the key is one of the folder sentinel objects.
func IsKeep(key string) bool {
	return strings.HasSuffix(key, "/.keep")
}
