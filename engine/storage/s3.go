package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/livemem/livemem/pkg/logger"
)

// S3Config carries the connection settings for the object store.
type S3Config struct {
	EndpointURL     string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Region          string
}

// S3Store talks to a Dell ECS flavoured S3 endpoint. The store rejects
// streaming SigV4 payloads on data operations and rejects SigV2 on metadata
// operations, so two clients share the endpoint:
//
//	data (SigV2): Put, Get, Delete, Copy
//	meta (SigV4): Stat/Exists, List, bucket checks
type S3Store struct {
	data   *minio.Client
	meta   *minio.Client
	bucket string
}

// NewS3Store builds the dual-signature client pair from the endpoint URL.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	u, err := url.Parse(cfg.EndpointURL)
	if err != nil {
		return nil, fmt.Errorf("invalid S3 endpoint %q: %w", cfg.EndpointURL, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid S3 endpoint %q: missing host", cfg.EndpointURL)
	}
	secure := u.Scheme != "http"

	data, err := minio.New(u.Host, &minio.Options{
		Creds:        credentials.NewStaticV2(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:       secure,
		Region:       cfg.Region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create SigV2 client: %w", err)
	}

	meta, err := minio.New(u.Host, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:       secure,
		Region:       cfg.Region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create SigV4 client: %w", err)
	}

	return &S3Store{data: data, meta: meta, bucket: cfg.Bucket}, nil
}

func (s *S3Store) Put(ctx context.Context, key, content string) error {
	reader := strings.NewReader(content)
	_, err := s.data.PutObject(ctx, s.bucket, key, reader, int64(len(content)), minio.PutObjectOptions{
		ContentType: contentTypeFor(key),
	})
	if err != nil {
		return fmt.Errorf("failed to put %q: %w", key, err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) (string, error) {
	obj, err := s.data.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to get %q: %w", key, err)
	}
	defer obj.Close()

	b, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to read %q: %w", key, err)
	}
	return string(b), nil
}

func (s *S3Store) PutJSON(ctx context.Context, key string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", key, err)
	}
	return s.Put(ctx, key, string(b))
}

func (s *S3Store) GetJSON(ctx context.Context, key string, v any) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("failed to decode %q: %w", key, err)
	}
	return nil
}

func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.meta.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %q: %w", key, err)
	}
	return true, nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	for obj := range s.meta.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list %q: %w", prefix, obj.Err)
		}
		out = append(out, ObjectInfo{Key: obj.Key, Size: obj.Size, LastModified: obj.LastModified})
	}
	return out, nil
}

func (s *S3Store) ListPrefixes(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	for obj := range s.meta.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: false,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list prefixes under %q: %w", prefix, obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") {
			out = append(out, obj.Key)
		}
	}
	return out, nil
}

func (s *S3Store) ListAndGet(ctx context.Context, prefix string, includeKeep bool) ([]Object, error) {
	infos, err := s.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]Object, 0, len(infos))
	for _, info := range infos {
		if !includeKeep && IsKeep(info.Key) {
			continue
		}
		content, err := s.Get(ctx, info.Key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, Object{Key: info.Key, Size: int64(len(content)), Content: content})
	}
	return out, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	if err := s.data.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

// DeleteMany removes keys one at a time. The store has no batch delete, so
// failures are logged and skipped; the returned count is the number removed.
func (s *S3Store) DeleteMany(ctx context.Context, keys []string) (int, error) {
	log := logger.FromContext(ctx)
	deleted := 0
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			log.Warn("Delete failed, skipping", "key", key, "error", err)
			continue
		}
		deleted++
	}
	return deleted, nil
}

func (s *S3Store) Copy(ctx context.Context, src, dst string) error {
	_, err := s.data.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: dst},
		minio.CopySrcOptions{Bucket: s.bucket, Object: src},
	)
	if err != nil {
		return fmt.Errorf("failed to copy %q to %q: %w", src, dst, err)
	}
	return nil
}

func (s *S3Store) Ping(ctx context.Context) (PingResult, error) {
	start := time.Now()
	ok, err := s.meta.BucketExists(ctx, s.bucket)
	if err != nil {
		return PingResult{}, fmt.Errorf("bucket check failed: %w", err)
	}
	if !ok {
		return PingResult{}, fmt.Errorf("bucket %q does not exist", s.bucket)
	}
	latency := math.Round(float64(time.Since(start).Microseconds())/1000.0*10) / 10
	return PingResult{Bucket: s.bucket, LatencyMs: latency}, nil
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == 404
}
