package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/ixqt-ai/cloud-reconciler/internal/platform/logger"
)

// GCSStore is the production Store backed by a single GCS bucket, grounded
// one *storage.Client per process, created once and reused sequentially.
type GCSStore struct {
	log    *logger.Logger
	client *storage.Client
	bucket string
}

func NewGCSStore(log *logger.Logger, client *storage.Client, bucket string) *GCSStore {
	return &GCSStore{log: log, client: client, bucket: bucket}
}

func (g *GCSStore) obj(key string) *storage.ObjectHandle {
	return g.client.Bucket(g.bucket).Object(key)
}

func (g *GCSStore) ReadText(ctx context.Context, key string) ([]byte, int64, error) {
	r, err := g.obj(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("read %s: %w", key, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", key, err)
	}
	return data, r.Attrs.Generation, nil
}

func (g *GCSStore) Write(ctx context.Context, key string, data []byte, ifGenerationMatch int64) (int64, error) {
	handle := g.obj(key)
	if ifGenerationMatch != NoPrecondition {
		handle = handle.If(storage.Conditions{GenerationMatch: ifGenerationMatch})
	}
	w := handle.NewWriter(ctx)
	if strings.HasSuffix(key, ".json") {
		w.ContentType = "application/json"
	} else {
		w.ContentType = "text/plain"
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return 0, g.classifyWriteErr(key, err)
	}
	if err := w.Close(); err != nil {
		return 0, g.classifyWriteErr(key, err)
	}
	return w.Attrs().Generation, nil
}

func (g *GCSStore) classifyWriteErr(key string, err error) error {
	var apiErr interface{ Code() int }
	if errors.As(err, &apiErr) && apiErr.Code() == 412 {
		return ErrPreconditionFailed
	}
	if strings.Contains(err.Error(), "412") || strings.Contains(err.Error(), "conditionNotMet") {
		return ErrPreconditionFailed
	}
	return fmt.Errorf("write %s: %w", key, err)
}

func (g *GCSStore) Delete(ctx context.Context, key string, ifGenerationMatch int64) error {
	obj := g.obj(key)
	if ifGenerationMatch > 0 {
		obj = obj.If(storage.Conditions{GenerationMatch: ifGenerationMatch})
	}
	err := obj.Delete(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return ErrNotFound
	}
	if strings.Contains(err.Error(), "412") || strings.Contains(err.Error(), "conditionNotMet") {
		return ErrPreconditionFailed
	}
	return fmt.Errorf("delete %s: %w", key, err)
}

func (g *GCSStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := g.obj(key).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", key, err)
}

func (g *GCSStore) ListRunIDs(ctx context.Context, prefix string) ([]string, error) {
	if prefix == "" {
		prefix = "runs/"
	}
	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{Prefix: prefix, Delimiter: "/"})
	var ids []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		if attrs.Prefix == "" {
			continue
		}
		runID := strings.TrimSuffix(strings.TrimPrefix(attrs.Prefix, prefix), "/")
		if runID != "" {
			ids = append(ids, runID)
		}
	}
	return ids, nil
}
