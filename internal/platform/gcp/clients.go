package gcp

import (
	"context"
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	compute "google.golang.org/api/compute/v1"
	"google.golang.org/api/option"
)

// NewStorageClient builds the single long-lived storage client the process
// reuses across every reconciliation tick, wiring it for either a real GCS
// bucket or the local emulator depending on storageCfg.
func NewStorageClient(ctx context.Context, storageCfg ObjectStorageConfig) (*storage.Client, error) {
	switch storageCfg.Mode {
	case ObjectStorageModeGCS:
		opts := ClientOptionsFromEnv()
		opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
		return storage.NewClient(ctx, opts...)
	case ObjectStorageModeGCSEmulator:
		endpoint := strings.TrimRight(strings.TrimSpace(storageCfg.EmulatorHost), "/")
		_ = os.Setenv("STORAGE_EMULATOR_HOST", endpoint)
		return storage.NewClient(ctx, option.WithoutAuthentication())
	default:
		return nil, &ObjectStorageConfigError{Code: ObjectStorageConfigErrorInvalidMode, Mode: string(storageCfg.Mode)}
	}
}

// NewComputeClient builds the single long-lived Compute Engine client used
// by the instance adapter.
func NewComputeClient(ctx context.Context) (*compute.Service, error) {
	opts := append([]option.ClientOption{}, ClientOptionsFromEnv()...)
	svc, err := compute.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create compute client: %w", err)
	}
	return svc, nil
}
