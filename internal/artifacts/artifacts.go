// Package artifacts stores deployment bundles and project asset archives
// outside the sandbox, so they survive sandbox recreation.
package artifacts

import (
	"context"
	"errors"
	"fmt"

	"github.com/appmint-dev/sandbox-orchestrator/internal/cfg"
)

var ErrObjectNotExist = errors.New("object does not exist")

// Store is a flat blob store keyed by object path.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	String() string
}

// New selects the storage backend from config. Local filesystem storage
// is the default so the orchestrator runs without cloud credentials.
func New(ctx context.Context, config cfg.Config) (Store, error) {
	switch config.StorageProvider {
	case "aws":
		if config.DeployBucket == "" {
			return nil, errors.New("DEPLOY_BUCKET is required when STORAGE_PROVIDER is aws")
		}

		return NewS3(ctx, config.DeployBucket)
	case "local", "":
		return NewFS(config.StorageLocalDir), nil
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", config.StorageProvider)
	}
}

// DeploymentBundleKey is the object key for a project's deployed app bundle.
func DeploymentBundleKey(projectID string, appName string) string {
	return fmt.Sprintf("deployments/%s/%s.tar.gz", projectID, appName)
}

// AssetBundleKey is the object key for a project's static asset archive.
func AssetBundleKey(projectID string) string {
	return fmt.Sprintf("assets/%s.tar.gz", projectID)
}
