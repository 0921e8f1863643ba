package logger

import (
	"go.uber.org/zap"
)

func WithProjectID(projectID string) zap.Field {
	return zap.String("project.id", projectID)
}

func WithSandboxID(sandboxID string) zap.Field {
	return zap.String("sandbox.id", sandboxID)
}

func WithSnapshotID(snapshotID string) zap.Field {
	return zap.String("snapshot.id", snapshotID)
}

func WithProviderName(provider string) zap.Field {
	return zap.String("provider.name", provider)
}

func WithServiceInstanceID(instanceID string) zap.Field {
	return zap.String("service.instance.id", instanceID)
}
