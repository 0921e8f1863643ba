package cfg

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port int `env:"PORT" envDefault:"8080"`

	// SandboxProvider selects the backend: daytona, modal or mock.
	SandboxProvider string `env:"SANDBOX_PROVIDER" envDefault:"daytona"`

	DaytonaAPIURL        string `env:"DAYTONA_API_URL" envDefault:"https://app.daytona.io/api"`
	DaytonaAPIKey        string `env:"DAYTONA_API_KEY"`
	DaytonaTarget        string `env:"DAYTONA_TARGET" envDefault:"us"`
	DaytonaPreviewDomain string `env:"DAYTONA_PREVIEW_DOMAIN"`

	ModalAPIURL        string `env:"MODAL_API_URL"`
	ModalTokenID       string `env:"MODAL_TOKEN_ID"`
	ModalTokenSecret   string `env:"MODAL_TOKEN_SECRET"`
	ModalEnvironment   string `env:"MODAL_ENVIRONMENT" envDefault:"main"`
	ModalBuildCheckURL string `env:"MODAL_BUILD_CHECK_URL"`

	// PostgresConnectionString is optional: when empty the orchestrator
	// falls back to in-memory stores.
	PostgresConnectionString string `env:"POSTGRES_CONNECTION_STRING"`

	RedisURL        string `env:"REDIS_URL"`
	RedisClusterURL string `env:"REDIS_CLUSTER_URL"`

	CommandTimeout      time.Duration `env:"COMMAND_TIMEOUT" envDefault:"30s"`
	CreateTimeout       time.Duration `env:"CREATE_TIMEOUT" envDefault:"2m"`
	ImportCreateTimeout time.Duration `env:"IMPORT_CREATE_TIMEOUT" envDefault:"5m"`

	SandboxTTL         time.Duration `env:"SANDBOX_TTL" envDefault:"30m"`
	AutoDeleteInterval time.Duration `env:"AUTO_DELETE_INTERVAL" envDefault:"5m"`

	SnapshotKeepCount int `env:"SNAPSHOT_KEEP_COUNT" envDefault:"10"`

	// MarkerFiles are the files a health probe expects to see in a
	// sandbox's working tree.
	MarkerFiles []string `env:"MARKER_FILES" envDefault:"package.json,index.html,src/main.tsx"`

	WorkDir string `env:"SANDBOX_WORK_DIR" envDefault:"/workspace"`

	PreviewProbeTimeout time.Duration `env:"PREVIEW_PROBE_TIMEOUT" envDefault:"10s"`
	BuildCheckTimeout   time.Duration `env:"BUILD_CHECK_TIMEOUT" envDefault:"60s"`

	// StorageProvider selects the artifact backend: aws or local.
	StorageProvider string `env:"STORAGE_PROVIDER" envDefault:"local"`
	StorageLocalDir string `env:"STORAGE_LOCAL_DIR" envDefault:"/var/lib/sandbox-orchestrator/artifacts"`

	DeployBucket       string `env:"DEPLOY_BUCKET"`
	DeployBaseURL      string `env:"DEPLOY_BASE_URL" envDefault:"https://apps.appmint.dev"`
	DeployPublishURL   string `env:"DEPLOY_PUBLISH_URL"`
	DeployPublishToken string `env:"DEPLOY_PUBLISH_TOKEN"`
}

func Parse() (Config, error) {
	var config Config
	err := env.Parse(&config)
	return config, err
}
