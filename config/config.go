package config

import (
	"time"

	"github.com/glidemail/mailcore/internal/logger"
	"github.com/glidemail/mailcore/internal/tracing"
)

type AppConfig struct {
	APIPort      string `env:"PORT" envDefault:"12333"`
	APIKey       string `env:"API_KEY,required"`
	RabbitMQURL  string `env:"RABBITMQ_URL"`
	CronSchedule string `env:"CRON_SCHEDULE_SYNC_ALL" envDefault:"*/5 * * * *"`
	Logger       *logger.Config
	Tracing      *tracing.JaegerConfig
}

type DatabaseConfig struct {
	Host            string `env:"MAILCORE_POSTGRES_HOST,required"`
	Port            string `env:"MAILCORE_POSTGRES_PORT,required"`
	User            string `env:"MAILCORE_POSTGRES_USER,required"`
	DBName          string `env:"MAILCORE_POSTGRES_DB_NAME,required"`
	Password        string `env:"MAILCORE_POSTGRES_PASSWORD,required"`
	MaxConn         int    `env:"MAILCORE_POSTGRES_DB_MAX_CONN" envDefault:"50"`
	MaxIdleConn     int    `env:"MAILCORE_POSTGRES_DB_MAX_IDLE_CONN" envDefault:"10"`
	ConnMaxLifetime int    `env:"MAILCORE_POSTGRES_DB_CONN_MAX_LIFETIME" envDefault:"60"`
	LogLevel        string `env:"MAILCORE_POSTGRES_LOG_LEVEL" envDefault:"WARN"`
	SSLMode         string `env:"MAILCORE_POSTGRES_SSL_MODE" envDefault:"require"`
}

// SyncConfig carries the timing constants of the sync engine. The defaults
// were tuned against the replication latency of the legacy server fleet;
// deployments against faster servers may shorten them.
type SyncConfig struct {
	// StalenessWindow is how recent a local edit must be for an incoming
	// server update to be skipped instead of applied.
	StalenessWindow time.Duration `env:"SYNC_STALENESS_WINDOW" envDefault:"10s"`
	// DedupSuppressionWindow is how recent a tombstone or soft-delete must
	// be for an incoming duplicate of it to be dropped instead of adopted.
	DedupSuppressionWindow time.Duration `env:"SYNC_DEDUP_SUPPRESSION_WINDOW" envDefault:"30s"`
	// PostMutationDelay is how long to wait after a server mutation before
	// reconciling, giving the server time to commit.
	PostMutationDelay time.Duration `env:"SYNC_POST_MUTATION_DELAY" envDefault:"2s"`
	// RetryDelay is the pause before the single transient-error retry.
	RetryDelay time.Duration `env:"SYNC_RETRY_DELAY" envDefault:"1s"`
	// BatchItemDelay is the pause between items in a batch operation.
	BatchItemDelay time.Duration `env:"SYNC_BATCH_ITEM_DELAY" envDefault:"100ms"`
}

type Config struct {
	AppConfig      *AppConfig
	Logger         *logger.Config
	Tracing        *tracing.JaegerConfig
	DatabaseConfig *DatabaseConfig
	SyncConfig     *SyncConfig
}
