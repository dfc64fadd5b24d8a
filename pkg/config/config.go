package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App       AppConfig
	Service   ServiceConfig
	DB        DBConfig
	Redis     RedisConfig
	JWT       JWTConfig
	GCP       GCPConfig
	PubSub    PubSubConfig
	BigQuery  BigQueryConfig
	LinkedIn  LinkedInConfig
	Publisher PublisherConfig
	Cron      CronConfig
	Ledger    LedgerConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"POSTPILOT_APP_ENV" required:"true"`
	Port         string `envconfig:"POSTPILOT_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"POSTPILOT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"POSTPILOT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind        string `envconfig:"POSTPILOT_SERVICE_KIND" default:"api"`
	AutoMigrate bool   `envconfig:"POSTPILOT_AUTO_MIGRATE" default:"false"`
}

type DBConfig struct {
	DSN    string `envconfig:"POSTPILOT_DB_DSN"`
	Driver string `envconfig:"POSTPILOT_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"POSTPILOT_DB_HOST"`
	Port     int    `envconfig:"POSTPILOT_DB_PORT" default:"5432"`
	User     string `envconfig:"POSTPILOT_DB_USER"`
	Password string `envconfig:"POSTPILOT_DB_PASSWORD"`
	Name     string `envconfig:"POSTPILOT_DB_NAME"`
	SSLMode  string `envconfig:"POSTPILOT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"POSTPILOT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"POSTPILOT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"POSTPILOT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"POSTPILOT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"POSTPILOT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"POSTPILOT_REDIS_ADDR"`
	Password     string        `envconfig:"POSTPILOT_REDIS_PASSWORD"`
	DB           int           `envconfig:"POSTPILOT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"POSTPILOT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"POSTPILOT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"POSTPILOT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"POSTPILOT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"POSTPILOT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"POSTPILOT_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"POSTPILOT_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"POSTPILOT_JWT_EXPIRATION_MINUTES" default:"60"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"POSTPILOT_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"POSTPILOT_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"POSTPILOT_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	ContentEventsTopic string `envconfig:"POSTPILOT_PUBSUB_CONTENT_EVENTS_TOPIC" default:"pp-content-events"`
}

type BigQueryConfig struct {
	Dataset         string `envconfig:"POSTPILOT_BIGQUERY_DATASET" default:"postpilot"`
	EngagementTable string `envconfig:"POSTPILOT_BIGQUERY_ENGAGEMENT_TABLE" default:"engagement_snapshots"`
}

type LinkedInConfig struct {
	BaseURL        string        `envconfig:"POSTPILOT_LINKEDIN_BASE_URL" default:"https://api.linkedin.com/v2"`
	TokenURL       string        `envconfig:"POSTPILOT_LINKEDIN_TOKEN_URL" default:"https://www.linkedin.com/oauth/v2/accessToken"`
	ClientID       string        `envconfig:"POSTPILOT_LINKEDIN_CLIENT_ID"`
	ClientSecret   string        `envconfig:"POSTPILOT_LINKEDIN_CLIENT_SECRET"`
	PublishTimeout time.Duration `envconfig:"POSTPILOT_LINKEDIN_PUBLISH_TIMEOUT" default:"10s"`
	MetricsTimeout time.Duration `envconfig:"POSTPILOT_LINKEDIN_METRICS_TIMEOUT" default:"15s"`
	RefreshTimeout time.Duration `envconfig:"POSTPILOT_LINKEDIN_REFRESH_TIMEOUT" default:"10s"`
	RateLimitRPS   float64       `envconfig:"POSTPILOT_LINKEDIN_RATE_LIMIT_RPS" default:"5"`
	RateLimitBurst int           `envconfig:"POSTPILOT_LINKEDIN_RATE_LIMIT_BURST" default:"10"`
}

type PublisherConfig struct {
	TickInterval       time.Duration `envconfig:"POSTPILOT_PUBLISHER_TICK_INTERVAL" default:"60s"`
	BatchSize          int           `envconfig:"POSTPILOT_PUBLISHER_BATCH_SIZE" default:"100"`
	MaxAttempts        int           `envconfig:"POSTPILOT_PUBLISHER_MAX_ATTEMPTS" default:"5"`
	BackoffBase        time.Duration `envconfig:"POSTPILOT_PUBLISHER_BACKOFF_BASE" default:"2s"`
	BackoffCap         time.Duration `envconfig:"POSTPILOT_PUBLISHER_BACKOFF_CAP" default:"5m"`
	BackoffJitterPct   int           `envconfig:"POSTPILOT_PUBLISHER_BACKOFF_JITTER_PCT" default:"20"`
	TokenRefreshMargin time.Duration `envconfig:"POSTPILOT_PUBLISHER_TOKEN_REFRESH_MARGIN" default:"5m"`
	QueueCapacity      int           `envconfig:"POSTPILOT_PUBLISHER_QUEUE_CAPACITY" default:"128"`
	StaleClaimAfter    time.Duration `envconfig:"POSTPILOT_PUBLISHER_STALE_CLAIM_AFTER" default:"10m"`
}

type CronConfig struct {
	Interval     time.Duration `envconfig:"POSTPILOT_CRON_INTERVAL" default:"30m"`
	MetricsBatch int           `envconfig:"POSTPILOT_CRON_METRICS_BATCH" default:"200"`
}

type LedgerConfig struct {
	RetentionTTL time.Duration `envconfig:"POSTPILOT_LEDGER_RETENTION_TTL" default:"2160h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range requiredDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
