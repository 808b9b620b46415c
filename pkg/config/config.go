package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Credits      CreditsConfig
	Cron         CronConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Generation   GenerationConfig
	Payments     PaymentsConfig
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
	Env          string `envconfig:"FORTUNE_APP_ENV" required:"true"`
	Port         string `envconfig:"FORTUNE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"FORTUNE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"FORTUNE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"FORTUNE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"FORTUNE_DB_DSN"`
	Driver string `envconfig:"FORTUNE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"FORTUNE_DB_HOST"`
	LegacyPort     int    `envconfig:"FORTUNE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"FORTUNE_DB_USER"`
	LegacyPassword string `envconfig:"FORTUNE_DB_PASSWORD"`
	LegacyName     string `envconfig:"FORTUNE_DB_NAME"`
	LegacySSLMode  string `envconfig:"FORTUNE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"FORTUNE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"FORTUNE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"FORTUNE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"FORTUNE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"FORTUNE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"FORTUNE_REDIS_ADDR"`
	Password     string        `envconfig:"FORTUNE_REDIS_PASSWORD"`
	DB           int           `envconfig:"FORTUNE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"FORTUNE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"FORTUNE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"FORTUNE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"FORTUNE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"FORTUNE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"FORTUNE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"FORTUNE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"FORTUNE_JWT_EXPIRATION_MINUTES" default:"60"`
}

// CreditsConfig prices the billable operations in whole credits.
type CreditsConfig struct {
	AnalysisCost    int `envconfig:"FORTUNE_CREDITS_ANALYSIS_COST" default:"10"`
	FollowUpCost    int `envconfig:"FORTUNE_CREDITS_FOLLOWUP_COST" default:"3"`
	StartingBalance int `envconfig:"FORTUNE_CREDITS_STARTING_BALANCE" default:"0"`
}

type CronConfig struct {
	Interval    time.Duration `envconfig:"FORTUNE_CRON_INTERVAL" default:"24h"`
	SweepSecret string        `envconfig:"FORTUNE_CRON_SWEEP_SECRET"`
	SweepLimit  int           `envconfig:"FORTUNE_CRON_SWEEP_LIMIT" default:"500"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"FORTUNE_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"FORTUNE_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"FORTUNE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"FORTUNE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	AnalysisTopic        string `envconfig:"FORTUNE_PUBSUB_ANALYSIS_TOPIC" required:"true"`
	AnalysisSubscription string `envconfig:"FORTUNE_PUBSUB_ANALYSIS_SUBSCRIPTION" required:"true"`
	FollowUpTopic        string `envconfig:"FORTUNE_PUBSUB_FOLLOWUP_TOPIC" required:"true"`
	FollowUpSubscription string `envconfig:"FORTUNE_PUBSUB_FOLLOWUP_SUBSCRIPTION" required:"true"`
}

type GenerationConfig struct {
	APIKey  string        `envconfig:"FORTUNE_GENERATION_API_KEY"`
	BaseURL string        `envconfig:"FORTUNE_GENERATION_BASE_URL" default:"https://api.openai.com/v1"`
	Model   string        `envconfig:"FORTUNE_GENERATION_MODEL" default:"gpt-4o-mini"`
	Timeout time.Duration `envconfig:"FORTUNE_GENERATION_TIMEOUT" default:"120s"`
}

type PaymentsConfig struct {
	WebhookSecret  string        `envconfig:"FORTUNE_PAYMENTS_WEBHOOK_SECRET"`
	EventDedupeTTL time.Duration `envconfig:"FORTUNE_PAYMENTS_EVENT_DEDUPE_TTL" default:"720h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
