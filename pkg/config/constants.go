package config

// EnvPrefix scopes every environment variable consumed by the platform.
const EnvPrefix = "FORTUNE"

const (
	AppEnvDev  = "development"
	AppEnvProd = "production"
)

const (
	EnvAppEnv   = "FORTUNE_APP_ENV"
	EnvPort     = "FORTUNE_APP_PORT"
	EnvLogLevel = "FORTUNE_LOG_LEVEL"

	EnvDBDSN  = "FORTUNE_DB_DSN"
	EnvDBHost = "FORTUNE_DB_HOST"
	EnvDBUser = "FORTUNE_DB_USER"
	EnvDBName = "FORTUNE_DB_NAME"

	EnvRedisURL = "FORTUNE_REDIS_URL"

	EnvJWTSecret  = "FORTUNE_JWT_SECRET"
	EnvJWTIssuer  = "FORTUNE_JWT_ISSUER"
	EnvJWTExpMins = "FORTUNE_JWT_EXPIRATION_MINUTES"

	EnvGCPProjectID = "FORTUNE_GCP_PROJECT_ID"

	EnvPubSubAnalysisTopic        = "FORTUNE_PUBSUB_ANALYSIS_TOPIC"
	EnvPubSubAnalysisSubscription = "FORTUNE_PUBSUB_ANALYSIS_SUBSCRIPTION"
	EnvPubSubFollowUpTopic        = "FORTUNE_PUBSUB_FOLLOWUP_TOPIC"
	EnvPubSubFollowUpSubscription = "FORTUNE_PUBSUB_FOLLOWUP_SUBSCRIPTION"

	EnvCronSweepSecret = "FORTUNE_CRON_SWEEP_SECRET"

	EnvPaymentsWebhookSecret = "FORTUNE_PAYMENTS_WEBHOOK_SECRET"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
