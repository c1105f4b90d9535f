package config

// EnvPrefix namespaces every variable read by Load.
const EnvPrefix = "THREADLINE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	PaymentProviderPaystack = "paystack"
	PaymentProviderSquare   = "square"
)

const (
	EnvAppEnv          = "THREADLINE_APP_ENV"
	EnvPort            = "THREADLINE_APP_PORT"
	EnvLogLevel        = "THREADLINE_LOG_LEVEL"
	EnvDBDSN           = "THREADLINE_DB_DSN"
	EnvDBHost          = "THREADLINE_DB_HOST"
	EnvDBUser          = "THREADLINE_DB_USER"
	EnvDBName          = "THREADLINE_DB_NAME"
	EnvUseSQLite       = "THREADLINE_USE_SQLITE"
	EnvRedisURL        = "THREADLINE_REDIS_URL"
	EnvJWTSecret       = "THREADLINE_JWT_SECRET"
	EnvJWTIssuer       = "THREADLINE_JWT_ISSUER"
	EnvPaymentProvider = "THREADLINE_PAYMENT_PROVIDER"
	EnvCartSessionTTL  = "THREADLINE_CART_SESSION_TTL"
	EnvGCPProjectID    = "THREADLINE_GCP_PROJECT_ID"
	EnvGCSBucket       = "THREADLINE_GCS_BUCKET_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
