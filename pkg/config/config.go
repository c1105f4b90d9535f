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
	FeatureFlags FeatureFlagsConfig
	Cart         CartConfig
	Checkout     CheckoutConfig
	Payment      PaymentConfig
	Paystack     PaystackConfig
	Square       SquareConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	GCS          GCSConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Payment.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env            string   `envconfig:"THREADLINE_APP_ENV" required:"true"`
	Port           string   `envconfig:"THREADLINE_APP_PORT" required:"true"`
	LogLevel       string   `envconfig:"THREADLINE_LOG_LEVEL" default:"info"`
	LogWarnStack   bool     `envconfig:"THREADLINE_LOG_WARN_STACK" default:"false"`
	AllowedOrigins []string `envconfig:"THREADLINE_ALLOWED_ORIGINS" default:"http://localhost:5173"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"THREADLINE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"THREADLINE_DB_DSN"`
	Driver string `envconfig:"THREADLINE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"THREADLINE_DB_HOST"`
	LegacyPort     int    `envconfig:"THREADLINE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"THREADLINE_DB_USER"`
	LegacyPassword string `envconfig:"THREADLINE_DB_PASSWORD"`
	LegacyName     string `envconfig:"THREADLINE_DB_NAME"`
	LegacySSLMode  string `envconfig:"THREADLINE_DB_SSLMODE" default:"disable"`

	SQLitePath string `envconfig:"THREADLINE_SQLITE_PATH" default:"threadline.db"`

	MaxOpenConns    int           `envconfig:"THREADLINE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"THREADLINE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"THREADLINE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"THREADLINE_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"THREADLINE_DB_SLOW_QUERY_THRESHOLD" default:"250ms"`
	ConnectAttempts    int           `envconfig:"THREADLINE_DB_CONNECT_ATTEMPTS" default:"5"`
}

type RedisConfig struct {
	URL          string        `envconfig:"THREADLINE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"THREADLINE_REDIS_ADDR"`
	Password     string        `envconfig:"THREADLINE_REDIS_PASSWORD"`
	DB           int           `envconfig:"THREADLINE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"THREADLINE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"THREADLINE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"THREADLINE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"THREADLINE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"THREADLINE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig describes the tokens issued by the identity provider. The secret is
// shared with the provider so access tokens can be verified locally.
type JWTConfig struct {
	Secret            string `envconfig:"THREADLINE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"THREADLINE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"THREADLINE_JWT_EXPIRATION_MINUTES" default:"60"`
}

// AccessTokenTTL returns the configured access token lifetime.
func (j JWTConfig) AccessTokenTTL() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"THREADLINE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"THREADLINE_AUTO_MIGRATE" default:"false"`
}

type CartConfig struct {
	SessionTTL        time.Duration `envconfig:"THREADLINE_CART_SESSION_TTL" default:"72h"`
	LockTTL           time.Duration `envconfig:"THREADLINE_CART_LOCK_TTL" default:"5s"`
	MirrorWorkers     int           `envconfig:"THREADLINE_CART_MIRROR_WORKERS" default:"4"`
	MirrorQueueSize   int           `envconfig:"THREADLINE_CART_MIRROR_QUEUE_SIZE" default:"256"`
	MirrorMaxRetries  uint64        `envconfig:"THREADLINE_CART_MIRROR_MAX_RETRIES" default:"5"`
	MirrorBaseBackoff time.Duration `envconfig:"THREADLINE_CART_MIRROR_BASE_BACKOFF" default:"200ms"`
	MirrorDrainWait   time.Duration `envconfig:"THREADLINE_CART_MIRROR_DRAIN_WAIT" default:"10s"`
}

type CheckoutConfig struct {
	AttemptTTL time.Duration `envconfig:"THREADLINE_CHECKOUT_ATTEMPT_TTL" default:"24h"`
	Currency   string        `envconfig:"THREADLINE_CHECKOUT_CURRENCY" default:"NGN"`
	LockTTL    time.Duration `envconfig:"THREADLINE_CHECKOUT_LOCK_TTL" default:"30s"`
	LockWait   time.Duration `envconfig:"THREADLINE_CHECKOUT_LOCK_WAIT" default:"2s"`
}

type PaymentConfig struct {
	Provider string `envconfig:"THREADLINE_PAYMENT_PROVIDER" default:"paystack"`
}

func (p PaymentConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(p.Provider)) {
	case PaymentProviderPaystack, PaymentProviderSquare:
		return nil
	default:
		return fmt.Errorf("%s must be %q or %q", EnvPaymentProvider, PaymentProviderPaystack, PaymentProviderSquare)
	}
}

// Name returns the normalized provider name.
func (p PaymentConfig) Name() string {
	return strings.ToLower(strings.TrimSpace(p.Provider))
}

type PaystackConfig struct {
	PublicKey          string `envconfig:"THREADLINE_PAYSTACK_PUBLIC_KEY"`
	SecretKey          string `envconfig:"THREADLINE_PAYSTACK_SECRET_KEY"`
	BaseURL            string `envconfig:"THREADLINE_PAYSTACK_BASE_URL" default:"https://api.paystack.co"`
	VerifyTransactions bool   `envconfig:"THREADLINE_PAYSTACK_VERIFY" default:"false"`
}

type SquareConfig struct {
	AccessToken   string `envconfig:"THREADLINE_SQUARE_ACCESS_TOKEN"`
	ApplicationID string `envconfig:"THREADLINE_SQUARE_APPLICATION_ID"`
	LocationID    string `envconfig:"THREADLINE_SQUARE_LOCATION_ID"`
	Env           string `envconfig:"THREADLINE_SQUARE_ENV" default:"sandbox"`
	// WebhookSignatureKey and WebhookURL verify x-square-hmacsha256-signature.
	WebhookSignatureKey string `envconfig:"THREADLINE_SQUARE_WEBHOOK_SIGNATURE_KEY"`
	WebhookURL          string `envconfig:"THREADLINE_SQUARE_WEBHOOK_URL"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type EventingConfig struct {
	OutboxIdempotencyTTL  time.Duration `envconfig:"THREADLINE_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	WebhookIdempotencyTTL time.Duration `envconfig:"THREADLINE_WEBHOOK_IDEMPOTENCY_TTL" default:"168h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"THREADLINE_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"THREADLINE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"THREADLINE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type GCSConfig struct {
	BucketName    string `envconfig:"THREADLINE_GCS_BUCKET_NAME"`
	PublicBaseURL string `envconfig:"THREADLINE_GCS_PUBLIC_BASE_URL" default:"https://storage.googleapis.com"`
	MaxUploadMB   int    `envconfig:"THREADLINE_MAX_UPLOAD_MB" default:"10"`
}

type PubSubConfig struct {
	OrdersTopic           string `envconfig:"THREADLINE_PUBSUB_ORDERS_TOPIC" default:"threadline-order-events"`
	AnalyticsSubscription string `envconfig:"THREADLINE_PUBSUB_ANALYTICS_SUBSCRIPTION" default:"threadline-order-analytics"`
}

type BigQueryConfig struct {
	Dataset         string `envconfig:"THREADLINE_BIGQUERY_DATASET" default:"threadline"`
	OrderFactsTable string `envconfig:"THREADLINE_BIGQUERY_ORDER_FACTS_TABLE" default:"order_facts"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"THREADLINE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"THREADLINE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"THREADLINE_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	Interval            time.Duration `envconfig:"THREADLINE_CRON_INTERVAL" default:"1h"`
	LockTTL             time.Duration `envconfig:"THREADLINE_CRON_LOCK_TTL" default:"10m"`
	OutboxRetentionDays int           `envconfig:"THREADLINE_CRON_OUTBOX_RETENTION_DAYS" default:"30"`
	DLQRetentionDays    int           `envconfig:"THREADLINE_CRON_DLQ_RETENTION_DAYS" default:"90"`
	RetentionBatchSize  int           `envconfig:"THREADLINE_CRON_RETENTION_BATCH_SIZE" default:"500"`
	ReconcileLookback   time.Duration `envconfig:"THREADLINE_CRON_RECONCILE_LOOKBACK" default:"48h"`
	JobTimeout          time.Duration `envconfig:"THREADLINE_CRON_JOB_TIMEOUT" default:"5m"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if useSQLite {
		db.Driver = DriverSQLite
		if db.DSN == "" {
			db.DSN = db.SQLitePath
		}
		return nil
	}
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
