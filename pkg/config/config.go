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
	Gateway      GatewayConfig
	Stripe       StripeConfig
	Escrow       EscrowConfig
	Argon        ArgonConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	RateLimit    RateLimitConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Escrow.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"FIXORA_APP_ENV" required:"true"`
	Port         string `envconfig:"FIXORA_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"FIXORA_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"FIXORA_LOG_WARN_STACK" default:"false"`

	// CORSOrigins is comma separated. Empty keeps the built-in list.
	CORSOrigins []string `envconfig:"FIXORA_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"FIXORA_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"FIXORA_DB_DSN"`
	Driver string `envconfig:"FIXORA_DB_DRIVER" default:"postgres"` // postgres | sqlite

	LegacyHost     string `envconfig:"FIXORA_DB_HOST"`
	LegacyPort     int    `envconfig:"FIXORA_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"FIXORA_DB_USER"`
	LegacyPassword string `envconfig:"FIXORA_DB_PASSWORD"`
	LegacyName     string `envconfig:"FIXORA_DB_NAME"`
	LegacySSLMode  string `envconfig:"FIXORA_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"FIXORA_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"FIXORA_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"FIXORA_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"FIXORA_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"FIXORA_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"FIXORA_REDIS_URL" required:"true"`
	Address      string        `envconfig:"FIXORA_REDIS_ADDR"`
	Password     string        `envconfig:"FIXORA_REDIS_PASSWORD"`
	DB           int           `envconfig:"FIXORA_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"FIXORA_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"FIXORA_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"FIXORA_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"FIXORA_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"FIXORA_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig validates access tokens minted by the external auth service.
type JWTConfig struct {
	Secret string        `envconfig:"FIXORA_JWT_SECRET" required:"true"`
	Issuer string        `envconfig:"FIXORA_JWT_ISSUER" required:"true"`
	// Leeway absorbs clock skew between the auth service and this one.
	Leeway time.Duration `envconfig:"FIXORA_JWT_LEEWAY" default:"30s"`
}

// GatewayConfig covers the payment gateway contract shared by every adapter.
type GatewayConfig struct {
	Provider        string        `envconfig:"FIXORA_GATEWAY_PROVIDER" default:"stripe"`
	SignatureSecret string        `envconfig:"FIXORA_GATEWAY_SIGNATURE_SECRET" required:"true"`
	Currency        string        `envconfig:"FIXORA_GATEWAY_CURRENCY" default:"inr"`
	CallTimeout     time.Duration `envconfig:"FIXORA_GATEWAY_CALL_TIMEOUT" default:"30s"`
	MaxRetries      uint64        `envconfig:"FIXORA_GATEWAY_MAX_RETRIES" default:"3"`
	RetryBase       time.Duration `envconfig:"FIXORA_GATEWAY_RETRY_BASE" default:"200ms"`
}

type StripeConfig struct {
	APIKey        string `envconfig:"FIXORA_STRIPE_API_KEY"`
	WebhookSecret string `envconfig:"FIXORA_STRIPE_WEBHOOK_SECRET"`
	Env           string `envconfig:"FIXORA_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// EscrowConfig holds the money rules. Amounts are minor units.
type EscrowConfig struct {
	CommissionRateBps   int64         `envconfig:"FIXORA_ESCROW_COMMISSION_RATE_BPS" default:"1000"`
	CommissionCapCents  int64         `envconfig:"FIXORA_ESCROW_COMMISSION_CAP_CENTS" default:"20000"`
	MinAmountCents      int64         `envconfig:"FIXORA_ESCROW_MIN_AMOUNT_CENTS" default:"10000"`
	MaxAmountCents      int64         `envconfig:"FIXORA_ESCROW_MAX_AMOUNT_CENTS" default:"5000000"`
	FullRefundWindow    time.Duration `envconfig:"FIXORA_ESCROW_FULL_REFUND_WINDOW" default:"4h"`
	PartialRefundCutoff time.Duration `envconfig:"FIXORA_ESCROW_PARTIAL_REFUND_CUTOFF" default:"1h"`
	CancellationFeeBps  int64         `envconfig:"FIXORA_ESCROW_CANCELLATION_FEE_BPS" default:"2000"`
	OTPValidity         time.Duration `envconfig:"FIXORA_ESCROW_OTP_VALIDITY" default:"5m"`
	OTPMaxAttempts      int           `envconfig:"FIXORA_ESCROW_OTP_MAX_ATTEMPTS" default:"3"`
	PayoutThreshold     int64         `envconfig:"FIXORA_ESCROW_PAYOUT_THRESHOLD_CENTS" default:"50000"`
	OrderTTL            time.Duration `envconfig:"FIXORA_ESCROW_ORDER_TTL" default:"5m"`
}

func (e EscrowConfig) validate() error {
	if e.CommissionRateBps < 0 || e.CommissionRateBps > 10000 {
		return fmt.Errorf("%s must be between 0 and 10000", EnvEscrowCommissionRate)
	}
	if e.MinAmountCents <= 0 || e.MaxAmountCents < e.MinAmountCents {
		return fmt.Errorf("invalid escrow amount bounds [%d, %d]", e.MinAmountCents, e.MaxAmountCents)
	}
	if e.OTPMaxAttempts <= 0 {
		return fmt.Errorf("%s must be positive", EnvEscrowOTPMaxAttempts)
	}
	return nil
}

// ArgonConfig tunes completion code hashing.
type ArgonConfig struct {
	MemoryKB    int `envconfig:"FIXORA_ARGON_MEMORY_KB" default:"19456"`
	Time        int `envconfig:"FIXORA_ARGON_TIME" default:"2"`
	Parallelism int `envconfig:"FIXORA_ARGON_PARALLELISM" default:"1"`
	SaltLen     int `envconfig:"FIXORA_ARGON_SALT_LEN" default:"16"`
	KeyLen      int `envconfig:"FIXORA_ARGON_KEY_LEN" default:"32"`
}

// RateLimitConfig throttles completion code guessing and order creation.
type RateLimitConfig struct {
	VerifyWindow       time.Duration `envconfig:"FIXORA_RATE_LIMIT_VERIFY_WINDOW" default:"15m"`
	VerifyIPLimit      int           `envconfig:"FIXORA_RATE_LIMIT_VERIFY_IP_LIMIT" default:"30"`
	VerifyUserLimit    int           `envconfig:"FIXORA_RATE_LIMIT_VERIFY_USER_LIMIT" default:"10"`
	AuthorizeWindow    time.Duration `envconfig:"FIXORA_RATE_LIMIT_AUTHORIZE_WINDOW" default:"1m"`
	AuthorizeUserLimit int           `envconfig:"FIXORA_RATE_LIMIT_AUTHORIZE_USER_LIMIT" default:"10"`
}

type CronConfig struct {
	Interval           time.Duration `envconfig:"FIXORA_CRON_INTERVAL" default:"1m"`
	LockTTL            time.Duration `envconfig:"FIXORA_CRON_LOCK_TTL" default:"50s"`
	BatchSize          int           `envconfig:"FIXORA_CRON_BATCH_SIZE" default:"200"`
	PayoutReconcileAge time.Duration `envconfig:"FIXORA_CRON_PAYOUT_RECONCILE_AGE" default:"1m"`
	OutboxRetention    time.Duration `envconfig:"FIXORA_CRON_OUTBOX_RETENTION" default:"720h"`
	DLQRetention       time.Duration `envconfig:"FIXORA_CRON_DLQ_RETENTION" default:"2160h"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"FIXORA_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL         time.Duration `envconfig:"FIXORA_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	HTTPIdempotencyTTL           time.Duration `envconfig:"FIXORA_HTTP_IDEMPOTENCY_TTL" default:"24h"`
	// HTTPSettlementIdempotencyTTL covers routes that move money.
	HTTPSettlementIdempotencyTTL time.Duration `envconfig:"FIXORA_HTTP_SETTLEMENT_IDEMPOTENCY_TTL" default:"168h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"FIXORA_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"FIXORA_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"FIXORA_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	SettlementTopic        string `envconfig:"FIXORA_PUBSUB_SETTLEMENT_TOPIC" default:"settlement-events"`
	CompletionSubscription string `envconfig:"FIXORA_PUBSUB_COMPLETION_SUBSCRIPTION" required:"true"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"FIXORA_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"FIXORA_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"FIXORA_OUTBOX_MAX_ATTEMPTS" default:"10"`
	// PublishTimeout bounds one broker acknowledgement.
	PublishTimeout time.Duration `envconfig:"FIXORA_OUTBOX_PUBLISH_TIMEOUT" default:"15s"`
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
