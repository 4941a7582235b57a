package config

const EnvPrefix = "FIXORA"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "FIXORA_APP_ENV"
	EnvPort     = "FIXORA_APP_PORT"
	EnvLogLevel = "FIXORA_LOG_LEVEL"

	EnvDBDSN  = "FIXORA_DB_DSN"
	EnvDBHost = "FIXORA_DB_HOST"
	EnvDBUser = "FIXORA_DB_USER"
	EnvDBName = "FIXORA_DB_NAME"

	EnvRedisURL = "FIXORA_REDIS_URL"

	EnvJWTSecret = "FIXORA_JWT_SECRET"
	EnvJWTIssuer = "FIXORA_JWT_ISSUER"

	EnvGatewaySignatureSecret = "FIXORA_GATEWAY_SIGNATURE_SECRET"
	EnvGatewayCurrency        = "FIXORA_GATEWAY_CURRENCY"

	EnvEscrowCommissionRate  = "FIXORA_ESCROW_COMMISSION_RATE_BPS"
	EnvEscrowMinAmount       = "FIXORA_ESCROW_MIN_AMOUNT_CENTS"
	EnvEscrowOTPMaxAttempts  = "FIXORA_ESCROW_OTP_MAX_ATTEMPTS"
	EnvEscrowPayoutThreshold = "FIXORA_ESCROW_PAYOUT_THRESHOLD_CENTS"

	EnvGCPProjectID          = "FIXORA_GCP_PROJECT_ID"
	EnvPubSubSettlementTopic = "FIXORA_PUBSUB_SETTLEMENT_TOPIC"
	EnvPubSubCompletionSub   = "FIXORA_PUBSUB_COMPLETION_SUBSCRIPTION"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
