package config

const EnvPrefix = "CERTLEDGER"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "CERTLEDGER_APP_ENV"
	EnvPort     = "CERTLEDGER_APP_PORT"
	EnvLogLevel = "CERTLEDGER_LOG_LEVEL"

	EnvDBDSN  = "CERTLEDGER_DB_DSN"
	EnvDBHost = "CERTLEDGER_DB_HOST"
	EnvDBUser = "CERTLEDGER_DB_USER"
	EnvDBName = "CERTLEDGER_DB_NAME"

	EnvRedisURL = "CERTLEDGER_REDIS_URL"

	EnvCORSAllowedOrigins = "CERTLEDGER_CORS_ALLOWED_ORIGINS"
	EnvRateLimitVerify    = "CERTLEDGER_RATE_LIMIT_VERIFY_LIMIT"

	EnvIssuanceIDPrefix = "CERTLEDGER_ISSUANCE_ID_PREFIX"
	EnvBatchMaxItems    = "CERTLEDGER_BATCH_MAX_ITEMS"
	EnvBatchGroupSize   = "CERTLEDGER_BATCH_GROUP_SIZE"

	EnvLedgerEnabled       = "CERTLEDGER_LEDGER_ENABLED"
	EnvLedgerForceFallback = "CERTLEDGER_LEDGER_FORCE_FALLBACK"
	EnvLedgerContract      = "CERTLEDGER_LEDGER_CONTRACT_ADDRESS"

	EnvDocumentGateways = "CERTLEDGER_DOCUMENT_GATEWAYS"

	EnvScanTokenSecret = "CERTLEDGER_SCAN_TOKEN_SECRET"

	EnvCronInterval = "CERTLEDGER_CRON_INTERVAL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
