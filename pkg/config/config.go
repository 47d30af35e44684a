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
	HTTP         HTTPConfig
	RateLimit    RateLimitConfig
	Issuance     IssuanceConfig
	Ledger       LedgerConfig
	Documents    DocumentsConfig
	Mail         MailConfig
	ScanToken    ScanTokenConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Cron         CronConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Issuance.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CERTLEDGER_APP_ENV" required:"true"`
	Port         string `envconfig:"CERTLEDGER_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"CERTLEDGER_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CERTLEDGER_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"CERTLEDGER_LOG_FORMAT" default:"json"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CERTLEDGER_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CERTLEDGER_DB_DSN"`
	Driver string `envconfig:"CERTLEDGER_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CERTLEDGER_DB_HOST"`
	LegacyPort     int    `envconfig:"CERTLEDGER_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CERTLEDGER_DB_USER"`
	LegacyPassword string `envconfig:"CERTLEDGER_DB_PASSWORD"`
	LegacyName     string `envconfig:"CERTLEDGER_DB_NAME"`
	LegacySSLMode  string `envconfig:"CERTLEDGER_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CERTLEDGER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CERTLEDGER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CERTLEDGER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CERTLEDGER_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"CERTLEDGER_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CERTLEDGER_REDIS_URL"`
	Address      string        `envconfig:"CERTLEDGER_REDIS_ADDR"`
	Password     string        `envconfig:"CERTLEDGER_REDIS_PASSWORD"`
	DB           int           `envconfig:"CERTLEDGER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CERTLEDGER_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CERTLEDGER_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CERTLEDGER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CERTLEDGER_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CERTLEDGER_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type HTTPConfig struct {
	AllowedOrigins  []string      `envconfig:"CERTLEDGER_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
	ReadTimeout     time.Duration `envconfig:"CERTLEDGER_HTTP_READ_TIMEOUT" default:"30s"`
	WriteTimeout    time.Duration `envconfig:"CERTLEDGER_HTTP_WRITE_TIMEOUT" default:"5m"`
	ShutdownTimeout time.Duration `envconfig:"CERTLEDGER_HTTP_SHUTDOWN_TIMEOUT" default:"30s"`
}

// RateLimitConfig throttles the public verification surface per client IP.
// A zero limit disables the policy.
type RateLimitConfig struct {
	VerifyWindow time.Duration `envconfig:"CERTLEDGER_RATE_LIMIT_VERIFY_WINDOW" default:"1m"`
	VerifyLimit  int           `envconfig:"CERTLEDGER_RATE_LIMIT_VERIFY_LIMIT" default:"60"`
	IssueWindow  time.Duration `envconfig:"CERTLEDGER_RATE_LIMIT_ISSUE_WINDOW" default:"1m"`
	IssueLimit   int           `envconfig:"CERTLEDGER_RATE_LIMIT_ISSUE_LIMIT" default:"30"`
}

// IssuanceConfig drives identifier allocation, batch limits and temp artifacts.
type IssuanceConfig struct {
	IDPrefix            string        `envconfig:"CERTLEDGER_ISSUANCE_ID_PREFIX" default:"DEIT"`
	InstituteName       string        `envconfig:"CERTLEDGER_INSTITUTE_NAME" default:"Digital Excellence Institute of Technology"`
	VerificationBaseURL string        `envconfig:"CERTLEDGER_VERIFICATION_BASE_URL" default:"http://localhost:3000/verify"`
	TempDir             string        `envconfig:"CERTLEDGER_TEMP_DIR" default:"temp"`
	BatchMaxItems       int           `envconfig:"CERTLEDGER_BATCH_MAX_ITEMS" default:"50"`
	BatchGroupSize      int           `envconfig:"CERTLEDGER_BATCH_GROUP_SIZE" default:"5"`
	CleanupRetryDelay   time.Duration `envconfig:"CERTLEDGER_CLEANUP_RETRY_DELAY" default:"5s"`
	GeneratedBy         string        `envconfig:"CERTLEDGER_GENERATED_BY" default:"system"`
}

func (i IssuanceConfig) validate() error {
	if strings.TrimSpace(i.IDPrefix) == "" {
		return fmt.Errorf("%s must not be empty", EnvIssuanceIDPrefix)
	}
	if i.BatchMaxItems <= 0 {
		return fmt.Errorf("%s must be positive", EnvBatchMaxItems)
	}
	if i.BatchGroupSize <= 0 {
		return fmt.Errorf("%s must be positive", EnvBatchGroupSize)
	}
	return nil
}

// LedgerConfig selects between contract-backed and fallback issuance.
type LedgerConfig struct {
	Enabled         bool          `envconfig:"CERTLEDGER_LEDGER_ENABLED" default:"false"`
	ForceFallback   bool          `envconfig:"CERTLEDGER_LEDGER_FORCE_FALLBACK" default:"false"`
	RPCURL          string        `envconfig:"CERTLEDGER_LEDGER_RPC_URL" default:"http://127.0.0.1:8545"`
	ContractAddress string        `envconfig:"CERTLEDGER_LEDGER_CONTRACT_ADDRESS"`
	PrivateKey      string        `envconfig:"CERTLEDGER_LEDGER_PRIVATE_KEY"`
	ChainID         int64         `envconfig:"CERTLEDGER_LEDGER_CHAIN_ID" default:"1337"`
	GasLimit        uint64        `envconfig:"CERTLEDGER_LEDGER_GAS_LIMIT" default:"500000"`
	GasPriceWei     string        `envconfig:"CERTLEDGER_LEDGER_GAS_PRICE_WEI" default:"20000000000"`
	CallTimeout     time.Duration `envconfig:"CERTLEDGER_LEDGER_CALL_TIMEOUT" default:"30s"`
	StatusTTL       time.Duration `envconfig:"CERTLEDGER_LEDGER_STATUS_TTL" default:"15s"`
}

// UsesContract reports whether ledger mode may be attempted at all.
func (l LedgerConfig) UsesContract() bool {
	return l.Enabled && !l.ForceFallback && strings.TrimSpace(l.ContractAddress) != ""
}

type DocumentsConfig struct {
	PinataAPIKey    string        `envconfig:"CERTLEDGER_PINATA_API_KEY"`
	PinataSecretKey string        `envconfig:"CERTLEDGER_PINATA_SECRET_KEY"`
	PinataEndpoint  string        `envconfig:"CERTLEDGER_PINATA_ENDPOINT" default:"https://api.pinata.cloud"`
	Gateways        []string      `envconfig:"CERTLEDGER_DOCUMENT_GATEWAYS"`
	FetchTimeout    time.Duration `envconfig:"CERTLEDGER_DOCUMENT_FETCH_TIMEOUT" default:"15s"`
	UploadTimeout   time.Duration `envconfig:"CERTLEDGER_DOCUMENT_UPLOAD_TIMEOUT" default:"60s"`
	MinSize         int           `envconfig:"CERTLEDGER_DOCUMENT_MIN_SIZE" default:"1000"`
	StrictPDF       bool          `envconfig:"CERTLEDGER_DOCUMENT_STRICT_PDF" default:"false"`
}

// PinningConfigured reports whether both pinning credentials are present.
func (d DocumentsConfig) PinningConfigured() bool {
	return strings.TrimSpace(d.PinataAPIKey) != "" && strings.TrimSpace(d.PinataSecretKey) != ""
}

type MailConfig struct {
	Enabled  bool          `envconfig:"CERTLEDGER_MAIL_ENABLED" default:"false"`
	Host     string        `envconfig:"CERTLEDGER_MAIL_HOST" default:"smtp.gmail.com"`
	Port     int           `envconfig:"CERTLEDGER_MAIL_PORT" default:"587"`
	Username string        `envconfig:"CERTLEDGER_MAIL_USERNAME"`
	Password string        `envconfig:"CERTLEDGER_MAIL_PASSWORD"`
	From     string        `envconfig:"CERTLEDGER_MAIL_FROM" default:"certificates@localhost"`
	Timeout  time.Duration `envconfig:"CERTLEDGER_MAIL_TIMEOUT" default:"20s"`
}

type ScanTokenConfig struct {
	Secret string        `envconfig:"CERTLEDGER_SCAN_TOKEN_SECRET" required:"true"`
	Issuer string        `envconfig:"CERTLEDGER_SCAN_TOKEN_ISSUER" default:"certledger"`
	TTL    time.Duration `envconfig:"CERTLEDGER_SCAN_TOKEN_TTL" default:"0s"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"CERTLEDGER_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	CertificateTopic string        `envconfig:"CERTLEDGER_PUBSUB_CERTIFICATE_TOPIC" default:"certificate-events"`
	PublishTimeout   time.Duration `envconfig:"CERTLEDGER_PUBSUB_PUBLISH_TIMEOUT" default:"10s"`
	// CreateTopic lets local runs against the emulator provision the topic.
	CreateTopic bool `envconfig:"CERTLEDGER_PUBSUB_CREATE_TOPIC" default:"false"`
}

type CronConfig struct {
	Interval       time.Duration `envconfig:"CERTLEDGER_CRON_INTERVAL" default:"30m"`
	TempMaxAge     time.Duration `envconfig:"CERTLEDGER_CRON_TEMP_MAX_AGE" default:"1h"`
	ProvisionalTTL time.Duration `envconfig:"CERTLEDGER_CRON_PROVISIONAL_TTL" default:"30m"`
	// JobTimeout of zero falls back to Interval.
	JobTimeout time.Duration `envconfig:"CERTLEDGER_CRON_JOB_TIMEOUT" default:"0s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate   bool `envconfig:"CERTLEDGER_AUTO_MIGRATE" default:"false"`
	PublishEvents bool `envconfig:"CERTLEDGER_PUBLISH_EVENTS" default:"false"`
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
