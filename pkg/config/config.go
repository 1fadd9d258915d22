package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"google.golang.org/api/option"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Gateway      GatewayConfig
	Billing      BillingConfig
	Cron         CronConfig
	CORS         CORSConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Gateway.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Cron.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PAYRECON_APP_ENV" required:"true"`
	Port         string `envconfig:"PAYRECON_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"PAYRECON_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PAYRECON_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"PAYRECON_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"PAYRECON_DB_DSN"`
	Driver string `envconfig:"PAYRECON_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PAYRECON_DB_HOST"`
	LegacyPort     int    `envconfig:"PAYRECON_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PAYRECON_DB_USER"`
	LegacyPassword string `envconfig:"PAYRECON_DB_PASSWORD"`
	LegacyName     string `envconfig:"PAYRECON_DB_NAME"`
	LegacySSLMode  string `envconfig:"PAYRECON_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PAYRECON_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PAYRECON_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PAYRECON_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PAYRECON_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"PAYRECON_DB_SLOW_QUERY_THRESHOLD" default:"250ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PAYRECON_REDIS_URL"`
	Address      string        `envconfig:"PAYRECON_REDIS_ADDR"`
	Password     string        `envconfig:"PAYRECON_REDIS_PASSWORD"`
	DB           int           `envconfig:"PAYRECON_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PAYRECON_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PAYRECON_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PAYRECON_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PAYRECON_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PAYRECON_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies access tokens minted by the identity service.
type JWTConfig struct {
	Secret   string        `envconfig:"PAYRECON_JWT_SECRET" required:"true"`
	Issuer   string        `envconfig:"PAYRECON_JWT_ISSUER" required:"true"`
	Audience string        `envconfig:"PAYRECON_JWT_AUDIENCE"`
	Leeway   time.Duration `envconfig:"PAYRECON_JWT_LEEWAY" default:"30s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"PAYRECON_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"PAYRECON_AUTO_MIGRATE" default:"false"`
}

// GatewayConfig holds the payment processor credentials and polling knobs.
type GatewayConfig struct {
	PublicKey          string        `envconfig:"PAYRECON_GATEWAY_PUBLIC_KEY" required:"true"`
	PrivateKey         string        `envconfig:"PAYRECON_GATEWAY_PRIVATE_KEY" required:"true"`
	IntegritySecret    string        `envconfig:"PAYRECON_GATEWAY_INTEGRITY_SECRET" required:"true"`
	EventsSecret       string        `envconfig:"PAYRECON_GATEWAY_EVENTS_SECRET" required:"true"`
	Env                string        `envconfig:"PAYRECON_GATEWAY_ENV" default:"sandbox"`
	BaseURL            string        `envconfig:"PAYRECON_GATEWAY_BASE_URL"`
	Currency           string        `envconfig:"PAYRECON_GATEWAY_CURRENCY" default:"COP"`
	RedirectURL        string        `envconfig:"PAYRECON_GATEWAY_REDIRECT_URL"`
	HTTPTimeout        time.Duration `envconfig:"PAYRECON_GATEWAY_HTTP_TIMEOUT" default:"15s"`
	SourcePollInterval time.Duration `envconfig:"PAYRECON_GATEWAY_SOURCE_POLL_INTERVAL" default:"1s"`
	SourcePollAttempts int           `envconfig:"PAYRECON_GATEWAY_SOURCE_POLL_ATTEMPTS" default:"10"`
}

// Environment returns the normalized processor environment (sandbox/production).
func (g GatewayConfig) Environment() string {
	switch strings.TrimSpace(strings.ToLower(g.Env)) {
	case "prod", "production", "live":
		return GatewayEnvProduction
	default:
		return GatewayEnvSandbox
	}
}

// ResolvedBaseURL prefers an explicit override over the environment default.
func (g GatewayConfig) ResolvedBaseURL() string {
	if base := strings.TrimRight(strings.TrimSpace(g.BaseURL), "/"); base != "" {
		return base
	}
	if g.Environment() == GatewayEnvProduction {
		return GatewayProductionURL
	}
	return GatewaySandboxURL
}

func (g GatewayConfig) validate() error {
	if g.SourcePollAttempts <= 0 {
		return fmt.Errorf("%s must be positive", EnvGatewaySourcePollAttempts)
	}
	if g.SourcePollInterval <= 0 {
		return fmt.Errorf("%s must be positive", EnvGatewaySourcePollInterval)
	}
	if len(strings.TrimSpace(g.Currency)) != 3 {
		return fmt.Errorf("%s must be an ISO 4217 code", EnvGatewayCurrency)
	}
	return nil
}

type BillingConfig struct {
	MinimumAmountCents     int64         `envconfig:"PAYRECON_BILLING_MINIMUM_AMOUNT_CENTS" default:"100"`
	MaxFailedChargeAttempt int           `envconfig:"PAYRECON_BILLING_MAX_FAILED_CHARGE_ATTEMPTS" default:"3"`
	WebhookIdempotencyTTL  time.Duration `envconfig:"PAYRECON_BILLING_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
	PendingStaleAfter      time.Duration `envconfig:"PAYRECON_BILLING_PENDING_STALE_AFTER" default:"30m"`
	PendingBatchSize       int           `envconfig:"PAYRECON_BILLING_PENDING_BATCH_SIZE" default:"100"`
	SweepPageSize          int           `envconfig:"PAYRECON_BILLING_SWEEP_PAGE_SIZE" default:"200"`
}

type CronConfig struct {
	Interval   time.Duration `envconfig:"PAYRECON_CRON_INTERVAL" default:"24h"`
	RunHour    int           `envconfig:"PAYRECON_CRON_RUN_HOUR" default:"6"`
	LockTTL    time.Duration `envconfig:"PAYRECON_CRON_LOCK_TTL" default:"25h"`
	JobTimeout time.Duration `envconfig:"PAYRECON_CRON_JOB_TIMEOUT" default:"1h"`
}

// validate keeps RunHour on the clock. -1 disables the alignment and runs
// the first cycle at start.
func (c CronConfig) validate() error {
	if c.RunHour < -1 || c.RunHour > 23 {
		return fmt.Errorf("%s must be between -1 and 23", EnvCronRunHour)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%s must be positive", EnvCronInterval)
	}
	return nil
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"PAYRECON_CORS_ALLOWED_ORIGINS" default:"*"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"PAYRECON_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"PAYRECON_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"PAYRECON_GOOGLE_APPLICATION_CREDENTIALS"`
}

// ClientOptions picks inline JSON credentials over a credentials file. With
// neither set the SDKs fall back to application default credentials.
func (g GCPConfig) ClientOptions() []option.ClientOption {
	switch {
	case strings.TrimSpace(g.CredentialsJSON) != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(g.CredentialsJSON))}
	case strings.TrimSpace(g.ApplicationCredentials) != "":
		return []option.ClientOption{option.WithCredentialsFile(strings.TrimSpace(g.ApplicationCredentials))}
	}
	return nil
}

type PubSubConfig struct {
	DomainTopic           string `envconfig:"PAYRECON_PUBSUB_DOMAIN_TOPIC" default:"payrecon-billing-events"`
	AnalyticsSubscription string `envconfig:"PAYRECON_PUBSUB_ANALYTICS_SUBSCRIPTION" default:"payrecon-billing-analytics"`
}

type BigQueryConfig struct {
	Dataset            string `envconfig:"PAYRECON_BIGQUERY_DATASET" default:"payrecon"`
	BillingEventsTable string `envconfig:"PAYRECON_BIGQUERY_BILLING_EVENTS_TABLE" default:"billing_events"`
	AutoCreateTables   bool   `envconfig:"PAYRECON_BIGQUERY_AUTO_CREATE_TABLES" default:"false"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"PAYRECON_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"PAYRECON_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"PAYRECON_OUTBOX_MAX_ATTEMPTS" default:"10"`
	IdempotencyTTL time.Duration `envconfig:"PAYRECON_OUTBOX_IDEMPOTENCY_TTL" default:"720h"`
	Retention      time.Duration `envconfig:"PAYRECON_OUTBOX_RETENTION" default:"720h"`
	MetricsAddr    string        `envconfig:"PAYRECON_OUTBOX_METRICS_ADDR" default:":9091"`
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
