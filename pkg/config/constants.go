package config

const EnvPrefix = "PAYRECON"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	GatewayEnvSandbox    = "sandbox"
	GatewayEnvProduction = "production"

	GatewaySandboxURL    = "https://sandbox.wompi.co/v1"
	GatewayProductionURL = "https://production.wompi.co/v1"
)

const (
	EnvAppEnv   = "PAYRECON_APP_ENV"
	EnvPort     = "PAYRECON_APP_PORT"
	EnvDBDSN    = "PAYRECON_DB_DSN"
	EnvDBHost   = "PAYRECON_DB_HOST"
	EnvDBUser   = "PAYRECON_DB_USER"
	EnvDBName   = "PAYRECON_DB_NAME"
	EnvRedisURL = "PAYRECON_REDIS_URL"

	EnvJWTSecret = "PAYRECON_JWT_SECRET"
	EnvJWTIssuer = "PAYRECON_JWT_ISSUER"

	EnvGatewayPublicKey          = "PAYRECON_GATEWAY_PUBLIC_KEY"
	EnvGatewayPrivateKey         = "PAYRECON_GATEWAY_PRIVATE_KEY"
	EnvGatewayIntegritySecret    = "PAYRECON_GATEWAY_INTEGRITY_SECRET"
	EnvGatewayEventsSecret       = "PAYRECON_GATEWAY_EVENTS_SECRET"
	EnvGatewayEnv                = "PAYRECON_GATEWAY_ENV"
	EnvGatewayCurrency           = "PAYRECON_GATEWAY_CURRENCY"
	EnvGatewaySourcePollInterval = "PAYRECON_GATEWAY_SOURCE_POLL_INTERVAL"
	EnvGatewaySourcePollAttempts = "PAYRECON_GATEWAY_SOURCE_POLL_ATTEMPTS"

	EnvCronInterval = "PAYRECON_CRON_INTERVAL"
	EnvCronRunHour  = "PAYRECON_CRON_RUN_HOUR"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
