package config

import "time"

// Configuration keys, read from the environment or a .env file
const (
	portEnvVar            = "PORT"
	appNameVar            = "APP_NAME"
	envVar                = "ENV"
	logLevelVar           = "LOG_LEVEL"
	allowedOriginsVar     = "CORS_ALLOWED_ORIGINS"
	authModeVar           = "AUTH_MODE"
	issuerURLVar          = "OIDC_ISSUER_URL"
	clientIDVar           = "OIDC_CLIENT_ID"
	clientSecretVar       = "OIDC_CLIENT_SECRET"
	scopesVar             = "OIDC_SCOPES"
	discoveryTTLVar       = "OIDC_DISCOVERY_TTL"
	discoveryRetryVar     = "OIDC_DISCOVERY_RETRY"
	refreshTimeoutVar     = "OIDC_REFRESH_TIMEOUT"
	sessionSecretVar      = "SESSION_SECRET"
	sessionTTLVar         = "SESSION_TTL"
	sessionStoreVar       = "SESSION_STORE"
	redisAddrVar          = "REDIS_ADDR"
	redisPasswordVar      = "REDIS_PASSWORD"
	redisDBVar            = "REDIS_DB"
	redisKeyPrefixVar     = "REDIS_KEY_PREFIX"
	databaseURLVar        = "DATABASE_URL"
	secureCookiesVar      = "SECURE_COOKIES"
	loginRateLimitVar     = "LOGIN_RATE_LIMIT"
	loginRateWindowVar    = "LOGIN_RATE_WINDOW"
	devEnv                = "DEV"
	productionEnv         = "production"
	minSessionSecretBytes = 32
)

// Session store kinds
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// settings is the validated snapshot every concern reads from
type settings struct {
	Port     string `validate:"required,numeric"`
	AppName  string `validate:"required"`
	Env      string `validate:"required"`
	LogLevel string `validate:"oneof=trace debug info warn error"`

	AllowedOrigins []string `validate:"dive,url"`

	AuthMode       string        `validate:"oneof=auto provider local"`
	IssuerURL      string        `validate:"omitempty,url"`
	ClientID       string        `validate:"required_with=IssuerURL"`
	ClientSecret   string        `validate:"-"`
	Scopes         []string      `validate:"dive,required"`
	DiscoveryTTL   time.Duration `validate:"gt=0"`
	DiscoveryRetry time.Duration `validate:"gte=0"`
	RefreshTimeout time.Duration `validate:"gt=0"`

	SessionSecret string        `validate:"required,min=32"`
	SessionTTL    time.Duration `validate:"gt=0"`
	SecureCookies bool

	SessionStore   string `validate:"oneof=memory redis postgres"`
	RedisAddr      string `validate:"required_if=SessionStore redis"`
	RedisPassword  string `validate:"-"`
	RedisDB        int    `validate:"gte=0"`
	RedisKeyPrefix string
	DatabaseURL    string `validate:"required_if=SessionStore postgres"`

	LoginRateLimit  int           `validate:"gte=0"`
	LoginRateWindow time.Duration `validate:"gt=0"`
}
