package config

import (
	"time"
)

type Config interface {
	EnvConfig
	CorsConfig
	AuthConfig
	SessionConfig
	StoreConfig
	SecurityConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	IsProduction() bool
	GetLogLevel() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type AuthConfig interface {
	GetAuthMode() string
	GetIssuerURL() string
	GetClientID() string
	GetClientSecret() string
	GetScopes() []string
	GetDiscoveryTTL() time.Duration
	GetDiscoveryRetry() time.Duration
	GetRefreshTimeout() time.Duration
}

type SessionConfig interface {
	GetSessionSecret() string
	GetSessionTTL() time.Duration
	GetSecureCookies() bool
}

type StoreConfig interface {
	GetSessionStore() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetRedisKeyPrefix() string
	GetDatabaseURL() string
}

type SecurityConfig interface {
	GetLoginRateLimit() int
	GetLoginRateWindow() time.Duration
}

type mainConfig struct {
	EnvVars
	Cors
	Auth
	Session
	Store
	Security
}

var _ Config = mainConfig{}

func newMainConfig(s *settings) mainConfig {
	return mainConfig{
		EnvVars:  EnvVars{s},
		Cors:     Cors{s},
		Auth:     Auth{s},
		Session:  Session{s},
		Store:    Store{s},
		Security: Security{s},
	}
}
