package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	apperrors "github.com/jrsteele09/go-solar-auth/internal/errors"
)

// New loads the configuration from the environment and an optional .env file.
func New() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return Load(viper.New())
}

// Load reads the configuration through v, which is expected to be fed from
// the environment. Tests pass a viper instance with values set directly.
func Load(v *viper.Viper) (Config, error) {
	v.AutomaticEnv()
	setDefaults(v)

	s := &settings{
		Port:     strings.TrimPrefix(v.GetString(portEnvVar), ":"),
		AppName:  v.GetString(appNameVar),
		Env:      v.GetString(envVar),
		LogLevel: strings.ToLower(v.GetString(logLevelVar)),

		AllowedOrigins: splitList(v.GetString(allowedOriginsVar)),

		AuthMode:       strings.ToLower(v.GetString(authModeVar)),
		IssuerURL:      strings.TrimSpace(v.GetString(issuerURLVar)),
		ClientID:       strings.TrimSpace(v.GetString(clientIDVar)),
		ClientSecret:   v.GetString(clientSecretVar),
		Scopes:         strings.Fields(v.GetString(scopesVar)),
		DiscoveryTTL:   v.GetDuration(discoveryTTLVar),
		DiscoveryRetry: v.GetDuration(discoveryRetryVar),
		RefreshTimeout: v.GetDuration(refreshTimeoutVar),

		SessionSecret: v.GetString(sessionSecretVar),
		SessionTTL:    v.GetDuration(sessionTTLVar),
		SecureCookies: v.GetBool(secureCookiesVar),

		SessionStore:   strings.ToLower(v.GetString(sessionStoreVar)),
		RedisAddr:      v.GetString(redisAddrVar),
		RedisPassword:  v.GetString(redisPasswordVar),
		RedisDB:        v.GetInt(redisDBVar),
		RedisKeyPrefix: v.GetString(redisKeyPrefixVar),
		DatabaseURL:    v.GetString(databaseURLVar),

		LoginRateLimit:  v.GetInt(loginRateLimitVar),
		LoginRateWindow: v.GetDuration(loginRateWindowVar),
	}

	if s.SessionSecret == "" && s.Env == devEnv {
		secret, err := randomSecret()
		if err != nil {
			return nil, err
		}
		s.SessionSecret = secret
		log.Warn().Msg("SESSION_SECRET is not set, using a random secret; sessions will not survive a restart")
	}

	if err := validate(s); err != nil {
		return nil, err
	}
	return newMainConfig(s), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(portEnvVar, "8080")
	v.SetDefault(appNameVar, "Solar Billing")
	v.SetDefault(envVar, devEnv)
	v.SetDefault(logLevelVar, "info")
	v.SetDefault(authModeVar, "auto")
	v.SetDefault(scopesVar, "openid email profile offline_access")
	v.SetDefault(discoveryTTLVar, "1h")
	v.SetDefault(discoveryRetryVar, "10s")
	v.SetDefault(refreshTimeoutVar, "10s")
	v.SetDefault(sessionTTLVar, "168h")
	v.SetDefault(sessionStoreVar, StoreMemory)
	v.SetDefault(redisDBVar, 0)
	v.SetDefault(secureCookiesVar, false)
	v.SetDefault(loginRateLimitVar, 5)
	v.SetDefault(loginRateWindowVar, "15m")
}

var validate = func() func(*settings) error {
	vd := validator.New(validator.WithRequiredStructEnabled())
	vd.RegisterStructValidation(validateProviderPair, settings{})
	return func(s *settings) error {
		err := vd.Struct(s)
		if err == nil {
			return nil
		}
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", apperrors.ErrInvalidConfig, strings.Join(msgs, ", "))
		}
		return fmt.Errorf("%w: %w", apperrors.ErrInvalidConfig, err)
	}
}()

// validateProviderPair rejects a client id without an issuer; the reverse is
// covered by the ClientID tag.
func validateProviderPair(sl validator.StructLevel) {
	s := sl.Current().Interface().(settings)
	if s.ClientID != "" && s.IssuerURL == "" {
		sl.ReportError(s.IssuerURL, "IssuerURL", "IssuerURL", "required_with", "ClientID")
	}
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func randomSecret() (string, error) {
	b := make([]byte, minSessionSecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
