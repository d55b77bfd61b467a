package config

import "time"

type Session struct {
	s *settings
}

var _ SessionConfig = Session{}

func (c Session) GetSessionSecret() string {
	return c.s.SessionSecret
}

// GetSessionTTL is the lifetime of a session and its cookie (7 days by default)
func (c Session) GetSessionTTL() time.Duration {
	return c.s.SessionTTL
}

// GetSecureCookies forces the Secure cookie flag, for deployments that sit
// behind a TLS terminating proxy. Production always gets secure cookies.
func (c Session) GetSecureCookies() bool {
	return c.s.SecureCookies || c.s.Env == productionEnv
}
