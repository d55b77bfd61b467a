package config

import "time"

type Security struct {
	s *settings
}

var _ SecurityConfig = Security{}

// GetLoginRateLimit is the number of login attempts allowed per client IP
// within the rate window. Zero disables the limit.
func (c Security) GetLoginRateLimit() int {
	return c.s.LoginRateLimit
}

func (c Security) GetLoginRateWindow() time.Duration {
	return c.s.LoginRateWindow
}
