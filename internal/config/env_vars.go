package config

import "fmt"

type EnvVars struct {
	s *settings
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetPort() string {
	return fmt.Sprintf(":%s", e.s.Port)
}

func (e EnvVars) GetAppName() string {
	return e.s.AppName
}

func (e EnvVars) GetEnv() string {
	return e.s.Env
}

func (e EnvVars) IsProduction() bool {
	return e.s.Env == productionEnv
}

func (e EnvVars) GetLogLevel() string {
	return e.s.LogLevel
}
