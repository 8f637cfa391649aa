package config

import "time"

type Config interface {
	GetAppName() string
	GetBaseURL() string
	GetRequestTimeout() time.Duration
	GetStatePath() string
	GetLoginEmail() string
	GetLoginPassword() string
	GetEnv() string
}

type mainConfig struct {
	EnvVars
}

func New() Config {
	return mainConfig{}
}
