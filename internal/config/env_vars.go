package config

import (
	"os"
	"strconv"
	"time"
)

const (
	appNameVar   = "APP_NAME"
	baseURLVar   = "AUTH_BASE_URL"
	timeoutVar   = "AUTH_REQUEST_TIMEOUT_SECONDS"
	statePathVar = "AUTH_STATE_FILE"
	emailVar     = "AUTH_EMAIL"
	passwordVar  = "AUTH_PASSWORD"
)

type EnvVars struct{}

var _ Config = EnvVars{}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Auth Client")
}

// GetBaseURL returns the base URL of the authentication service
// (e.g. "https://auth.example.com"). All endpoint paths are resolved
// against it.
func (EnvVars) GetBaseURL() string {
	return GetEnv(baseURLVar, "http://localhost:8080")
}

// GetRequestTimeout returns the bound on any single request to the service.
// The browser original relied on the browser's default; here the timeout is
// explicit, and hitting it surfaces as a network error.
func (EnvVars) GetRequestTimeout() time.Duration {
	seconds, err := strconv.Atoi(GetEnv(timeoutVar, "10"))
	if err != nil || seconds <= 0 {
		seconds = 10
	}
	return time.Duration(seconds) * time.Second
}

// GetStatePath returns the file path the credential is persisted to between
// runs.
func (EnvVars) GetStatePath() string {
	return GetEnv(statePathVar, "./data/session.json")
}

func (EnvVars) GetLoginEmail() string {
	return GetEnv(emailVar, "")
}

func (EnvVars) GetLoginPassword() string {
	return GetEnv(passwordVar, "")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
