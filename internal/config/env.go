// Package config provides environment-driven process settings for
// posebridge commands. Domain configuration lives in pkg/configstore.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Defaults used when the environment is silent.
const (
	DefaultPort        = 4000
	DefaultConfigPath  = "config/config.json"
	DefaultSessionsDir = "sessions"
	DefaultLogLevel    = "info"
)

// Settings holds everything a server process needs before it loads the
// domain configuration.
type Settings struct {
	Port        int
	ConfigPath  string
	SessionsDir string
	StaticDir   string
	LogLevel    string
	TLSCert     string
	TLSKey      string
}

// TLS reports whether both certificate and key are configured.
func (s Settings) TLS() bool {
	return s.TLSCert != "" && s.TLSKey != ""
}

// FromEnv reads Settings from PORT, LOG_LEVEL and the POSEBRIDGE_* variables.
func FromEnv() Settings {
	return Settings{
		Port:        envInt("PORT", DefaultPort),
		ConfigPath:  envString("POSEBRIDGE_CONFIG", DefaultConfigPath),
		SessionsDir: envString("POSEBRIDGE_SESSIONS_DIR", DefaultSessionsDir),
		StaticDir:   os.Getenv("POSEBRIDGE_STATIC_DIR"),
		LogLevel:    envString("LOG_LEVEL", DefaultLogLevel),
		TLSCert:     os.Getenv("POSEBRIDGE_TLS_CERT"),
		TLSKey:      os.Getenv("POSEBRIDGE_TLS_KEY"),
	}
}

// LoadDotEnv copies variables from the given .env files (default ".env")
// into the process environment. Variables already set win. Missing files
// are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envInt falls back to def when the variable is unset or not a number.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
