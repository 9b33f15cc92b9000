// Package config reads process configuration from the environment, with
// optional .env file support for development setups.
package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Settings holds everything restreamd reads from the environment. The
// source locator and output directory are positional arguments, not
// environment, so they are not here.
type Settings struct {
	// ListenAddr is the bind address of the status/metrics HTTP server.
	// The value "off" disables the server.
	ListenAddr string
	// LogLevel is one of debug, info, warn, error.
	LogLevel string
	// LogFormat is text or json.
	LogFormat string
}

// Load reads a .env file and sets environment variables from it. A
// missing file returns an error callers may ignore; real environment
// variables always win because godotenv never overrides existing ones.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// FromEnv builds Settings from the current environment, applying
// defaults for anything unset.
func FromEnv() Settings {
	return Settings{
		ListenAddr: GetEnv("RESTREAMD_LISTEN", ":9090"),
		LogLevel:   GetEnv("LOG_LEVEL", "info"),
		LogFormat:  GetEnv("LOG_FORMAT", "text"),
	}
}

// GetEnv returns the value of the environment variable named by key, or
// fallback if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}
