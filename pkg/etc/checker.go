package etc

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
)

// Check checks config values to fail fast in case of any problems
// that we might have due to invalid config.
func Check(config Config) (err error) {
	slog.Debug("Current process", slog.Int("pid", os.Getpid()))

	if config.API.IsTLSEnabled() {
		if !fileExists(config.API.TLSCertificate) {
			err = fmt.Errorf("TLS certificate file does not exist: %s", config.API.TLSCertificate)
			return
		}
		if !fileExists(config.API.TLSKey) {
			err = fmt.Errorf("TLS private key file does not exist: %s", config.API.TLSKey)
			return
		}
	}

	switch config.Store.Type {
	case StoreTypeSQLite:
		if err = checkSQLiteConfig(config.Store); err != nil {
			return fmt.Errorf("sqlite configuration is invalid: %w", err)
		}
	case StoreTypeRedis:
		if config.Store.RedisNamespace == "" {
			return errors.New("redis store namespace must not be blank")
		}
	default:
		return errors.New("store type must be either sqlite or redis")
	}

	if _, err = url.ParseRequestURI(config.NVD.BaseURL); err != nil {
		return fmt.Errorf("invalid NVD base URL: %w", err)
	}

	if config.NVD.MaxResponseBytes < 1 {
		return errors.New("NVD max response bytes must be positive")
	}

	if config.RateLimit.Capacity < 1 {
		return errors.New("rate limit capacity cannot be less than 1")
	}

	if config.RateLimit.RefillPeriod <= 0 {
		return errors.New("rate limit refill period must be positive")
	}

	if config.GenAI.APIKey == "" {
		slog.Warn("GenAI API key is not configured, summaries will not be available")
	}

	return
}

func checkSQLiteConfig(config Store) error {
	if config.SQLitePath == "" {
		return errors.New("database path must not be blank")
	}
	if config.SQLitePath == ":memory:" {
		return nil
	}
	dir := filepath.Dir(config.SQLitePath)
	if !dirExists(dir) {
		return fmt.Errorf("database directory does not exist: %s", dir)
	}
	return nil
}

// dirExists checks if a dir exists before we
// try using it to prevent further errors.
func dirExists(name string) bool {
	info, err := os.Stat(name)
	if os.IsNotExist(err) {
		return false
	}
	return info.IsDir()
}

// fileExists checks if a file exists and is not a directory before we
// try using it to prevent further errors.
func fileExists(name string) bool {
	info, err := os.Stat(name)
	if os.IsNotExist(err) {
		return false
	}
	return !info.IsDir()
}
