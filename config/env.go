package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
)

const defaultEnvFile = ".env"

var (
	ErrInvalidEnvironment = fmt.Errorf("invalid environment")
)

// LoadEnvFile loads environment overrides from path. An empty path tries
// ./.env and ignores it if it does not exist. Variables already present in
// the process environment are not overwritten.
func LoadEnvFile(path string) error {
	if path == "" {
		err := godotenv.Load(defaultEnvFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", defaultEnvFile, err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// EnvString returns the value of key, or fallback when it is unset or empty.
func EnvString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// EnvDuration parses key as a time.Duration, returning fallback when unset.
func EnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q: %w", ErrInvalidEnvironment, key, v, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: %s must not be negative", ErrInvalidEnvironment, key)
	}
	return d, nil
}
