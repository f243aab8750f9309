package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// String returns the env var key, or fallback when unset or empty.
func String(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Int returns the env var key parsed as an int, or fallback when unset or
// unparseable.
func Int(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return fallback
}

// Float32 returns the env var key parsed as a float32, or fallback.
func Float32(key string, fallback float32) float32 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 32); err == nil {
			return float32(f)
		}
	}
	return fallback
}

// Bool returns the env var key parsed with [strconv.ParseBool], or fallback.
func Bool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

// Duration returns the env var key parsed as a Go duration. A bare integer
// is read as seconds. Unparseable values yield fallback.
func Duration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
