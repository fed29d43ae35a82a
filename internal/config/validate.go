package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// Storage
	switch c.DB.Driver {
	case DriverPostgres:
		if c.DB.Password == "" {
			errs = append(errs, "DB_PASSWORD is required when DB_DRIVER=postgres")
		}
		if c.DB.Port < 1 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Sprintf("DB_PORT must be 1–65535, got %d", c.DB.Port))
		}
	case DriverSQLite:
		if c.DB.Path == "" {
			errs = append(errs, "DB_PATH is required when DB_DRIVER=sqlite")
		}
	default:
		errs = append(errs, fmt.Sprintf("DB_DRIVER must be postgres or sqlite, got %q", c.DB.Driver))
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1–65535, got %d", c.Server.Port))
	}
	if c.RateLimit.Backend == BackendRedis && (c.Redis.Port < 1 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1–65535, got %d", c.Redis.Port))
	}

	// Quota tunables
	if c.Quota.Limit < 1 {
		errs = append(errs, fmt.Sprintf("QUOTA_LIMIT must be at least 1, got %d", c.Quota.Limit))
	}
	if c.Quota.GlobalLimit < 0 {
		errs = append(errs, fmt.Sprintf("QUOTA_GLOBAL_LIMIT must not be negative, got %d", c.Quota.GlobalLimit))
	}
	if c.Quota.ReservationTTL <= 0 {
		errs = append(errs, "QUOTA_RESERVATION_TTL_SECONDS must be positive")
	}
	if c.Quota.MaxActiveReservations < 1 {
		errs = append(errs, fmt.Sprintf("QUOTA_MAX_ACTIVE_RESERVATIONS must be at least 1, got %d", c.Quota.MaxActiveReservations))
	}
	if c.Quota.RetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("QUOTA_RETENTION_DAYS must be at least 1, got %d", c.Quota.RetentionDays))
	}

	// Rate limiting
	if c.RateLimit.PerIPPerMinute < 1 {
		errs = append(errs, fmt.Sprintf("RATELIMIT_PER_IP_PER_MIN must be at least 1, got %d", c.RateLimit.PerIPPerMinute))
	}
	if c.RateLimit.Backend != BackendDB && c.RateLimit.Backend != BackendRedis {
		errs = append(errs, fmt.Sprintf("RATELIMIT_BACKEND must be db or redis, got %q", c.RateLimit.Backend))
	}

	// Logging
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT must be text or json, got %q", c.Log.Format))
	}

	// Admin key: warn only
	if c.Admin.APIKey == "" {
		slog.Warn("ADMIN_API_KEY is empty, admin quota endpoints are disabled")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
