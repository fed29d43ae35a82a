package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/aiox-platform/quotaguard/internal/quota"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	BackendDB    = "db"
	BackendRedis = "redis"
)

type Config struct {
	Server    ServerConfig
	DB        DBConfig
	Redis     RedisConfig
	NATS      NATSConfig
	Log       LogConfig
	Quota     QuotaConfig
	RateLimit RateLimitConfig
	Owner     OwnerConfig
	Admin     AdminConfig
	CORS      CORSConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	Driver      string
	Host        string
	Port        int
	User        string
	Password    string
	Name        string
	SSLMode     string
	MaxConns    int32
	Path        string
	AutoMigrate bool
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NATSConfig holds the event bus address. An empty URL disables decision
// events and the audit consumer.
type NATSConfig struct {
	URL string
}

type LogConfig struct {
	Level  string
	Format string
	File   string
}

type QuotaConfig struct {
	Timezone              string
	Limit                 int
	GlobalLimit           int
	ReservationTTL        time.Duration
	MaxActiveReservations int
	RetentionDays         int
}

// Manager returns the tunables consumed by quota.NewManager.
func (c QuotaConfig) Manager() quota.Config {
	return quota.Config{
		ReservationTTL:        c.ReservationTTL,
		MaxActiveReservations: c.MaxActiveReservations,
		RetentionDays:         c.RetentionDays,
		GlobalDailyLimit:      c.GlobalLimit,
	}
}

type RateLimitConfig struct {
	PerIPPerMinute int
	Backend        string
}

type OwnerConfig struct {
	IDs         []uuid.UUID
	BypassQuota bool
}

type AdminConfig struct {
	APIKey string
}

type CORSConfig struct {
	AllowedOrigins []string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.ParserEnv("", ".", envKey))

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", envKey), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: k.String("server.host"),
			Port: k.Int("server.port"),
		},
		DB: DBConfig{
			Driver:      strings.ToLower(k.String("db.driver")),
			Host:        k.String("db.host"),
			Port:        k.Int("db.port"),
			User:        k.String("db.user"),
			Password:    k.String("db.password"),
			Name:        k.String("db.name"),
			SSLMode:     k.String("db.sslmode"),
			MaxConns:    int32(k.Int("db.max.conns")),
			Path:        k.String("db.path"),
			AutoMigrate: k.Bool("db.auto.migrate"),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			URL: k.String("nats.url"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
			File:   k.String("log.file"),
		},
		Quota: QuotaConfig{
			Timezone:              k.String("app.tz"),
			Limit:                 k.Int("quota.limit"),
			GlobalLimit:           k.Int("quota.global.limit"),
			MaxActiveReservations: k.Int("quota.max.active.reservations"),
			RetentionDays:         k.Int("quota.retention.days"),
		},
		RateLimit: RateLimitConfig{
			PerIPPerMinute: k.Int("ratelimit.per.ip.per.min"),
			Backend:        strings.ToLower(k.String("ratelimit.backend")),
		},
		Owner: OwnerConfig{
			BypassQuota: true,
		},
		Admin: AdminConfig{
			APIKey: k.String("admin.api.key"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(k.String("cors.allowed.origins")),
		},
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.DB.Driver == "" {
		cfg.DB.Driver = DriverPostgres
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "quotaguard"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "quotaguard"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.DB.Path == "" {
		cfg.DB.Path = "quotaguard.db"
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "debug"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Quota.Timezone == "" {
		cfg.Quota.Timezone = "UTC"
	}
	if !k.Exists("quota.limit") {
		cfg.Quota.Limit = 5
	}
	if !k.Exists("quota.global.limit") {
		cfg.Quota.GlobalLimit = 1000
	}
	if cfg.Quota.MaxActiveReservations == 0 {
		cfg.Quota.MaxActiveReservations = 1
	}
	if cfg.Quota.RetentionDays == 0 {
		cfg.Quota.RetentionDays = 7
	}
	if cfg.RateLimit.PerIPPerMinute == 0 {
		cfg.RateLimit.PerIPPerMinute = 20
	}
	if cfg.RateLimit.Backend == "" {
		cfg.RateLimit.Backend = BackendDB
	}
	if k.Exists("owner.bypass.quota") {
		cfg.Owner.BypassQuota = k.Bool("owner.bypass.quota")
	}

	ttlSeconds := 600
	if k.Exists("quota.reservation.ttl.seconds") {
		ttlSeconds = k.Int("quota.reservation.ttl.seconds")
	}
	cfg.Quota.ReservationTTL = time.Duration(ttlSeconds) * time.Second

	for _, raw := range splitList(k.String("owner.ids")) {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing owner id %q: %w", raw, err)
		}
		cfg.Owner.IDs = append(cfg.Owner.IDs, id)
	}

	return cfg, nil
}

// envKey maps QUOTA_RESERVATION_TTL_SECONDS to quota.reservation.ttl.seconds.
func envKey(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "_", "."))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
