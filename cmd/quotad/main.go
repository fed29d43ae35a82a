package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/aiox-platform/quotaguard/internal/api"
	"github.com/aiox-platform/quotaguard/internal/audit"
	"github.com/aiox-platform/quotaguard/internal/auth"
	"github.com/aiox-platform/quotaguard/internal/config"
	"github.com/aiox-platform/quotaguard/internal/database"
	mw "github.com/aiox-platform/quotaguard/internal/middleware"
	inats "github.com/aiox-platform/quotaguard/internal/nats"
	"github.com/aiox-platform/quotaguard/internal/quota"
	"github.com/aiox-platform/quotaguard/internal/ratelimit"
	iredis "github.com/aiox-platform/quotaguard/internal/redis"
	"github.com/aiox-platform/quotaguard/internal/server"
	"github.com/aiox-platform/quotaguard/internal/storage/postgres"
	"github.com/aiox-platform/quotaguard/internal/storage/sqlite"
)

// backend is what both storage drivers provide.
type backend interface {
	quota.Store
	ratelimit.Store
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("quotad exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	if cfg.DB.AutoMigrate {
		if err := database.RunMigrations(cfg.DB.Driver, database.MigrationURL(cfg.DB)); err != nil {
			return err
		}
	}

	var (
		store     backend
		dbHealth  func(context.Context) error
		auditRepo *audit.Repository
	)
	switch cfg.DB.Driver {
	case config.DriverSQLite:
		db, err := database.OpenSQLite(ctx, cfg.DB.Path)
		if err != nil {
			return err
		}
		defer db.Close()
		store = sqlite.New(db)
		dbHealth = func(ctx context.Context) error { return database.HealthCheckSQL(ctx, db) }
	default:
		pool, err := database.NewPostgresPool(ctx, cfg.DB)
		if err != nil {
			return err
		}
		defer pool.Close()
		pg := postgres.New(pool)
		store = pg
		dbHealth = pg.Ping
		auditRepo = audit.NewRepository(pool)
	}

	// IP windows live in the database unless Redis is selected.
	var windows ratelimit.Store = store
	if cfg.RateLimit.Backend == config.BackendRedis {
		rdb, err := iredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
		windows = ratelimit.NewRedisStore(rdb)
	}

	loc, tzName, _ := quota.ResolveTimezone(cfg.Quota.Timezone)
	manager := quota.NewManager(store, cfg.Quota.Manager())
	limiter := ratelimit.New(windows)

	g, ctx := errgroup.WithContext(ctx)

	var publisher mw.DecisionPublisher
	var natsHealthy func() bool
	var auditHandler http.HandlerFunc
	if cfg.NATS.URL != "" {
		nc, err := inats.NewClient(ctx, cfg.NATS)
		if err != nil {
			return err
		}
		defer nc.Close()
		publisher = inats.NewPublisher(nc.JetStream())
		natsHealthy = nc.Healthy

		if auditRepo != nil {
			consumer := audit.NewConsumer(auditRepo, inats.NewConsumerManager(nc.JetStream()))
			g.Go(func() error { return consumer.Start(ctx) })
			auditHandler = audit.NewHandler(auditRepo).List
		}
	}

	decisions := mw.NewDecisions(publisher)
	quotaHandler := quota.NewHandler(manager, loc, tzName, cfg.Quota.Limit)

	router := server.NewRouter(server.RouterConfig{
		CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
		Health: server.HealthChecks{
			Database: dbHealth,
			NATS:     natsHealthy,
		},
	}, server.HandlerSet{
		GetUsage:    quotaHandler.GetUsage,
		RefundQuota: quotaHandler.Refund,
		ListAudit:   auditHandler,
		Gated: func(w http.ResponseWriter, r *http.Request) {
			api.JSONMessage(w, http.StatusOK, "quota consumed")
		},

		AuthMiddleware:  auth.Middleware,
		AdminMiddleware: auth.AdminKey(cfg.Admin.APIKey),
		IPRateLimit:     mw.IPRateLimit(limiter, cfg.RateLimit.PerIPPerMinute, decisions),
		DailyQuota: mw.DailyQuota(manager, mw.DailyQuotaConfig{
			Limit:        cfg.Quota.Limit,
			Location:     loc,
			Owners:       cfg.Owner.IDs,
			BypassOwners: cfg.Owner.BypassQuota,
		}, decisions),
	})

	slog.Info("quota settings",
		"driver", cfg.DB.Driver,
		"timezone", tzName,
		"daily_limit", cfg.Quota.Limit,
		"global_limit", cfg.Quota.GlobalLimit,
		"reservation_ttl", cfg.Quota.ReservationTTL,
		"per_ip_per_min", cfg.RateLimit.PerIPPerMinute,
		"ratelimit_backend", cfg.RateLimit.Backend,
	)

	srv := server.New(cfg.Server, router)
	g.Go(func() error { return srv.Run(ctx) })

	return g.Wait()
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	if cfg.File != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		})
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	slog.SetDefault(slog.New(handler))
}
