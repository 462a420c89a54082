package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/coachbook/libs/config"
	"github.com/md-rashed-zaman/coachbook/libs/db"
	"github.com/md-rashed-zaman/coachbook/libs/httpx"
	"github.com/md-rashed-zaman/coachbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/coachbook/libs/otel"
	"github.com/md-rashed-zaman/coachbook/libs/outbox"
	"github.com/md-rashed-zaman/coachbook/libs/runtime"
	"github.com/md-rashed-zaman/coachbook/services/booking-service/internal/consumer"
	"github.com/md-rashed-zaman/coachbook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/coachbook/services/booking-service/internal/inbox"
	"github.com/md-rashed-zaman/coachbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/coachbook/services/booking-service/internal/scheduling"
	"github.com/md-rashed-zaman/coachbook/services/booking-service/internal/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const scheduleUpdatedTopic = "coach.schedule.updated.v1"

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelCfg, err := otelx.ConfigFromEnv(service)
	if err != nil {
		panic(err)
	}
	otelShutdown, err := otelx.Setup(ctx, otelCfg)
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	dbOpts, err := dbOptions(logger)
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL, dbOpts)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	if config.Bool("DB_AUTO_MIGRATE", true) {
		if err := db.Migrate(ctx, pool, storage.Migrations, "migrations"); err != nil {
			logger.Error("db migration failed", "err", err)
			panic(err)
		}
	}

	brokers := config.String("KAFKA_BROKERS", "")
	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(kafkax.SplitBrokers(brokers))},
	}

	var rdb *redis.Client
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
		defer rdb.Close()
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	schedulingProvider, err := newScheduleProvider(ctx, logger, rdb, brokers)
	if err != nil {
		logger.Error("scheduling provider init failed", "err", err)
		panic(err)
	}

	repo := storage.NewSessionRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	retention, err := config.Duration("OUTBOX_RETENTION", 7*24*time.Hour)
	if err != nil {
		panic(err)
	}
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
		Retention: retention,
	})
	go outboxPublisher.Run(ctx)

	if cached, ok := schedulingProvider.(*scheduling.CachedProvider); ok && brokers != "" {
		inboxRepo := inbox.NewRepository(pool)
		startInvalidationConsumer(ctx, logger, inboxRepo, brokers, cached)
		go pruneInbox(ctx, logger, inboxRepo, retention)
	}

	bookingHandler := handlers.NewBookingHandler(repo, outboxRepo, schedulingProvider, logger)

	publicLimit, err := config.Int("PUBLIC_RATE_LIMIT_PER_MINUTE", 120)
	if err != nil {
		panic(err)
	}
	var limiter httpx.Limiter = httpx.NewMemoryLimiter(publicLimit, time.Minute)
	if rdb != nil {
		limiter = httpx.NewRedisLimiter(rdb, publicLimit, time.Minute, "rl:slots")
	}
	public := httpx.Chain(http.HandlerFunc(bookingHandler.Slots),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: config.List("CORS_ALLOWED_ORIGINS"),
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			MaxAge:         10 * time.Minute,
		}),
		httpx.RateLimit(limiter, logger, true),
	)

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/api/v1/public/coaches/slots", public)
	mux.HandleFunc("/api/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			bookingHandler.List(w, r)
			return
		}
		bookingHandler.Create(w, r)
	})
	mux.HandleFunc("/api/v1/sessions/reschedule", bookingHandler.Reschedule)
	mux.HandleFunc("/api/v1/sessions/cancel", bookingHandler.Cancel)
	mux.HandleFunc("/api/v1/hooks/validate-booking", bookingHandler.ValidateHook)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(1<<20),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if err := runtime.Serve(ctx, srv, logger); err != nil {
		logger.Error("http server error", "err", err)
	}
	logger.Info("http server stopped")
}

func dbOptions(logger *slog.Logger) (db.Options, error) {
	maxConns, err := config.Int("DB_MAX_CONNS", 10)
	if err != nil {
		return db.Options{}, err
	}
	opts := db.Options{MaxConns: int32(maxConns)}
	if config.Bool("DB_LOG_QUERIES", false) {
		opts.QueryLogger = logger.With("component", "pgx")
	}
	return opts, nil
}

func newScheduleProvider(ctx context.Context, logger *slog.Logger, rdb *redis.Client, brokers string) (scheduling.Provider, error) {
	upstream, err := scheduling.NewProvider(config.String("COACH_SERVICE_URL", ""))
	if err != nil {
		return nil, err
	}
	if upstream == nil {
		logger.Warn("COACH_SERVICE_URL not set; every coach has an empty schedule")
		return nil, nil
	}
	if rdb == nil {
		return upstream, nil
	}
	ttl, err := config.Duration("SCHEDULE_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	if brokers == "" {
		// Without invalidation events a stale schedule lives for the whole TTL.
		logger.Warn("schedule cache enabled without kafka invalidation", "ttl", ttl.String())
	}
	return scheduling.NewCachedProvider(upstream, rdb, ttl, logger, metrics.ObserveScheduleCache), nil
}

func startInvalidationConsumer(ctx context.Context, logger *slog.Logger, inboxRepo *inbox.Repository, brokers string, cache *scheduling.CachedProvider) {
	cfg := consumer.Config{
		Brokers: brokers,
		GroupID: config.String("KAFKA_GROUP_ID", "booking-service"),
		Topic:   scheduleUpdatedTopic,
	}
	c := consumer.New(logger, inboxRepo, cfg, func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			CoachID string `json:"coach_id"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil || payload.CoachID == "" {
			logger.Error("invalid schedule event payload", "err", err)
			return nil
		}
		if err := cache.Invalidate(ctx, payload.CoachID); err != nil {
			return err
		}
		logger.Debug("schedule cache invalidated", "coach_id", payload.CoachID)
		return nil
	})
	go c.Run(ctx)
}

// pruneInbox drops consumed event ids older than retention once an hour.
func pruneInbox(ctx context.Context, logger *slog.Logger, repo *inbox.Repository, retention time.Duration) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.DeleteBefore(ctx, time.Now().Add(-retention))
			if err != nil {
				logger.Warn("inbox prune failed", "err", err)
				continue
			}
			if n > 0 {
				logger.Info("inbox pruned", "rows", n)
			}
		}
	}
}
