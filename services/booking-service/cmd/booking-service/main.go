package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/experchat/experchat/libs/config"
	"github.com/experchat/experchat/libs/db"
	"github.com/experchat/experchat/libs/httpx"
	"github.com/experchat/experchat/libs/kafkax"
	otelx "github.com/experchat/experchat/libs/otel"
	"github.com/experchat/experchat/libs/runtime"
	"github.com/experchat/experchat/services/booking-service/internal/billing"
	"github.com/experchat/experchat/services/booking-service/internal/handlers"
	"github.com/experchat/experchat/services/booking-service/internal/jobs"
	"github.com/experchat/experchat/services/booking-service/internal/notify"
	"github.com/experchat/experchat/services/booking-service/internal/outbox"
	"github.com/experchat/experchat/services/booking-service/internal/pricing"
	"github.com/experchat/experchat/services/booking-service/internal/session"
	"github.com/experchat/experchat/services/booking-service/internal/slots"
	"github.com/experchat/experchat/services/booking-service/internal/storage"
	"github.com/experchat/experchat/services/booking-service/internal/tasks"
	"github.com/experchat/experchat/services/booking-service/internal/video"
)

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
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
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	prices, err := pricing.Parse(config.String("SESSION_PRICES", ""))
	if err != nil {
		logger.Error("invalid SESSION_PRICES", "err", err)
		panic(err)
	}
	perExtensionCents := config.Int64("EXTENSION_PRICE_CENTS", 1500)

	slotCfg := slots.DefaultConfig()
	slotCfg.HorizonWeeks = config.Int("SLOT_HORIZON_WEEKS", slotCfg.HorizonWeeks)
	sessionCfg := session.DefaultConfig()
	sessionCfg.GracePeriod = config.Minutes("MISSED_CALL_GRACE_MINUTES", sessionCfg.GracePeriod)

	rulesRepo := storage.NewRulesRepository(pool)
	sessionsRepo := storage.NewSessionRepository(pool)
	statsRepo := storage.NewStatsRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	jobsRepo := jobs.NewRepository()
	notifier := notify.NewPublisher(outboxRepo)

	var videoProvider session.VideoProvider
	if url := config.String("VIDEO_API_URL", ""); url != "" {
		videoProvider = video.NewClient(url, config.String("VIDEO_API_KEY", ""))
	} else {
		logger.Warn("no video api configured; using local fake provider")
		videoProvider = video.NewFakeProvider()
	}

	machine := session.NewMachine(notifier, videoProvider, jobsRepo, sessionCfg, logger)

	billingURL, err := config.RequiredString("BILLING_BASE_URL")
	if err != nil {
		panic(err)
	}
	billingClient := billing.NewClient(billingURL)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	worker := jobs.NewWorker(pool, jobsRepo, logger, jobs.WorkerConfig{
		Interval:  2 * time.Second,
		BatchSize: config.Int("JOB_BATCH_SIZE", 50),
		Backoff:   time.Minute,
	})
	tasks.NewHandlers(sessionsRepo, statsRepo, outboxRepo, notifier, sessionCfg, perExtensionCents, logger).Register(worker)
	go worker.Run(ctx)

	rulesHandler := handlers.NewRulesHandler(rulesRepo, slotCfg, logger)
	slotsHandler := handlers.NewSlotsHandler(rulesRepo, sessionsRepo, prices, slotCfg, logger)
	scheduleHandler := handlers.NewScheduleHandler(sessionsRepo, rulesRepo, jobsRepo, outboxRepo, billingClient, machine, prices, slotCfg, sessionCfg, logger)
	callHandler := handlers.NewCallHandler(sessionsRepo, machine, scheduleHandler, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.HandleFunc("/api/v1/availability/rules", rulesHandler.Rules)
	mux.HandleFunc("/api/v1/public/slots", slotsHandler.Slots)
	mux.HandleFunc("/api/v1/sessions", scheduleHandler.Sessions)
	mux.HandleFunc("/api/v1/calls/initiate", callHandler.Initiate)
	mux.HandleFunc("/api/v1/calls/reconnect", callHandler.Reconnect)
	mux.HandleFunc("/api/v1/calls/accept", callHandler.Accept)
	mux.HandleFunc("/api/v1/calls/decline", callHandler.Decline)
	mux.HandleFunc("/api/v1/calls/delay", callHandler.Delay)
	mux.HandleFunc("/api/v1/calls/disconnect", callHandler.Disconnect)
	mux.HandleFunc("/api/v1/calls/extend", callHandler.Extend)
	mux.HandleFunc("/api/v1/calls/cancel", callHandler.Cancel)

	var rateLimitMW httpx.Middleware
	limitPerMinute := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer func() { _ = rdb.Close() }()
		rl := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl"))
		rateLimitMW = rl.Middleware(logger, config.String("RATE_LIMIT_FAIL_OPEN", "true") == "true")
		logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute, "redis_addr", addr)
	} else {
		rl := httpx.NewRateLimiter(limitPerMinute, time.Minute)
		rateLimitMW = rl.Middleware()
		logger.Info("rate limiting enabled (in-memory)", "per_minute", limitPerMinute)
	}

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		rateLimitMW,
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
