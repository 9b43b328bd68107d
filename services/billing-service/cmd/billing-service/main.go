package main

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/experchat/experchat/libs/config"
	"github.com/experchat/experchat/libs/db"
	"github.com/experchat/experchat/libs/httpx"
	"github.com/experchat/experchat/libs/kafkax"
	otelx "github.com/experchat/experchat/libs/otel"
	"github.com/experchat/experchat/libs/runtime"
	"github.com/experchat/experchat/services/billing-service/internal/consumer"
	"github.com/experchat/experchat/services/billing-service/internal/gateway"
	"github.com/experchat/experchat/services/billing-service/internal/handlers"
	"github.com/experchat/experchat/services/billing-service/internal/inbox"
	"github.com/experchat/experchat/services/billing-service/internal/outbox"
	"github.com/experchat/experchat/services/billing-service/internal/reconcile"
	"github.com/experchat/experchat/services/billing-service/internal/settlement"
	"github.com/experchat/experchat/services/billing-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "billing-service")
	port, err := config.Port("PORT", "8084")
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

	repo := storage.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	inboxRepo := inbox.NewRepository(pool)

	var gw gateway.Gateway
	if key := config.String("STRIPE_SECRET_KEY", ""); strings.TrimSpace(key) != "" {
		gw = gateway.NewStripeGateway(key)
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set, using local payment gateway")
		gw = gateway.NewLocalGateway()
	}

	brokers := config.String("KAFKA_BROKERS", "")
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	processor := settlement.NewProcessor(repo, outboxRepo, gw, logger)
	groupID := config.String("KAFKA_GROUP_ID", "billing-service")
	startConsumer := func(topic string, handler consumer.Handler) {
		c := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: brokers,
			GroupID: groupID,
			Topic:   topic,
		}, handler)
		go c.Run(ctx)
	}
	startConsumer(settlement.SettlementTopic, processor.HandleSettlement)
	startConsumer(settlement.CancellationTopic, processor.HandleCancellation)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	h := handlers.New(repo, gw, logger, handlers.Config{
		CancellationPercent: config.Int("CANCELLATION_PERCENT", 25),
	})
	mux.HandleFunc("/internal/v1/preauth", h.PreAuth)
	mux.HandleFunc("/internal/v1/promo/validate", h.ValidatePromo)
	mux.HandleFunc("/api/v1/promos", h.Promos)
	mux.HandleFunc("/api/v1/transactions", h.Transaction)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "billing")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	// Stale-hold reconciliation: release authorizations whose settlement or
	// cancellation request never arrived.
	if isTruthy(config.String("BILLING_RECONCILE_ENABLED", "true")) {
		intervalSeconds, _ := strconv.Atoi(config.String("BILLING_RECONCILE_INTERVAL_SECONDS", "900"))
		if intervalSeconds <= 0 {
			intervalSeconds = 900
		}
		batchSize, _ := strconv.Atoi(config.String("BILLING_RECONCILE_BATCH_SIZE", "50"))
		lockKey, _ := strconv.ParseInt(config.String("BILLING_RECONCILE_LOCK_KEY", "4242002"), 10, 64)
		rec := reconcile.NewReconciler(pool, repo, gw, logger, reconcile.Config{
			MaxAge:          config.Minutes("BILLING_RECONCILE_MAX_AGE_MINUTES", 48*time.Hour),
			BatchSize:       batchSize,
			AdvisoryLockKey: lockKey,
		})
		go rec.Run(ctx, time.Duration(intervalSeconds)*time.Second)
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

func isTruthy(s string) bool {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}
