package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/salon-booking-settlement/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/salon-booking-settlement/internal/adapters/mongo"
	"github.com/robertarktes/salon-booking-settlement/internal/adapters/razorpay"
	redisadapter "github.com/robertarktes/salon-booking-settlement/internal/adapters/redis"
	"github.com/robertarktes/salon-booking-settlement/internal/auth"
	"github.com/robertarktes/salon-booking-settlement/internal/booking"
	"github.com/robertarktes/salon-booking-settlement/internal/cancellation"
	"github.com/robertarktes/salon-booking-settlement/internal/catalog"
	"github.com/robertarktes/salon-booking-settlement/internal/config"
	"github.com/robertarktes/salon-booking-settlement/internal/domain"
	httphandler "github.com/robertarktes/salon-booking-settlement/internal/http"
	"github.com/robertarktes/salon-booking-settlement/internal/idempotency"
	"github.com/robertarktes/salon-booking-settlement/internal/observability"
	"github.com/robertarktes/salon-booking-settlement/internal/rateLimit"
	"github.com/robertarktes/salon-booking-settlement/internal/settlement"
	"github.com/robertarktes/salon-booking-settlement/internal/slots"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	loc, _ := cfg.Location()
	fee, _ := cfg.PlatformFeeMoney()

	shutdown, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger()
	observability.InitMetrics()

	verifier, err := auth.NewVerifier(cfg.JWTPublicKey)
	if err != nil {
		log.Fatalf("failed to load jwt key: %v", err)
	}

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)
	if err := repo.Migrate(context.Background()); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database(cfg.MongoDB)
	mongoCatalog := mongoadapter.NewCatalogRepository(mongoDB, logger)
	auditLog := mongoadapter.NewAuditLogger(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	redisCache := redisadapter.NewCache(redisClient)
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), cfg.IdempotencyTTL)
	rl := rateLimit.NewRateLimiter(redisClient)

	processor := razorpay.NewClient(cfg.ProcessorBaseURL, cfg.ProcessorKeyID, cfg.ProcessorKeySecret, cfg.ProcessorTimeout)
	if cfg.ProcessorKeyID == "" || cfg.ProcessorKeySecret == "" {
		logger.Warn("processor credentials are not set; processor payments will fail")
	}

	clock := domain.SystemClock{}
	merchants := catalog.NewService(mongoCatalog, redisCache, cfg.CatalogCacheTTL, logger)
	availability := slots.NewAvailability(slots.NewGenerator(repo, merchants, clock, loc, logger), repo)
	settler := settlement.NewEngine(repo, processor, auditLog, logger, settlement.Options{
		PlatformFee: fee,
		Currency:    cfg.Currency,
		MaxAttempts: cfg.ProcessorMaxAttempts,
	})
	bookings := booking.NewOrchestrator(repo, availability, merchants, settler, auditLog, clock, logger, booking.Options{
		Location:       loc,
		AllowSynthesis: cfg.AllowSlotSynthesis,
		PendingTTL:     cfg.PendingTTL,
	})
	cancels := cancellation.NewEngine(repo, merchants, settler, clock, logger, cfg.ReleaseSlotOnCancel)

	handlers := httphandler.NewHandlers(httphandler.Deps{
		Bookings:     bookings,
		Settlement:   settler,
		Cancellation: cancels,
		Availability: availability,
		Catalog:      merchants,
		Coins:        repo,
		Checks: []httphandler.Check{
			{Name: "crdb", Ping: repo.Ping},
			{Name: "redis", Ping: redisCache.Ping},
			{Name: "mongo", Ping: func(ctx context.Context) error { return mongoClient.Ping(ctx, nil) }},
		},
		Clock:             clock,
		Location:          loc,
		Currency:          cfg.Currency,
		PrefillPastDays:   cfg.PrefillPastDays,
		PrefillFutureDays: cfg.PrefillFutureDays,
	}, logger)

	r := httphandler.SetupRouter(handlers, logger, httphandler.RouterOptions{
		Verifier:    verifier,
		RateLimiter: rl,
		Limits: httphandler.RateLimits{
			PerUser: cfg.RateLimitPerUser,
			PerIP:   cfg.RateLimitPerIP,
			Window:  cfg.RateLimitWindow,
		},
		Idempotency: idemp,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()
	logger.WithField("addr", cfg.HTTPAddr).Info("Server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}
