package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/salon-booking-settlement/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/salon-booking-settlement/internal/adapters/mongo"
	redisadapter "github.com/robertarktes/salon-booking-settlement/internal/adapters/redis"
	"github.com/robertarktes/salon-booking-settlement/internal/booking"
	"github.com/robertarktes/salon-booking-settlement/internal/cancellation"
	"github.com/robertarktes/salon-booking-settlement/internal/catalog"
	"github.com/robertarktes/salon-booking-settlement/internal/config"
	"github.com/robertarktes/salon-booking-settlement/internal/domain"
	"github.com/robertarktes/salon-booking-settlement/internal/observability"
	"github.com/robertarktes/salon-booking-settlement/internal/settlement"
	"github.com/robertarktes/salon-booking-settlement/internal/sweeper"
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

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()
	observability.InitMetrics()

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database(cfg.MongoDB)
	auditLog := mongoadapter.NewAuditLogger(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	merchants := catalog.NewService(mongoadapter.NewCatalogRepository(mongoDB, logger), redisadapter.NewCache(redisClient), cfg.CatalogCacheTTL, logger)

	clock := domain.SystemClock{}
	// Expiry never creates orders, so the sweeper runs without processor credentials.
	settler := settlement.NewEngine(repo, nil, auditLog, logger, settlement.Options{PlatformFee: fee, Currency: cfg.Currency})
	bookings := booking.NewOrchestrator(repo, nil, merchants, settler, auditLog, clock, logger, booking.Options{
		Location:   loc,
		PendingTTL: cfg.PendingTTL,
	})
	cancels := cancellation.NewEngine(repo, merchants, settler, clock, logger, cfg.ReleaseSlotOnCancel)

	worker := sweeper.New(cancels, bookings, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go worker.Run(ctx, cfg.SweepInterval)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown sweeper")
}
