package integration_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/robertarktes/salon-booking-settlement/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/salon-booking-settlement/internal/adapters/mongo"
	"github.com/robertarktes/salon-booking-settlement/internal/adapters/rabbit"
	"github.com/robertarktes/salon-booking-settlement/internal/adapters/razorpay"
	redisadapter "github.com/robertarktes/salon-booking-settlement/internal/adapters/redis"
	"github.com/robertarktes/salon-booking-settlement/internal/auth"
	"github.com/robertarktes/salon-booking-settlement/internal/booking"
	"github.com/robertarktes/salon-booking-settlement/internal/cancellation"
	"github.com/robertarktes/salon-booking-settlement/internal/catalog"
	"github.com/robertarktes/salon-booking-settlement/internal/config"
	"github.com/robertarktes/salon-booking-settlement/internal/domain"
	"github.com/robertarktes/salon-booking-settlement/internal/eventlog"
	httphandler "github.com/robertarktes/salon-booking-settlement/internal/http"
	"github.com/robertarktes/salon-booking-settlement/internal/idempotency"
	"github.com/robertarktes/salon-booking-settlement/internal/observability"
	"github.com/robertarktes/salon-booking-settlement/internal/outbox"
	"github.com/robertarktes/salon-booking-settlement/internal/rateLimit"
	"github.com/robertarktes/salon-booking-settlement/internal/settlement"
	"github.com/robertarktes/salon-booking-settlement/internal/slots"
)

const (
	rzpKey    = "rzp_test_key"
	rzpSecret = "rzp_test_secret"
	rzpOrder  = "order_int_1"
)

func startContainer(t *testing.T, req testcontainers.ContainerRequest) testcontainers.Container {
	t.Helper()
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Terminate(ctx) })
	return c
}

func endpoint(t *testing.T, c testcontainers.Container, port string) string {
	t.Helper()
	ctx := context.Background()
	host, err := c.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	if err != nil {
		t.Fatal(err)
	}
	return host + ":" + mapped.Port()
}

type client struct {
	t     *testing.T
	base  string
	token string
}

func (c client) post(path string, body interface{}) (int, map[string]interface{}) {
	c.t.Helper()
	var buf bytes.Buffer
	require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	req, err := http.NewRequest(http.MethodPost, c.base+path, &buf)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Idempotency-Key", uuid.New().String())
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	out := map[string]interface{}{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestIntegration_BookingAndSettlement(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}
	ctx := context.Background()

	crdbContainer := startContainer(t, testcontainers.ContainerRequest{
		Image:        "cockroachdb/cockroach:v24.1.1",
		Cmd:          []string{"start-single-node", "--insecure"},
		ExposedPorts: []string{"26257/tcp", "8080/tcp"},
		WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
	})
	mongoContainer := startContainer(t, testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForListeningPort("27017/tcp"),
	})
	redisContainer := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForExec([]string{"redis-cli", "ping"}),
	})
	rabbitContainer := startContainer(t, testcontainers.ContainerRequest{
		Image:        "rabbitmq:3.13-management",
		ExposedPorts: []string{"5672/tcp", "15672/tcp"},
		WaitingFor:   wait.ForHTTP("/api/health/checks/alarms").WithPort("15672").WithBasicAuth("guest", "guest"),
	})

	cfg := &config.Config{
		CRDBDSN:              "postgresql://root@" + endpoint(t, crdbContainer, "26257") + "/defaultdb?sslmode=disable",
		MongoURI:             "mongodb://" + endpoint(t, mongoContainer, "27017"),
		MongoDB:              "salon",
		RedisAddr:            endpoint(t, redisContainer, "6379"),
		RabbitURL:            "amqp://guest:guest@" + endpoint(t, rabbitContainer, "5672") + "/",
		Timezone:             "UTC",
		Currency:             "INR",
		ProcessorKeyID:       rzpKey,
		ProcessorKeySecret:   rzpSecret,
		ProcessorTimeout:     5 * time.Second,
		ProcessorMaxAttempts: 2,
		PendingTTL:           15 * time.Minute,
		CatalogCacheTTL:      time.Minute,
		IdempotencyTTL:       time.Hour,
		RateLimitPerUser:     100,
		RateLimitPerIP:       1000,
		RateLimitWindow:      time.Minute,
		PrefillFutureDays:    7,
	}
	loc, err := cfg.Location()
	if err != nil {
		t.Fatal(err)
	}
	logger := observability.NewLogger()

	pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)
	repo := crdb.NewRepository(pool)
	if err := repo.Migrate(ctx); err != nil {
		t.Fatal(err)
	}

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = mongoClient.Disconnect(ctx) })
	mongoDB := mongoClient.Database(cfg.MongoDB)
	mongoCatalog := mongoadapter.NewCatalogRepository(mongoDB, logger)
	auditLog := mongoadapter.NewAuditLogger(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	t.Cleanup(func() { _ = redisClient.Close() })
	redisCache := redisadapter.NewCache(redisClient)

	rzp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"` + rzpOrder + `","amount":1300,"currency":"INR","status":"created"}`))
	}))
	t.Cleanup(rzp.Close)

	clock := domain.SystemClock{}
	merchants := catalog.NewService(mongoCatalog, redisCache, cfg.CatalogCacheTTL, logger)
	availability := slots.NewAvailability(slots.NewGenerator(repo, merchants, clock, loc, logger), repo)
	settler := settlement.NewEngine(repo, razorpay.NewClient(rzp.URL, cfg.ProcessorKeyID, cfg.ProcessorKeySecret, cfg.ProcessorTimeout), auditLog, logger, settlement.Options{
		PlatformFee: 200,
		Currency:    cfg.Currency,
		MaxAttempts: cfg.ProcessorMaxAttempts,
	})
	bookings := booking.NewOrchestrator(repo, availability, merchants, settler, auditLog, clock, logger, booking.Options{
		Location:       loc,
		AllowSynthesis: true,
		PendingTTL:     cfg.PendingTTL,
	})
	cancels := cancellation.NewEngine(repo, merchants, settler, clock, logger, true)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
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
		},
		Clock:             clock,
		Location:          loc,
		Currency:          cfg.Currency,
		PrefillFutureDays: cfg.PrefillFutureDays,
	}, logger)
	router := httphandler.SetupRouter(handlers, logger, httphandler.RouterOptions{
		Verifier:    auth.NewVerifierFromKey(&key.PublicKey),
		RateLimiter: rateLimit.NewRateLimiter(redisClient),
		Limits: httphandler.RateLimits{
			PerUser: cfg.RateLimitPerUser,
			PerIP:   cfg.RateLimitPerIP,
			Window:  cfg.RateLimitWindow,
		},
		Idempotency: idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), cfg.IdempotencyTTL),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = rabbitConn.Close() })
	consumer, err := rabbit.NewConsumer(rabbitConn, "salon.test", "booking.*", "payment.*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = consumer.Close() })
	rabbitPub, err := rabbit.NewPublisher(rabbitConn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = rabbitPub.Close() })

	merchant := domain.DefaultMerchantProfile(uuid.New())
	merchant.Name = "Glow Studio"
	merchant.Services = []domain.Service{{Name: "Haircut", Duration: 30, Price: 1100}}
	merchant.Payout = &domain.PayoutAccount{LinkedAccountID: "acc_glow"}
	if err := mongoCatalog.UpsertMerchant(ctx, merchant); err != nil {
		t.Fatal(err)
	}

	token := func(userID uuid.UUID) string {
		raw, err := jwt.NewWithClaims(jwt.SigningMethodRS256, auth.Claims{
			Role: string(auth.RoleCustomer),
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   userID.String(),
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}).SignedString(key)
		if err != nil {
			t.Fatal(err)
		}
		return raw
	}
	date := domain.DateOf(time.Now(), loc).AddDate(0, 0, 3).Format(domain.DateLayout)
	initiate := func(c client, method, start string) (int, map[string]interface{}) {
		return c.post("/payment/initiate", map[string]interface{}{
			"paymentMethod": method,
			"amount":        13,
			"platformFee":   2,
			"booking": map[string]interface{}{
				"merchantId": merchant.ID,
				"date":       date,
				"time":       start,
				"service":    "Haircut",
			},
		})
	}

	// Coins checkout confirms immediately.
	coinUser := uuid.New()
	if err := repo.CreditCoins(ctx, coinUser, 100); err != nil {
		t.Fatal(err)
	}
	coins := client{t: t, base: srv.URL, token: token(coinUser)}
	status, body := initiate(coins, "coins", "11:00")
	require.Equal(t, http.StatusCreated, status, body)
	bookingBody := body["booking"].(map[string]interface{})
	assert.Equal(t, string(domain.BookingConfirmed), bookingBody["status"])
	balance, err := repo.GetCoins(ctx, coinUser)
	require.NoError(t, err)
	assert.Equal(t, int64(78), balance)

	status, _ = initiate(client{t: t, base: srv.URL, token: token(uuid.New())}, "coins", "11:00")
	assert.Equal(t, http.StatusConflict, status)

	// Processor checkout stays pending until the signed callback arrives.
	cardUser := uuid.New()
	card := client{t: t, base: srv.URL, token: token(cardUser)}
	status, body = initiate(card, "razorpay", "12:00")
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, string(domain.BookingPending), body["booking"].(map[string]interface{})["status"])
	assert.Equal(t, rzpOrder, body["payment"].(map[string]interface{})["orderId"])
	assert.Equal(t, rzpKey, body["payment"].(map[string]interface{})["keyId"])

	status, _ = card.post("/payment/verify", map[string]interface{}{
		"razorpayOrderId":   rzpOrder,
		"razorpayPaymentId": "pay_int_1",
		"razorpaySignature": "forged",
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = card.post("/payment/verify", map[string]interface{}{
		"razorpayOrderId":   rzpOrder,
		"razorpayPaymentId": "pay_int_1",
		"razorpaySignature": razorpay.Sign(rzpSecret, rzpOrder, "pay_int_1"),
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, string(domain.BookingConfirmed), body["booking"].(map[string]interface{})["status"])
	assert.EqualValues(t, 1, body["booking"].(map[string]interface{})["coinsEarned"])

	// Cancelling the coin booking refunds the coins and frees the slot.
	bookingID := bookingBody["id"].(string)
	status, body = coins.post("/v1/bookings/"+bookingID+"/cancel", map[string]interface{}{"reason": "changed plans"})
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 22, body["coinsRefunded"])
	balance, err = repo.GetCoins(ctx, coinUser)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	// Every committed event reaches the broker.
	n, err := outbox.NewPublisher(repo, rabbitPub, logger).Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	consumeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	deliveries, err := consumer.Consume(consumeCtx)
	require.NoError(t, err)
	recorder := eventlog.NewRecorder(auditLog, logger)
	seen := map[string]int{}
	for total := 0; total < n; total++ {
		select {
		case d := <-deliveries:
			seen[d.RoutingKey]++
			recorder.Handle(ctx, d)
		case <-consumeCtx.Done():
			t.Fatalf("received %v before timeout", seen)
		}
	}
	assert.Equal(t, map[string]int{
		domain.EventBookingCreated:   2,
		domain.EventPaymentCompleted: 2,
		domain.EventBookingConfirmed: 2,
		domain.EventBookingCancelled: 1,
	}, seen)

	recorded, err := auditLog.Recent(ctx, eventlog.ActionPrefix+domain.EventBookingConfirmed, 10)
	require.NoError(t, err)
	assert.Len(t, recorded, 2)

	audit, err := auditLog.Recent(ctx, "payment.signature_rejected", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, audit)
}
