//go:build integration

package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trailpay/platform/internal/app"
	"github.com/trailpay/platform/internal/auth"
	"github.com/trailpay/platform/internal/infra"
	"github.com/trailpay/platform/internal/provider"
	"github.com/trailpay/platform/internal/repository"
)

const (
	TestJWTSecret           = "integration-test-secret"
	TestStripeWebhookSecret = "whsec_test_integration_secret"
	TestDBHost              = "localhost"
	TestDBPort              = 5435
	TestDBUser              = "trailpay"
	TestDBPass              = "trailpay"
	TestDBName              = "trailpay_test"
)

// TestEnv holds all resources for an integration test.
type TestEnv struct {
	Server   *httptest.Server
	Stripe   *StripeStub
	Pool     *pgxpool.Pool
	JWTMgr   *auth.JWTManager
	Services *app.Services
	t        *testing.T
}

// StripeStub answers checkout session creation like the Stripe API does.
type StripeStub struct {
	*httptest.Server
	created atomic.Int64
	fail    atomic.Bool
}

// FailNext makes checkout creation return 500 until reset.
func (s *StripeStub) FailNext(fail bool) { s.fail.Store(fail) }

// Created returns the number of checkout sessions opened.
func (s *StripeStub) Created() int64 { return s.created.Load() }

func newStripeStub() *StripeStub {
	stub := &StripeStub{}
	stub.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkout/sessions" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if stub.fail.Load() {
			http.Error(w, `{"error":{"message":"stub failure"}}`, http.StatusInternalServerError)
			return
		}
		n := stub.created.Add(1)
		id := fmt.Sprintf("cs_test_%d_%d", time.Now().UnixNano(), n)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"id": id, "url": "https://checkout.stripe.test/" + id})
	}))
	return stub
}

var (
	sharedPool *pgxpool.Pool
	poolOnce   sync.Once
	poolErr    error
)

func testDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		TestDBUser, TestDBPass, TestDBHost, TestDBPort, TestDBName)
}

func bootstrapDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		TestDBUser, TestDBPass, TestDBHost, TestDBPort, "trailpay")
}

func ensureTestDB() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bPool, err := pgxpool.New(ctx, bootstrapDSN())
	if err != nil {
		return fmt.Errorf("connect bootstrap db: %w", err)
	}
	defer bPool.Close()

	var exists bool
	err = bPool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", TestDBName).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check db exists: %w", err)
	}

	if !exists {
		_, err = bPool.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s", TestDBName))
		if err != nil {
			return fmt.Errorf("create test db: %w", err)
		}
	}

	return nil
}

func runMigrations() error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return infra.RunMigrations(testDSN(), infra.MigrationsDir(""), logger)
}

func getSharedPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	poolOnce.Do(func() {
		if err := ensureTestDB(); err != nil {
			poolErr = err
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var err error
		sharedPool, err = infra.NewPostgresPool(ctx, &infra.Config{DatabaseURL: testDSN(), PGMaxConns: 10, PGMinConns: 1})
		if err != nil {
			poolErr = err
			return
		}

		if err := runMigrations(); err != nil {
			poolErr = fmt.Errorf("run migrations: %w", err)
			sharedPool.Close()
			sharedPool = nil
			return
		}
	})

	if poolErr != nil {
		t.Fatalf("failed to initialize test pool: %v", poolErr)
	}
	return sharedPool
}

// NewTestEnv creates a test environment with an httptest.Server backed by the real
// router, the test DB and a stubbed Stripe API.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	pool := getSharedPool(t)
	stripe := newStripeStub()

	cfg := &infra.Config{
		RedisPrefix:          "trailpay-test:",
		StripeSuccessURL:     "http://localhost:3000/trails/{trail}?payment=success",
		StripeCancelURL:      "http://localhost:3000/trails/{trail}?payment=cancelled",
		WatchSampleInterval:  100 * time.Millisecond,
		WatchCompletePercent: 80,
		TrailCacheFresh:      time.Minute,
		TrailCacheStale:      10 * time.Minute,
		PlayerEventRateLimit: 1000,
	}
	jwtMgr := auth.NewJWTManager(TestJWTSecret, 24*time.Hour, 8*time.Hour)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	hub := infra.NewHub(logger)

	services := app.NewServices(app.ServiceDeps{
		Config: cfg,
		DB:     repository.NewTxRunner(pool),
		Gate: provider.NewStripeProvider("sk_test_integration", TestStripeWebhookSecret,
			provider.WithStripeBaseURL(stripe.URL)),
		Hub:    hub,
		Logger: logger,
	})

	router := app.NewRouter(app.RouterDeps{
		Services:    services,
		Hub:         hub,
		JWTMgr:      jwtMgr,
		Logger:      logger,
		CORSOrigins: "*",
	})

	server := httptest.NewServer(router)

	env := &TestEnv{
		Server:   server,
		Stripe:   stripe,
		Pool:     pool,
		JWTMgr:   jwtMgr,
		Services: services,
		t:        t,
	}

	t.Cleanup(func() {
		server.Close()
		stripe.Close()
		services.Sessions.Shutdown()
		env.CleanAll()
	})

	// Clean before test to ensure isolation
	env.CleanAll()

	return env
}
