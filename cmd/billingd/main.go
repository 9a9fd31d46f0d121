// Command billingd runs the subscription billing service: checkout and
// portal session creation, provider event reconciliation, and entitlement
// resolution over HTTP.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/billingkit/modules/billing"
	core "github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/config"
	"github.com/dmitrymomot/billingkit/pkg/httpserver"
	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/pg"
	"github.com/dmitrymomot/billingkit/pkg/redis"
	svc "github.com/dmitrymomot/billingkit/svc/billing"
)

type appConfig struct {
	Provider string `env:"BILLING_PROVIDER" envDefault:"stripe"` // stripe or paddle

	Billing svc.Config
	Logger  logger.Config
	Server  httpserver.Config
	PG      pg.Config
	Redis   redis.Config
	Stripe  core.StripeConfig
	Paddle  core.PaddleConfig
}

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		return err
	}

	log := logger.FromConfig("billingd", cfg.Logger)

	pool, err := pg.Connect(ctx, cfg.PG)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, cfg.PG, log); err != nil {
		return err
	}

	redisClient, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	catalog, err := core.NewCatalog(ctx, svc.NewFileSource(cfg.Billing.CatalogPath))
	if err != nil {
		return err
	}

	provider, err := newProvider(cfg)
	if err != nil {
		return err
	}

	store := svc.NewPGStore(pool)

	service := core.NewService(catalog, provider, store,
		core.WithLogger(log),
		core.WithRetry(cfg.Billing.RetryAttempts, cfg.Billing.RetryInterval),
	)
	reconciler := core.NewReconciler(catalog, store, core.WithReconcilerLogger(log))
	resolver := core.NewResolver(catalog, store, nil, cfg.Billing.Policy())
	cached := svc.NewCachedResolver(resolver, redisClient, cfg.Billing.EntitlementTTL, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/health", health(pg.Healthcheck(pool), redis.Healthcheck(redisClient)))
	r.Mount("/billing", billing.Router(service, reconciler, cached,
		billing.WithLogger(log),
		billing.WithInvalidator(cached),
	))

	return httpserver.Run(ctx, cfg.Server, r, log)
}

func newProvider(cfg appConfig) (core.Provider, error) {
	switch cfg.Provider {
	case "stripe":
		return core.NewStripeProvider(cfg.Stripe)
	case "paddle":
		return core.NewPaddleProvider(cfg.Paddle)
	default:
		return nil, fmt.Errorf("unknown billing provider %q", cfg.Provider)
	}
}

func health(probes ...func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, probe := range probes {
			if err := probe(r.Context()); err != nil {
				slog.ErrorContext(r.Context(), "health probe failed", slog.Any("error", err))
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	}
}
