package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sony/gobreaker/v2"

	"github.com/angelmondragon/cartsync/api/controllers"
	"github.com/angelmondragon/cartsync/api/routes"
	"github.com/angelmondragon/cartsync/internal/cartsync"
	"github.com/angelmondragon/cartsync/internal/remotecart"
	"github.com/angelmondragon/cartsync/internal/sessions"
	"github.com/angelmondragon/cartsync/internal/users"
	"github.com/angelmondragon/cartsync/pkg/config"
	"github.com/angelmondragon/cartsync/pkg/instance"
	"github.com/angelmondragon/cartsync/pkg/logger"
	"github.com/angelmondragon/cartsync/pkg/metrics"
	pkgredis "github.com/angelmondragon/cartsync/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cartsync-api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "cartsync-api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"instance": instance.GetID(),
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	cartMetrics := metrics.NewCartSyncMetrics(reg)

	remote, err := remotecart.NewClient(cfg.Backend.BaseURL,
		remotecart.WithHTTPClient(&http.Client{Timeout: cfg.Backend.HTTPTimeout}),
		remotecart.WithAPIKey(cfg.Backend.APIKey),
		remotecart.WithLogger(logg),
		remotecart.WithBreaker(cfg.Backend.BreakerMaxFailures, cfg.Backend.BreakerOpenTimeout),
	)
	requireResource(ctx, logg, "cart backend client", err)

	readiness := map[string]controllers.ReadinessCheck{
		"cart_backend": func(context.Context) error {
			if remote.BreakerState() == gobreaker.StateOpen {
				return gobreaker.ErrOpenState
			}
			return nil
		},
	}

	resolverParams := users.ResolverParams{
		Lookup:   remote,
		CacheTTL: cfg.Redis.UserIDTTL,
		Logger:   logg,
	}
	var idempotencyStore pkgredis.IdempotencyStore
	if cfg.Redis.Enabled() {
		redisClient, err := pkgredis.New(ctx, cfg.Redis, logg)
		requireResource(ctx, logg, "redis", err)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(ctx, "error closing redis", err)
			}
		}()
		resolverParams.Cache = redisClient
		idempotencyStore = redisClient
		readiness["redis"] = redisClient.Ping
	} else {
		logg.Warn(ctx, "redis not configured, user ids are not cached and idempotency keys are ignored")
	}

	resolver, err := users.NewResolver(resolverParams)
	requireResource(ctx, logg, "user resolver", err)

	registry, err := sessions.NewRegistry(sessions.RegistryParams{
		Factory:   storeFactory(cfg.Cart, remote, resolver, logg, cartMetrics),
		Logger:    logg,
		Metrics:   cartMetrics,
		Forgetter: resolver,
	})
	requireResource(ctx, logg, "session registry", err)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, registry, idempotencyStore, reg, readiness),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(logg.WithField(ctx, "addr", addr), "starting api server")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-runCtx.Done():
		logg.Info(ctx, "shutting down api server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "api server shutdown failed", err)
	}
	if err := registry.CloseAll(shutdownCtx); err != nil {
		logg.Error(ctx, "flushing cart sessions failed", err)
	}
}

func storeFactory(cfg config.CartConfig, remote cartsync.RemoteCart, resolver cartsync.UserResolver, logg *logger.Logger, m *metrics.CartSyncMetrics) sessions.StoreFactory {
	return func(credential string) (*cartsync.Store, error) {
		return cartsync.NewStore(cartsync.StoreParams{
			Remote:         remote,
			Resolver:       resolver,
			Credential:     credential,
			Logger:         logg,
			Metrics:        m,
			DebounceWindow: cfg.DebounceWindow,
			RemoteTimeout:  cfg.RemoteTimeout,
			StaleAfter:     cfg.StaleAfter,
			DeliveryFee:    cfg.DeliveryFeeAmount(),
			FallbackPrice:  cfg.FallbackPriceAmount(),
			MediaBaseURL:   cfg.MediaBaseURL,
		})
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("failed to initialize %s", resource), err)
	os.Exit(1)
}
