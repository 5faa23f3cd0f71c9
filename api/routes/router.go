package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/cartsync/api/controllers"
	cartcontrollers "github.com/angelmondragon/cartsync/api/controllers/cart"
	"github.com/angelmondragon/cartsync/api/middleware"
	"github.com/angelmondragon/cartsync/pkg/config"
	"github.com/angelmondragon/cartsync/pkg/logger"
	pkgredis "github.com/angelmondragon/cartsync/pkg/redis"
)

type cartSessions interface {
	cartcontrollers.Sessions
	Release(ctx context.Context, credential string) error
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	sessions cartSessions,
	idempotencyStore pkgredis.IdempotencyStore,
	gatherer prometheus.Gatherer,
	readiness map[string]controllers.ReadinessCheck,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Get("/healthz", controllers.HealthLive(cfg))
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, readiness, logg))
	})
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Post("/session/logout", controllers.SessionLogout(sessions, logg))

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", cartcontrollers.CartFetch(sessions, logg))
			r.Delete("/", cartcontrollers.CartClear(sessions, logg))
			r.Post("/flush", cartcontrollers.CartFlush(sessions, logg))
			r.Post("/reload", cartcontrollers.CartReload(sessions, logg))

			r.With(middleware.Idempotency(idempotencyStore, cfg.Redis.IdempotencyTTL, logg)).Post("/items", cartcontrollers.CartAddItem(sessions, logg))
			r.Patch("/items/{productID}", cartcontrollers.CartUpdateItem(sessions, logg))
			r.Get("/items/{productID}/quantity", cartcontrollers.CartItemQuantity(sessions, logg))
			r.Delete("/items/{productID}", cartcontrollers.CartRemoveItem(sessions, logg))

			r.Post("/coupon", cartcontrollers.CartApplyCoupon(sessions, logg))
			r.Delete("/coupon", cartcontrollers.CartRemoveCoupon(sessions, logg))
		})
	})

	return r
}
