package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ecofinds/storefront/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RouterConfig struct {
	Sessions           *SessionRegistry
	Metrics            *metrics.Metrics
	Logger             *slog.Logger
	RequestTimeout     time.Duration
	MaxRequestBodySize int64
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxRequestBodySize <= 0 {
		cfg.MaxRequestBodySize = 1 << 20
	}

	cartHandler := NewCartHandler(cfg.Sessions, cfg.RequestTimeout)
	checkoutHandler := NewCheckoutHandler(cfg.Sessions, cfg.RequestTimeout)
	ordersHandler := NewOrdersHandler(cfg.Sessions, cfg.RequestTimeout)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
	}
	r.Use(middleware.RequestSize(cfg.MaxRequestBodySize))
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuthMiddleware)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", cartHandler.GetCart)
			r.Delete("/", cartHandler.ClearCart)
			r.Post("/items", cartHandler.AddItem)
			r.Patch("/items/{line_id}", cartHandler.UpdateQuantity)
			r.Delete("/items/{line_id}", cartHandler.RemoveItem)
		})

		r.Route("/checkout", func(r chi.Router) {
			r.Post("/", checkoutHandler.Checkout)
			r.Get("/", checkoutHandler.GetState)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", ordersHandler.ListOrders)
			r.Get("/{order_id}", ordersHandler.GetOrder)
		})
	})

	return otelhttp.NewHandler(r, "api-gateway")
}
