package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pribylovaa/apparel-admin/internal/http/handlers"
	"github.com/pribylovaa/apparel-admin/internal/http/middleware"
	"github.com/pribylovaa/apparel-admin/internal/ratelimit"
	"github.com/pribylovaa/apparel-admin/internal/service"
)

// Options — параметры сборки HTTP-роутера.
type Options struct {
	Logger         *slog.Logger
	Timeout        time.Duration
	BasePath       string // JSON API, например "/api"; пустой — "/api".
	AllowedOrigins []string
	IdentitySecret string // пустой — проверка токенов отключена
	IdentityIssuer string
	ScanLimiter    *ratelimit.Keyed // на устройство
	ScanIPLimiter  *ratelimit.Keyed // на адрес
	Metrics        *middleware.Metrics
	// Health — проверка готовности для /healthz (nil — всегда готов).
	Health func(ctx context.Context) error
	// TrustProxyHeaders — адрес клиента из X-Forwarded-For/X-Real-IP.
	TrustProxyHeaders bool
}

// NewRouter собирает http.Handler с chi и подключёнными middleware/роутами.
//
// Публичная часть: /livez, /healthz, /metrics, /pickup/{id} (share-ссылка),
// /scan (адрес из QR-кода). JSON API — под BasePath за проверкой identity-токена.
func NewRouter(h *handlers.Handlers, opts Options) http.Handler {
	if opts.BasePath == "" {
		opts.BasePath = "/api"
	}

	root := chi.NewRouter()

	// Middleware (внешний -> внутренний).
	root.Use(
		middleware.Recover(),            // безопасно ловим паники
		middleware.RequestID(),          // формируем/прокидываем X-Request-Id (до логирования!)
		middleware.Logging(opts.Logger), // кладём request-scoped логгер в контекст и логируем
	)
	if opts.Metrics != nil {
		root.Use(opts.Metrics.Middleware())
	}
	if len(opts.AllowedOrigins) > 0 {
		root.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id", "X-Client-Id"},
			ExposedHeaders:   []string{"X-Request-Id", "X-Entity-Id", "Location"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	registerProbes(root, opts.Health)

	scanLimit := middleware.RateLimit(middleware.RateLimitOptions{
		PerClient:  opts.ScanLimiter,
		PerIP:      opts.ScanIPLimiter,
		TrustProxy: opts.TrustProxyHeaders,
	})

	// Публичные страницы.
	root.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(opts.Timeout))
		r.Get("/pickup/{id}", h.PublicPickup)
		r.With(middleware.ClientID(), scanLimit).Get("/scan", h.ScanLink)
	})

	identity := middleware.Identity(opts.IdentitySecret, opts.IdentityIssuer)

	root.Route(opts.BasePath, func(api chi.Router) {
		api.Group(func(r chi.Router) {
			r.Use(identity, middleware.Timeout(opts.Timeout)) // общий дедлайн запроса
			registerRoutes(r, h)
		})

		// Scan: идентификатор устройства обязателен.
		api.Route("/scan", func(r chi.Router) {
			// SSE-поток: без дедлайна; EventSource передаёт токен в query.
			r.With(middleware.TokenFromQuery(), identity, middleware.ClientID()).
				Get("/stream", h.ScanStream)

			r.Group(func(r chi.Router) {
				r.Use(identity, middleware.ClientID(), middleware.Timeout(opts.Timeout), scanLimit)
				r.Post("/", h.ScanItem)
				r.Post("/session", h.StartScan)
				r.Get("/session", h.CurrentScan)
				r.Delete("/session", h.EndScan)
			})
		})
	})

	return root
}

// registerProbes — liveness/readiness и метрики Prometheus.
func registerProbes(r chi.Router, health func(ctx context.Context) error) {
	r.Get("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if health != nil {
			if err := health(req.Context()); err != nil {
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", promhttp.Handler())
}

// registerRoutes — единая точка регистрации REST-эндпойнтов JSON API.
func registerRoutes(r chi.Router, h *handlers.Handlers) {
	// master data
	mountCatalog(r, "/items", handlers.NewCatalog(h.Items, h.MaxUploadBytes))
	mountCatalog(r, "/fabrics", handlers.NewCatalog(h.Fabrics, h.MaxUploadBytes))
	mountCatalog(r, "/patterns", handlers.NewCatalog(h.Patterns, h.MaxUploadBytes))
	r.Post("/search/reindex", h.Reindex)

	// exhibitions
	exhibitions := handlers.NewCatalog(h.Exhibitions.Catalog, h.MaxUploadBytes)
	r.Route("/exhibitions", func(r chi.Router) {
		r.Get("/", exhibitions.List)
		r.Post("/", exhibitions.Create)
		r.Get("/{id}", exhibitions.Get)
		r.Patch("/{id}", exhibitions.Update)
		r.Delete("/{id}", exhibitions.Delete)
		r.Post("/{id}/publish", h.PublishExhibition)
		r.Post("/{id}/items", h.AddExhibitionItems)
		r.Delete("/{id}/items/{itemID}", h.RemoveExhibitionItem)
		r.Get("/{id}/catalog.pdf", h.ExportExhibition)
	})

	// pickups
	pickups := handlers.NewCatalog(h.Pickups.Catalog, h.MaxUploadBytes)
	r.Route("/pickups", func(r chi.Router) {
		r.Get("/", pickups.List)
		r.Post("/", h.CreatePickup)
		r.Get("/code", h.GeneratePickupCode)
		r.Get("/{id}", pickups.Get)
		r.Patch("/{id}", h.UpdatePickup)
		r.Delete("/{id}", pickups.Delete)
		r.Post("/{id}/share", h.SharePickup)
		r.Post("/{id}/items", h.AddPickupItem)
		r.Delete("/{id}/items/{itemID}", h.RemovePickupItem)
		r.Get("/{id}/export.pdf", h.ExportPickup)
	})

	// loans
	r.Route("/loans", func(r chi.Router) {
		r.Get("/", h.ListLoans)
		r.Post("/", h.CheckOut)
		r.Get("/overdue", h.OverdueLoans)
		r.Get("/{id}", h.GetLoan)
		r.Post("/{id}/return", h.ReturnLoan)
	})
}

// mountCatalog регистрирует CRUD мастер-данных вместе с изображениями.
func mountCatalog[T service.Entity](r chi.Router, prefix string, c *handlers.Catalog[T]) {
	r.Route(prefix, func(r chi.Router) {
		r.Get("/", c.List)
		r.Post("/", c.Create)
		r.Get("/search", c.Search)
		r.Get("/{id}", c.Get)
		r.Patch("/{id}", c.Update)
		r.Delete("/{id}", c.Delete)
		r.Post("/{id}/images", c.AttachImage)
		r.Delete("/{id}/images", c.RemoveImage)
	})
}
