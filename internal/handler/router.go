package handler

import (
	"net/http"

	"github.com/autolavaggio/kiosk-controller/internal/infra/observability"
	"github.com/autolavaggio/kiosk-controller/internal/port"
	"github.com/autolavaggio/kiosk-controller/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// RouterConfig carries the handler-level wiring knobs.
type RouterConfig struct {
	// WebviewOrigin is the kiosk UI origin allowed by CORS.
	WebviewOrigin string

	// MaintenanceJWTSecret signs the maintenance API tokens. Empty disables
	// the maintenance endpoints.
	MaintenanceJWTSecret string
}

// NewRouter creates the HTTP router with all routes and middleware.
// Every kiosk event endpoint answers with the post-event snapshot.
func NewRouter(
	wf *service.Workflow,
	concierge *service.Concierge,
	catalog port.ServiceCatalog,
	metrics *observability.Metrics,
	cfg RouterConfig,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.WebviewOrigin, "tauri://localhost"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
	}))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(wf))
	r.Get("/readyz", readyzHandler(wf))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {

		// Catalog and state are read-only and always available.
		r.Get("/services", listServicesHandler(catalog))
		r.Get("/state", stateHandler(wf))

		// Kiosk workflow events.
		r.Post("/scan", scanHandler(wf, logger))
		r.Post("/services/{serviceId}/select", selectServiceHandler(wf, logger))
		r.Post("/terms/accept", acceptTermsHandler(wf, logger))
		r.Post("/terms/dismiss", dismissTermsHandler(wf, logger))
		r.Post("/payment/retry", retryPaymentHandler(wf, logger))
		r.Post("/invoice/final-consumer", finalConsumerHandler(wf, logger))
		r.Post("/invoice/identification", requestIdentificationHandler(wf, logger))
		r.Post("/invoice/identification/submit", submitIdentificationHandler(wf, logger))
		r.Post("/back", backHandler(wf, logger))

		// Avatar concierge.
		r.Post("/concierge/chat", conciergeChatHandler(concierge, logger))

		// Maintenance (protected).
		r.Route("/maintenance", func(r chi.Router) {
			r.Use(MaintenanceAuthMiddleware(cfg.MaintenanceJWTSecret, logger))
			r.Post("/reset", maintenanceResetHandler(wf, logger))
			r.Post("/signal", maintenanceSignalHandler(wf, logger))
			r.Get("/metrics", maintenanceMetricsHandler(metrics))
		})
	})

	return r
}
