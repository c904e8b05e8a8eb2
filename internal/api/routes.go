package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes builds the router. allowedOrigins configures CORS for the /api
// group; an empty list allows any origin without credentials.
func (s *Server) Routes(allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	origins := allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: len(allowedOrigins) > 0,
		MaxAge:           300,
	}))

	r.Get("/health", s.health.HandleHealth)
	r.Get("/health/live", s.health.HandleLiveness)
	r.Get("/health/ready", s.health.HandleReadiness)
	r.Handle("/metrics", promhttp.Handler())

	// Mail clients hit these directly, so they sit outside /api.
	r.Get("/unsubscribe/{token}", s.handleUnsubscribePage)
	r.Post("/unsubscribe/{token}", s.handleUnsubscribeOneClick)
	r.Post("/webhooks/ses", s.handleSESWebhook)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Post("/campaigns", s.handleCreateCampaign)
		r.Get("/stores/{storeID}/campaigns", s.handleListCampaigns)
		r.Route("/campaigns/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetCampaign)
			r.Delete("/", s.handleDeleteCampaign)
			r.Post("/toggle", s.handleToggleCampaign)
			r.Post("/steps", s.handleAddStep)
			r.Post("/enroll", s.handleEnroll)
			r.Post("/unenroll", s.handleUnenroll)
		})
		r.Patch("/steps/{id}", s.handleUpdateStep)
		r.Delete("/steps/{id}", s.handleDeleteStep)

		r.Get("/enrollments", s.handleEnrollmentsByEmail)
		r.Post("/events", s.handleTriggerEvent)

		r.Get("/suppression/check", s.handleCheckSuppression)
		r.Post("/suppression/check-batch", s.handleCheckSuppressionBatch)
		r.Post("/suppression/bulk-bounced", s.handleBulkBounced)
		r.Post("/suppression/unsubscribe", s.handleUnsubscribe)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		// The route pattern keeps unsubscribe tokens out of the log.
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		s.log.Debug("request", "method", r.Method, "route", route, "status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(), "request_id", middleware.GetReqID(r.Context()))
	})
}
