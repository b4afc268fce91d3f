package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// RouterConfig — настройки маршрутизатора.
type RouterConfig struct {
	// CORSOrigins — разрешённые origins. Пустой список отключает CORS.
	CORSOrigins []string
}

// Routes возвращает http.Handler со всеми маршрутами API.
func (h *Handler) Routes(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(Recovery(h.logger))
	r.Use(Logging(h.logger))

	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}).Handler)
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		NotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		MethodNotAllowed(w)
	})

	r.Get("/healthz", Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Process instances
		r.Route("/processes/instances", func(r chi.Router) {
			r.Post("/", h.CreateInstance)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetInstance)

				// Signals
				r.Post("/signal/RESTResponded", h.SignalResponded)
				r.Post("/signal/imAlive", h.SignalImAlive)
				r.Post("/signal/{event}", h.SignalEvent)
			})
		})

		// Work items
		r.Route("/workitems", func(r chi.Router) {
			r.Post("/", h.CreateWorkItem)
			r.Get("/{id}", h.GetWorkItem)
			r.Post("/{id}/abort", h.AbortWorkItem)
		})
	})

	return r
}

// Health отвечает на проверку живости.
// GET /healthz
func Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
