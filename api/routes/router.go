package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/postpilot-hq/postpilot-backend/api/controllers"
	"github.com/postpilot-hq/postpilot-backend/api/middleware"
	"github.com/postpilot-hq/postpilot-backend/internal/content"
	"github.com/postpilot-hq/postpilot-backend/internal/engagement"
	"github.com/postpilot-hq/postpilot-backend/internal/ledger"
	"github.com/postpilot-hq/postpilot-backend/internal/token"
	"github.com/postpilot-hq/postpilot-backend/pkg/config"
	"github.com/postpilot-hq/postpilot-backend/pkg/logger"
)

// RouterParams bundles everything the HTTP surface needs.
type RouterParams struct {
	Config    *config.Config
	Logger    *logger.Logger
	Content   *content.Service
	Ledger    *ledger.Repository
	Snapshots *engagement.Repository
	Tokens    *token.Store
	Pingers   map[string]controllers.Pinger
	Registry  *prometheus.Registry
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, params.Pingers))
	})

	if params.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(params.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/content", func(r chi.Router) {
			r.Post("/", controllers.CreateContent(params.Content, logg))
			r.Get("/", controllers.ListContent(params.Content, logg))
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", controllers.GetContent(params.Content, logg))
				r.Put("/", controllers.UpdateContent(params.Content, logg))
				r.Delete("/", controllers.DeleteContent(params.Content, logg))
				r.Post("/schedule", controllers.ScheduleContent(params.Content, logg))
				r.Post("/unschedule", controllers.UnscheduleContent(params.Content, logg))
				r.Post("/reset", controllers.ResetContent(params.Content, logg))
				r.Get("/attempts", controllers.ListContentAttempts(params.Content, params.Ledger, logg))
				r.Get("/engagement", controllers.ListContentEngagement(params.Content, params.Snapshots, logg))
			})
		})

		r.Route("/linkedin", func(r chi.Router) {
			r.Post("/credentials", controllers.StoreCredential(params.Tokens, logg))
			r.Delete("/credentials", controllers.DeleteCredential(params.Tokens, logg))
		})
	})

	return r
}
