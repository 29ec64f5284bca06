package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"studio/internal/http/handlers"
	"studio/internal/infra"
	"studio/internal/middleware"
)

type Options struct {
	Logger          infra.Logger
	AllowedOrigins  []string
	Locales         *middleware.Locales
	CountryLookup   middleware.CountryLookup
	RateLimitPerMin int
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	locales := opts.Locales
	if locales == nil {
		locales = middleware.NewLocales(nil)
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(opts.Logger),
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.AllowedOrigins),
		middleware.Metrics,
		middleware.I18N(locales, opts.CountryLookup),
	)

	r.Get("/v1/healthz", app.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)

	// Display handles are fetched by the page itself and stay unthrottled.
	r.Get("/v1/blobs/{id}", app.Blob)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(opts.RateLimitPerMin))

		r.Route("/v1/session", func(r chi.Router) {
			r.Put("/stage", app.PutStage)
			r.Put("/character", app.PutCharacter)
			r.Delete("/", app.ClearSession)
		})

		r.Route("/v1/generations", func(r chi.Router) {
			r.Get("/", app.GetGeneration)
			r.Post("/", app.StartGeneration)
			r.Post("/retry", app.RetryGeneration)
		})

		r.Route("/v1/creations", func(r chi.Router) {
			r.Get("/", app.ListCreations)
			r.Post("/", app.SaveCreation)
			r.Get("/{index}/archive", app.ArchiveCreation)
		})

		r.Get("/v1/limits", app.Limits)
		r.Get("/s/{id}", app.Share)
	})

	return r
}
