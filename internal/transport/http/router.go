package transporthttp

import (
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (d *ServerDeps) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(Instrument)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: d.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", d.HandleHealthz)
	r.Get("/readyz", d.HandleReadyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Authenticate(d.Auth))

		r.Route("/playback-events", func(r chi.Router) {
			r.With(BodyLimit(d.MaxBodyBytes), RequireJSON).Post("/", d.HandleIngest)

			r.Group(func(r chi.Router) {
				if d.RateLimitPerMin > 0 {
					r.Use(httprate.Limit(d.RateLimitPerMin, time.Minute,
						httprate.WithKeyFuncs(httprate.KeyByIP),
						httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
							WriteError(w, http.StatusTooManyRequests, "Too many requests", "rate limit exceeded, retry later")
						}),
					))
				}
				r.Get("/report", d.HandleReport)
				r.Get("/stats", d.HandleStats)
			})
		})

		if d.PurgeEnabled {
			r.Delete("/admin/playback-events", d.HandlePurge)
		}
	})

	return r
}

// DrainBody consumes the rest of the body so the connection can be reused.
func DrainBody(r *http.Request) {
	if r.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, r.Body)
	_ = r.Body.Close()
}
