package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/IliaW/recipe-box/config"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(svc RecipeService, cfg *config.Config, log *slog.Logger) http.Handler {
	h := &Handler{
		svc:           svc,
		photoMaxBytes: cfg.PhotoSettings.MaxBytes,
		photoMaxAge:   cfg.PhotoSettings.CacheTime,
		version:       cfg.Version,
		log:           log,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(rememberPeer)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(cors(cfg.HttpSettings.AllowedOrigin))

	r.Get("/health", h.Health)
	r.Get("/photos/*", h.ServePhoto)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(SecretAuth(cfg.AuthSettings.SharedSecret, cfg.AuthSettings.MaxFailures,
			cfg.AuthSettings.FailureWindow, log))

		r.Get("/recipes", h.ListRecipes)
		r.Post("/recipes", h.CreateRecipe)
		r.Get("/recipes/{id}", h.GetRecipe)
		r.Delete("/recipes/{id}", h.DeleteRecipe)
		r.Post("/recipes/{id}/restore", h.RestoreRecipe)
		r.Put("/recipes/{id}/photo", h.UploadPhoto)
		r.Post("/recipes/{id}/enrich", h.EnrichRecipe)
		r.Get("/lookup/title", h.LookupTitle)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, log, newAppError(http.StatusNotFound, "not_found", "route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, log, newAppError(http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed"))
	})

	return r
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request served.",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("took", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}

// cors lets the single-page frontend call the API from its own origin.
func cors(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
