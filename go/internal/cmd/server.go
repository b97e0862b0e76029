package main

import (
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/tavern/go/internal/actor"
	"github.com/mcdev12/tavern/go/internal/config"
)

func setupServer(cfg *config.Config, services *Services) *http.Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(actor.Middleware)

	registerRoutes(r, services)
	setupHealthCheck(r)

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		AllowedHeaders: []string{"*"},
	})

	// Setup HTTP/2 server
	return &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           h2c.NewHandler(c.Handler(r), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func registerRoutes(r chi.Router, services *Services) {
	r.Route("/api/hud", services.HUDStream.Routes)
	r.Route("/api/maps", services.Maps.Routes)
	r.Route("/api/sheets", services.Sheets.Routes)
	r.Route("/api/chat", services.Chat.Routes)
	r.Post("/livekit/token", services.Voice.HandleToken)

	r.Get("/ws/hud", services.HUDStream.HandleStream)
	r.Get("/ws/maps/{mapID}", services.Maps.HandleConnect)
	r.Get("/ws/chat", services.Chat.HandleStream)
	r.Get("/ws/stats", services.Connections.HandleConnectionStats)
}

func setupHealthCheck(r chi.Router) {
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		}()

		next.ServeHTTP(ww, r)
	})
}

// checkOrigin accepts websocket upgrades from the CORS origins; "*" allows any.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(r *http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return slices.ContainsFunc(allowed, func(a string) bool {
			return strings.EqualFold(strings.TrimRight(a, "/"), u.Scheme+"://"+u.Host)
		})
	}
}
