package devserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	"github.com/dgnsrekt/realtime-sync/internal/bus"
)

// NewRouter wires the realtime endpoints. hub may be nil to disable /bus.
func NewRouter(server *Server, hub *bus.Hub, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(zapLoggerMiddleware(logger))

	r.Get("/healthz", server.HandleHealth)

	// Websocket upgrades must not pass through the gzip writer.
	if hub != nil {
		r.Get("/bus", hub.HandleWS)
	}

	r.Route("/realtime", func(rt chi.Router) {
		rt.Use(gzipMiddleware)
		rt.Use(server.authMiddleware)

		rt.Post("/register", server.HandleRegister)
		rt.Get("/poll", server.HandlePoll)
		rt.Post("/heartbeat", server.HandleHeartbeat)
		rt.Post("/events", server.HandlePublish)
	})

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func zapLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("query", r.URL.RawQuery),
				zap.String("auth", maskToken(r.Header.Get("Authorization"))),
			)
			next.ServeHTTP(w, r)
		})
	}
}

// maskToken keeps the first four characters of a bearer token.
func maskToken(header string) string {
	if header == "" {
		return ""
	}
	token := header
	if len(token) > len("Bearer ")+4 {
		token = token[:len("Bearer ")+4] + "****"
	}
	return token
}

func gzipMiddleware(next http.Handler) http.Handler {
	return gzhttp.GzipHandler(next)
}
