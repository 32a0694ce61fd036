package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"streamhub/internal/api"
	"streamhub/internal/observability/logging"
	"streamhub/internal/observability/metrics"
)

const loginPath = "/api/auth/login"

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type Config struct {
	Addr      string
	TLS       TLSConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Security  SecurityConfig
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
	// Media serves locally stored assets under /media/ when set.
	Media http.Handler
}

type Server struct {
	httpServer  *http.Server
	router      chi.Router
	logger      *slog.Logger
	rateLimiter *rateLimiter
	tls         TLSConfig
}

func New(handler *api.Handler, cfg Config) (*Server, error) {
	if handler == nil {
		return nil, errors.New("api handler is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logging.WithComponent(logger, "server")
	recorder := metrics.Or(cfg.Metrics)

	policy, err := newCORSPolicy(cfg.CORS)
	if err != nil {
		return nil, err
	}
	resolver, err := newClientIPResolver(cfg.RateLimit)
	if err != nil {
		return nil, err
	}
	rl, err := newRateLimiter(cfg.RateLimit)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware(logger))
	r.Use(logging.RequestLogger(logging.RequestLoggerConfig{Logger: logger, SkipPaths: []string{"/metrics", "/health"}}))
	r.Use(metrics.HTTPMiddleware(recorder))
	r.Use(chimw.Recoverer)
	r.Use(securityHeadersMiddleware(cfg.Security))
	r.Use(corsMiddleware(policy, logger))
	r.Use(rateLimitMiddleware(rl, resolver, logger))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeMiddlewareError(w, http.StatusNotFound, "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeMiddlewareError(w, http.StatusMethodNotAllowed, fmt.Sprintf("Method %s not allowed", r.Method))
	})

	r.Get("/", handler.Index)
	r.Get("/health", handler.Health)
	r.Method(http.MethodGet, "/metrics", recorder.Handler())
	if cfg.Media != nil {
		r.Method(http.MethodGet, "/media/*", http.StripPrefix("/media", cfg.Media))
		r.Method(http.MethodHead, "/media/*", http.StripPrefix("/media", cfg.Media))
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", handler.Signup)
			r.Post("/login", handler.Login)
			r.With(handler.RequireAuth).Get("/me", handler.Me)
			r.With(handler.RequireAuth).Post("/logout", handler.Logout)
		})

		r.Route("/users", func(r chi.Router) {
			r.Use(handler.RequireAuth)
			r.Get("/", handler.ListUsers)
			r.Get("/history", handler.WatchHistory)
			r.Get("/liked", handler.LikedVideos)
		})

		r.Route("/videos", func(r chi.Router) {
			r.Get("/", handler.ListVideos)
			r.Get("/search", handler.SearchVideos)
			r.With(handler.RequireAuth).Get("/user", handler.UserVideos)
			r.With(handler.RequireAuth).Post("/", handler.UploadVideo)
			r.Get("/{id}", handler.GetVideo)
			r.With(handler.RequireAuth).Put("/{id}", handler.UpdateVideo)
			r.With(handler.RequireAuth).Post("/{id}/like", handler.ToggleLike)
			r.With(handler.RequireAuth).Post("/{id}/view", handler.RecordView)
		})

		r.Route("/chat", func(r chi.Router) {
			r.Use(handler.RequireAuth)
			r.Get("/", handler.ListChats)
			r.Post("/", handler.CreateChat)
			r.Get("/ws", handler.ChatWebsocket)
			r.Get("/{chatId}", handler.ChatMessages)
			r.Post("/{chatId}/messages", handler.CreateMessage)
		})
	})

	// No read or write timeout: uploads and websocket sessions are long-lived.
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	srv := &Server{
		httpServer:  httpServer,
		router:      r,
		logger:      logger,
		rateLimiter: rl,
		tls: TLSConfig{
			CertFile: strings.TrimSpace(cfg.TLS.CertFile),
			KeyFile:  strings.TrimSpace(cfg.TLS.KeyFile),
		},
	}
	if srv.tls.CertFile != "" && srv.tls.KeyFile != "" {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return srv, nil
}

// Handler exposes the routed middleware chain, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// HTTPServer returns the configured *http.Server for serverutil.Run.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

func (s *Server) TLS() TLSConfig {
	return s.tls
}

// Ping reports the health of the shared login limiter store.
func (s *Server) Ping(ctx context.Context) error {
	return s.rateLimiter.Ping(ctx)
}

// Close releases the rate limiter's Redis connection, if any. The HTTP server
// itself is stopped by serverutil.Run.
func (s *Server) Close() error {
	return s.rateLimiter.Close()
}

func rateLimitMiddleware(rl *rateLimiter, resolver *clientIPResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rl == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.AllowRequest() {
				writeMiddlewareError(w, http.StatusTooManyRequests, "Too many requests")
				return
			}
			if r.Method == http.MethodPost && r.URL.Path == loginPath {
				ip, _ := resolver.ClientIPFromRequest(r)
				allowed, retryAfter, err := rl.AllowLogin(r.Context(), ip)
				if err != nil {
					if logger != nil {
						logging.WithContext(r.Context(), logger).Error("rate limiter failure", "error", err)
					}
					writeMiddlewareError(w, http.StatusServiceUnavailable, "Rate limiter unavailable")
					return
				}
				if !allowed {
					if retryAfter > 0 {
						seconds := int(retryAfter.Round(time.Second) / time.Second)
						if seconds < 1 {
							seconds = 1
						}
						w.Header().Set("Retry-After", strconv.Itoa(seconds))
					}
					writeMiddlewareError(w, http.StatusTooManyRequests, "Too many login attempts, please try again later")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeMiddlewareError normalises middleware error responses to the API JSON shape.
func writeMiddlewareError(w http.ResponseWriter, status int, message string) {
	api.WriteJSON(w, status, map[string]string{"message": message})
}
