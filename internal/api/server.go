package api

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-analyzer/internal/auth"
	"github.com/lorawan-server/lorawan-analyzer/internal/config"
	"github.com/lorawan-server/lorawan-analyzer/internal/metadata"
	"github.com/lorawan-server/lorawan-analyzer/internal/operator"
	"github.com/lorawan-server/lorawan-analyzer/internal/storage"
	"github.com/lorawan-server/lorawan-analyzer/internal/validation"
)

type ctxKey int

const claimsKey ctxKey = iota

// Deps are the pipeline components the API reads and reconfigures
type Deps struct {
	Store     storage.Store
	Operators *operator.Registry
	Devices   *metadata.Cache
	Sessions  Counter
	Live      LiveFeed
	Nearby    GatewayFinder
	Metrics   http.Handler
	Connected func() bool
}

// GatewayFinder answers radius queries over known gateway positions
type GatewayFinder interface {
	Nearby(ctx context.Context, lat, lon, radiusKm float64) ([]string, error)
}

// Counter reports a current size
type Counter interface {
	Len() int
}

// LiveFeed serves the websocket packet stream
type LiveFeed interface {
	http.Handler
	Len() int
}

// RESTServer represents the REST API server
type RESTServer struct {
	config    *config.Config
	deps      Deps
	auth      *auth.JWTManager
	validator *validation.Validator
	router    chi.Router
	server    *http.Server
	started   time.Time
}

// NewRESTServer creates a new REST API server
func NewRESTServer(cfg *config.Config, deps Deps) *RESTServer {
	s := &RESTServer{
		config:    cfg,
		deps:      deps,
		auth:      auth.NewJWTManager(&cfg.JWT),
		validator: validation.NewValidator(),
		router:    chi.NewRouter(),
		started:   time.Now(),
	}

	if !s.auth.Enabled() {
		log.Warn().Msg("Admin login not configured, operator and hide rule changes are unauthenticated")
	}

	s.setupRoutes()

	s.server = &http.Server{
		Handler:      s.handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all routes
func (s *RESTServer) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)

	origins := s.config.API.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	s.router.Get("/health", s.HandleHealth)
	if s.deps.Metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}

	s.router.Route("/api", func(r chi.Router) {
		s.setupAPIRoutes(r)
	})
}

// Handler returns the root handler, static files included
func (s *RESTServer) Handler() http.Handler {
	return s.server.Handler
}

// handler serves the web UI from api.static_dir for every non API path
func (s *RESTServer) handler() http.Handler {
	webDir := s.config.API.StaticDir
	if webDir == "" {
		return s.router
	}
	if _, err := os.Stat(webDir); err != nil {
		log.Warn().Str("dir", webDir).Msg("Web directory not found, Web UI will not be available")
		return s.router
	}
	log.Info().Str("dir", webDir).Msg("Serving Web UI from directory")

	files := http.FileServer(http.Dir(webDir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := r.URL.Path
		if strings.HasPrefix(p, "/api/") || p == "/health" || p == "/metrics" {
			s.router.ServeHTTP(w, r)
			return
		}
		// client side routes fall back to the index page
		if p == "/" || !strings.Contains(filepath.Base(p), ".") {
			http.ServeFile(w, r, filepath.Join(webDir, "index.html"))
			return
		}
		files.ServeHTTP(w, r)
	})
}

// ListenAndServe starts the server
func (s *RESTServer) ListenAndServe(addr string) error {
	s.server.Addr = addr
	log.Info().Str("addr", addr).Msg("Starting REST API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *RESTServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// authMiddleware guards mutating routes once admin login is configured
func (s *RESTServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.respondError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || token == "" {
			s.respondError(w, http.StatusUnauthorized, "invalid authorization header")
			return
		}

		claims, err := s.auth.ValidateToken(token)
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("requestId", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
