package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/garage-pos/settlement/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

type routerConfig struct {
	basePath    string
	timeout     time.Duration
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	settlement  RouteRegistrar
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

const (
	defaultTimeout    = 60 * time.Second
	errorNotFoundCode = "route_not_found"
)

// NewRouter constructs the chi router with shared middleware. Health probes are always served
// at the root; settlement routes are mounted under the base path.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{timeout: defaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	r := chi.NewRouter()

	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r.Use(middleware.RequestID, middleware.RealIP, middleware.Timeout(cfg.timeout))
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	mount := func(api chi.Router) {
		if cfg.settlement != nil {
			cfg.settlement(api)
			return
		}
		registerNotImplementedRoute(api, "/settle-order", "settlement")
		registerNotImplementedRoute(api, "/technician-commissions", "settlement")
		registerNotImplementedRoute(api, "/sales-invoices", "settlement")
	}
	if cfg.basePath == "" {
		r.Group(mount)
	} else {
		r.Route(cfg.basePath, mount)
	}

	return r
}

// WithBasePath mounts the settlement routes under path. An empty path or "/" mounts at the root.
func WithBasePath(path string) Option {
	return func(cfg *routerConfig) {
		path = strings.TrimRight(strings.TrimSpace(path), "/")
		if path != "" && !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		cfg.basePath = path
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(cfg *routerConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithMiddlewares appends additional global middleware to the router.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz endpoints.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithSettlementRoutes configures the registrar responsible for settlement endpoints.
func WithSettlementRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.settlement = reg
	}
}

func registerNotImplementedRoute(r chi.Router, path string, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not implemented", name), http.StatusNotImplemented))
	}
	r.HandleFunc(path, handler)
}
