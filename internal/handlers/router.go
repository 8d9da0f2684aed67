package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/baqala/storefront/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

const defaultAPIPrefix = "/api/v1"

// routeGroup is one mount under the API prefix. Groups without a registrar
// answer 501 so clients can tell a disabled feature from a typo.
type routeGroup struct {
	path      string
	registrar RouteRegistrar
}

type routerConfig struct {
	basePath    string
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	groups      map[string]*routeGroup
	order       []string
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

// NewRouter builds the storefront router. Only request-id and real-ip
// middleware are global; timeouts are set per group so the cart stream can
// stay open.
func NewRouter(opts ...Option) chi.Router {
	cfg := &routerConfig{
		basePath: defaultAPIPrefix,
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
		},
		groups: make(map[string]*routeGroup),
	}
	cfg.group("guest", "/guest")
	cfg.group("cart", "/cart")

	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.NotFound(routeNotFound)
	r.MethodNotAllowed(methodNotAllowed)

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.basePath, func(api chi.Router) {
		for _, name := range cfg.order {
			group := cfg.groups[name]
			api.Route(group.path, func(sub chi.Router) {
				if group.registrar == nil {
					registerNotImplemented(sub, name)
					return
				}
				sub.NotFound(routeNotFound)
				sub.MethodNotAllowed(methodNotAllowed)
				group.registrar(sub)
			})
		}
	})
	return r
}

func (cfg *routerConfig) group(name, path string) *routeGroup {
	if g, ok := cfg.groups[name]; ok {
		return g
	}
	g := &routeGroup{path: path}
	cfg.groups[name] = g
	cfg.order = append(cfg.order, name)
	return g
}

// WithBasePath mounts the API groups under prefix instead of /api/v1.
func WithBasePath(prefix string) Option {
	return func(cfg *routerConfig) {
		prefix = "/" + strings.Trim(strings.TrimSpace(prefix), "/")
		if prefix != "/" {
			cfg.basePath = prefix
		}
	}
}

// WithMiddlewares appends global middleware after request-id and real-ip.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers overrides the /healthz and /readyz handlers.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithGuestRoutes mounts guest session endpoints under /guest.
func WithGuestRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.group("guest", "/guest").registrar = reg
	}
}

// WithCartRoutes mounts cart endpoints under /cart.
func WithCartRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.group("cart", "/cart").registrar = reg
	}
}

func routeNotFound(w http.ResponseWriter, r *http.Request) {
	httpx.WriteError(r.Context(), w, httpx.NewError("route_not_found", fmt.Sprintf("no route for %s", r.URL.Path), http.StatusNotFound))
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	httpx.WriteError(r.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", r.Method, r.URL.Path), http.StatusMethodNotAllowed))
}

func registerNotImplemented(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not enabled", name), http.StatusNotImplemented))
	}
	r.HandleFunc("/*", handler)
	r.HandleFunc("/", handler)
}
