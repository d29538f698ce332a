// Package httpapi exposes the packguard Engine over HTTP with gorilla/mux.
// Every response uses the {success, message, data, errorCode} envelope.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/MrEthical07/packguard"
	"github.com/MrEthical07/packguard/middleware"
	"github.com/MrEthical07/packguard/permission"
)

// Config tunes the transport.
type Config struct {
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
	// Per-IP budget for the credential endpoints.
	AuthRatePerSecond float64 `mapstructure:"auth_rate_per_second"`
	AuthBurst         int     `mapstructure:"auth_burst"`
}

func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:      1 << 20,
		AuthRatePerSecond: 1,
		AuthBurst:         5,
	}
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Server wires the Engine to HTTP routes.
type Server struct {
	engine   *packguard.Engine
	log      logrus.FieldLogger
	cfg      Config
	gatherer prometheus.Gatherer
	checks   map[string]HealthCheck
	fail     middleware.ErrorWriter
}

// Option configures a Server.
type Option func(*Server)

// WithGatherer mounts GET /metrics for g.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithHealthCheck adds a named dependency check to GET /healthz.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) {
		if check != nil {
			s.checks[name] = check
		}
	}
}

func New(engine *packguard.Engine, log logrus.FieldLogger, cfg Config, opts ...Option) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	defaults := DefaultConfig()
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaults.MaxBodyBytes
	}
	if cfg.AuthRatePerSecond <= 0 {
		cfg.AuthRatePerSecond = defaults.AuthRatePerSecond
	}
	if cfg.AuthBurst <= 0 {
		cfg.AuthBurst = defaults.AuthBurst
	}
	log = log.WithField("component", "httpapi")
	s := &Server{
		engine: engine,
		log:    log,
		cfg:    cfg,
		checks: make(map[string]HealthCheck),
		fail:   errorWriter(log),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s.fail(w, req, errRouteNotFound)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, Envelope{Message: "method not allowed", ErrorCode: packguard.CodeValidation})
	})
	r.Use(
		middleware.RequestID,
		middleware.Recoverer(s.log, s.fail),
		middleware.AccessLog(s.log),
		middleware.MaxBodyBytes(s.cfg.MaxBodyBytes),
		requestMeta,
	)

	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	limited := r.NewRoute().Subrouter()
	limited.Use(middleware.RateLimit(middleware.NewIPLimiter(s.cfg.AuthRatePerSecond, s.cfg.AuthBurst, 0), s.fail))
	limited.HandleFunc("/login", s.login).Methods(http.MethodPost)
	limited.HandleFunc("/2fa/resend", s.resendTwoFactor).Methods(http.MethodPost)
	limited.HandleFunc("/2fa/verify", s.verifyTwoFactor).Methods(http.MethodPost)

	r.HandleFunc("/refresh", s.refresh).Methods(http.MethodPost)
	r.HandleFunc("/logout-by-refresh", s.logoutByRefresh).Methods(http.MethodPost)

	claims := r.NewRoute().Subrouter()
	claims.Use(middleware.RequireClaims(s.engine, s.fail))
	claims.HandleFunc("/session", s.session).Methods(http.MethodGet)

	authed := r.NewRoute().Subrouter()
	authed.Use(middleware.Guard(s.engine, s.fail))
	authed.HandleFunc("/logout", s.logout).Methods(http.MethodPost)
	authed.HandleFunc("/me", s.me).Methods(http.MethodGet)
	authed.HandleFunc("/me/2fa", s.setTwoFactor).Methods(http.MethodPost)
	authed.HandleFunc("/documents/{id}/access", s.documentAccess).Methods(http.MethodGet)
	authed.HandleFunc("/documents/{id}/shares", s.listShares).Methods(http.MethodGet)
	authed.HandleFunc("/documents/{id}/shares", s.shareDocument).Methods(http.MethodPost)
	authed.HandleFunc("/documents/{id}/shares/{userId}", s.updateShare).Methods(http.MethodPatch)
	authed.HandleFunc("/documents/{id}/shares/{userId}", s.revokeShare).Methods(http.MethodDelete)

	admin := authed.NewRoute().Subrouter()
	admin.Use(middleware.RequireRole(permission.TopSystemRole, s.fail))
	admin.HandleFunc("/users", s.createUser).Methods(http.MethodPost)
	admin.HandleFunc("/users/{id}/role", s.changeRole).Methods(http.MethodPatch)
	admin.HandleFunc("/users/{id}/active", s.setActive).Methods(http.MethodPatch)
	admin.HandleFunc("/users/{id}", s.deleteUser).Methods(http.MethodDelete)
	admin.HandleFunc("/audit", s.queryAudit).Methods(http.MethodGet)

	// self or admin; the engine decides
	authed.HandleFunc("/users/{id}/password", s.resetPassword).Methods(http.MethodPost)

	return r
}

var errRouteNotFound = &notFoundError{}

type notFoundError struct{}

func (*notFoundError) Error() string { return "route not found" }
func (*notFoundError) Unwrap() error { return packguard.ErrNotFound }

// requestMeta copies the caller's address and user agent into the context
// for audit records.
func requestMeta(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := packguard.WithClientIP(r.Context(), middleware.ClientIP(r))
		ctx = packguard.WithUserAgent(ctx, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := make(map[string]string, len(s.checks))
	healthy := true
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			healthy = false
			status[name] = "unavailable"
			s.log.WithError(err).WithField("dependency", name).Warn("health check failed")
			continue
		}
		status[name] = "ok"
	}
	if !healthy {
		writeJSON(w, http.StatusServiceUnavailable, Envelope{
			Message:   "degraded",
			Data:      status,
			ErrorCode: packguard.CodeServiceUnavailable,
		})
		return
	}
	writeOK(w, http.StatusOK, "ok", status)
}
