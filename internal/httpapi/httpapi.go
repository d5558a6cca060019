package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"colorstock/backend/internal/domain"
	"colorstock/backend/internal/logger"
	"colorstock/backend/internal/metrics"
	"colorstock/backend/internal/service"
	"colorstock/backend/internal/store"
)

const (
	tokenCookieName = "token"
	maxBodyBytes    = 1 << 20
)

var (
	errMalformedBody    = errors.New("malformed request body")
	errRateLimited      = errors.New("too many login attempts")
	errRouteNotFound    = errors.New("route not found")
	errMethodNotAllowed = errors.New("method not allowed")
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	log           *logger.Logger
	metrics       *metrics.Metrics
	gatherer      prometheus.Gatherer
	allowedOrigin string
	secureCookie  bool
	loginLimiter  *attemptLimiter
}

type Option func(*API)

func WithLogger(l *logger.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.log = l
		}
	}
}

// WithMetrics records request durations into m and serves gatherer on /metrics.
func WithMetrics(m *metrics.Metrics, gatherer prometheus.Gatherer) Option {
	return func(a *API) {
		a.metrics = m
		a.gatherer = gatherer
	}
}

// WithSecureCookie marks the session cookie Secure; enable behind TLS.
func WithSecureCookie(secure bool) Option {
	return func(a *API) { a.secureCookie = secure }
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, opts ...Option) *API {
	a := &API{
		service:       svc,
		auth:          auth,
		log:           logger.Nop(),
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

// Allow records an attempt for key and reports whether it is within the window budget.
func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

// clientKey identifies the caller by socket address only; forwarded headers are not trusted.
func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(a.observe)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{a.allowedOrigin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(limitBody)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		a.writeError(w, r, http.StatusNotFound, errRouteNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		a.writeError(w, r, http.StatusMethodNotAllowed, errMethodNotAllowed)
	})

	r.Get("/healthz", a.handleHealth)
	if a.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	}

	elevated := requireRole(domain.RoleAdmin, domain.RoleDeveloper)

	r.Route("/api", func(r chi.Router) {
		r.Route("/users", func(r chi.Router) {
			r.Post("/register", a.handleRegister)
			r.Post("/login", a.handleLogin)
			r.Post("/logout", a.handleLogout)
			r.With(a.requireAuth).Get("/me", a.handleMe)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth)

			r.Route("/sales", func(r chi.Router) {
				r.Post("/", a.handleCreateSale)
				r.Get("/", a.handleListSales)
				r.Get("/{id}", a.handleGetSale)
				r.With(elevated).Delete("/{id}", a.handleDeleteSale)
			})

			r.Route("/products", func(r chi.Router) {
				r.Get("/", a.handleListProducts)
				r.Get("/low-stock", a.handleLowStock)
				r.Get("/{id}", a.handleGetProduct)
				r.Group(func(r chi.Router) {
					r.Use(elevated)
					r.Post("/", a.handleCreateProduct)
					r.Put("/{id}", a.handleUpdateProduct)
					r.Delete("/{id}", a.handleDeleteProduct)
					r.Patch("/{id}/activate", a.handleSetProductActive(true))
					r.Patch("/{id}/deactivate", a.handleSetProductActive(false))
					r.Patch("/{id}/stock", a.handleAdjustStock)
				})
			})

			r.Route("/categories", func(r chi.Router) {
				r.Get("/", a.handleListCategories)
				r.Get("/{id}", a.handleGetCategory)
				r.Group(func(r chi.Router) {
					r.Use(elevated)
					r.Post("/", a.handleCreateCategory)
					r.Put("/{id}", a.handleUpdateCategory)
					r.Delete("/{id}", a.handleDeleteCategory)
					r.Patch("/{id}/activate", a.handleSetCategoryActive(true))
					r.Patch("/{id}/deactivate", a.handleSetCategoryActive(false))
				})
			})

			r.Route("/colors", func(r chi.Router) {
				r.Get("/", a.handleListColors)
				r.Get("/{id}", a.handleGetColor)
				r.Group(func(r chi.Router) {
					r.Use(elevated)
					r.Post("/", a.handleCreateColor)
					r.Put("/{id}", a.handleUpdateColor)
					r.Delete("/{id}", a.handleDeleteColor)
					r.Patch("/{id}/activate", a.handleSetColorActive(true))
					r.Patch("/{id}/deactivate", a.handleSetColorActive(false))
				})
			})
		})
	})

	return r
}

// requireAuth accepts a bearer token or the session cookie set at login.
func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := requestToken(r)
		if !ok {
			a.writeError(w, r, http.StatusUnauthorized, service.ErrUnauthorized)
			return
		}
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			a.writeError(w, r, http.StatusUnauthorized, err)
			return
		}

		ctx := service.WithActor(r.Context(), actor)
		ctx = a.log.WithUserID(ctx, actor.UserID)
		ctx = a.log.WithActorRole(ctx, actor.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestToken(r *http.Request) (string, bool) {
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if authorization != "" {
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			return "", false
		}
		token := strings.TrimSpace(authorization[len("Bearer "):])
		return token, token != ""
	}
	if cookie, err := r.Cookie(tokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, true
	}
	return "", false
}

// requireRole must run after requireAuth.
func requireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := service.ActorFromContext(r.Context())
			if !ok {
				writeEnvelopeError(w, http.StatusUnauthorized, service.ErrUnauthorized.Error(), nil)
				return
			}
			if !isRoleAllowed(actor.Role, roles) {
				writeEnvelopeError(w, http.StatusForbidden, service.ErrForbidden.Error(), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		next.ServeHTTP(w, r)
	})
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil && (r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// observe writes one log line and one latency sample per request.
func (a *API) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		requestID := middleware.GetReqID(r.Context())
		w.Header().Set("X-Request-Id", requestID)
		ctx := a.log.WithRequestID(r.Context(), requestID)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		r = r.WithContext(ctx)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(startedAt)
		a.metrics.ObserveHTTP(r.Method, route, status, elapsed)

		level := zerolog.InfoLevel
		if status >= http.StatusInternalServerError {
			level = zerolog.ErrorLevel
		}
		a.log.Event(ctx, level).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("route", route).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", elapsed).
			Msg("http request")
	})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, "ok", map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		var maxBytes *http.MaxBytesError
		switch {
		case errors.As(err, &maxBytes):
			return fmt.Errorf("%w: body exceeds %d bytes", errMalformedBody, maxBytes.Limit)
		case errors.Is(err, io.EOF):
			return fmt.Errorf("%w: body is empty", errMalformedBody)
		default:
			return fmt.Errorf("%w: %v", errMalformedBody, err)
		}
	}
	if decoder.More() {
		return fmt.Errorf("%w: trailing data after json object", errMalformedBody)
	}
	return nil
}

// statusFor maps domain and storage errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errMalformedBody),
		errors.Is(err, store.ErrInvalidInput),
		errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrConflict):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrUnauthorized),
		errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden),
		errors.Is(err, ErrInactiveAccount):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

type successEnvelope struct {
	Message string `json:"message"`
	Data    any    `json:"data"`
	Error   bool   `json:"error"`
}

type errorEnvelope struct {
	Message string            `json:"message"`
	Error   bool              `json:"error"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	a.writeError(w, r, statusFor(err), err)
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	// 5xx bodies carry a generic message; the cause goes to the log only.
	if status >= http.StatusInternalServerError {
		a.log.Error(r.Context(), "request failed", err)
		writeEnvelopeError(w, status, "internal server error", nil)
		return
	}
	var fields map[string]string
	var vErr *service.ValidationError
	if errors.As(err, &vErr) {
		fields = vErr.Fields
	}
	writeEnvelopeError(w, status, err.Error(), fields)
}

func writeEnvelopeError(w http.ResponseWriter, status int, message string, fields map[string]string) {
	writeJSON(w, status, errorEnvelope{Message: message, Error: true, Fields: fields})
}

func writeData(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, successEnvelope{Message: message, Data: data})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
