package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"tallernegreira/backend/internal/domain"
	"tallernegreira/backend/internal/metrics"
	"tallernegreira/backend/internal/reconcile"
	"tallernegreira/backend/internal/service"
	"tallernegreira/backend/internal/store"
)

const (
	maxBodyBytes   = 1 << 20
	defaultPerPage = 10
	maxPerPage     = 1000
	maxPage        = 1_000_000
)

type Options struct {
	AllowedOrigin      string
	LoginRatePerMinute int
	Metrics            *metrics.Metrics
	// MetricsHandler serves /metrics; promhttp.Handler() when nil.
	MetricsHandler http.Handler
}

type API struct {
	service        *service.Service
	auth           *AuthManager
	allowedOrigin  string
	loginLimiter   *loginLimiter
	metrics        *metrics.Metrics
	metricsHandler http.Handler
	logger         *log.Entry
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	if opts.LoginRatePerMinute <= 0 {
		opts.LoginRatePerMinute = 10
	}
	if opts.MetricsHandler == nil {
		opts.MetricsHandler = promhttp.Handler()
	}
	return &API{
		service:        svc,
		auth:           auth,
		allowedOrigin:  opts.AllowedOrigin,
		loginLimiter:   newLoginLimiter(opts.LoginRatePerMinute),
		metrics:        opts.Metrics,
		metricsHandler: opts.MetricsHandler,
		logger:         log.WithField("component", "httpapi"),
	}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(a.requestID, a.observe, a.recoverer, a.secureHeaders, limitBody)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("recurso no encontrado"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeMethodNotAllowed(w)
	})

	r.Get("/health", a.handleHealth)
	r.Method(http.MethodGet, "/metrics", a.metricsHandler)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", a.handleRegister)
		r.Post("/login", a.handleLogin)
		r.Get("/me", a.requireAuth(a.handleMe))
		r.Get("/roles", a.requireAuth(a.handleRoles))
		r.Get("/users", a.requireAuth(a.handleListUsers))
		r.Get("/users/{id}", a.requireAuth(a.handleGetUser))
		r.Put("/users/{id}", a.requireAuth(a.handleUpdateUser, domain.RoleAdmin))
		r.Delete("/users/{id}", a.requireAuth(a.handleDeleteUser, domain.RoleAdmin))
	})

	r.Route("/clients", func(r chi.Router) {
		r.Get("/", a.requireAuth(a.handleListClients))
		r.Post("/", a.requireAuth(a.handleCreateClient, domain.RoleAdmin, domain.RoleReception))
		r.Put("/vehicles/{id}", a.requireAuth(a.handleUpdateVehicle, domain.RoleAdmin, domain.RoleReception))
		r.Delete("/vehicles/{id}", a.requireAuth(a.handleDeleteVehicle, domain.RoleAdmin))
		r.Get("/{id}", a.requireAuth(a.handleGetClient))
		r.Put("/{id}", a.requireAuth(a.handleUpdateClient, domain.RoleAdmin, domain.RoleReception))
		r.Delete("/{id}", a.requireAuth(a.handleDeleteClient, domain.RoleAdmin))
		r.Get("/{id}/vehicles", a.requireAuth(a.handleListClientVehicles))
		r.Post("/{id}/vehicles", a.requireAuth(a.handleAddVehicle, domain.RoleAdmin, domain.RoleReception))
	})
	r.Get("/vehicles", a.requireAuth(a.handleListVehicles))

	r.Route("/services", func(r chi.Router) {
		r.Get("/", a.requireAuth(a.handleListServices))
		r.Post("/", a.requireAuth(a.handleCreateService, domain.RoleAdmin))
		r.Get("/{id}", a.requireAuth(a.handleGetService))
		r.Put("/{id}", a.requireAuth(a.handleUpdateService, domain.RoleAdmin))
		r.Delete("/{id}", a.requireAuth(a.handleDeleteService, domain.RoleAdmin))
	})

	r.Route("/inventory/parts", func(r chi.Router) {
		r.Get("/", a.requireAuth(a.handleListParts))
		r.Post("/", a.requireAuth(a.handleCreatePart, domain.RoleAdmin))
		r.Get("/low-stock", a.requireAuth(a.handleLowStock))
		r.Get("/{id}", a.requireAuth(a.handleGetPart))
		r.Put("/{id}", a.requireAuth(a.handleUpdatePart, domain.RoleAdmin))
		r.Delete("/{id}", a.requireAuth(a.handleDeletePart, domain.RoleAdmin))
	})

	r.Route("/orders", func(r chi.Router) {
		r.Get("/", a.requireAuth(a.handleListOrders))
		r.Post("/", a.requireAuth(a.handleCreateOrder))
		r.Get("/statuses", a.requireAuth(a.handleListStatuses))
		r.Get("/{id}", a.requireAuth(a.handleGetOrder))
		r.Put("/{id}", a.requireAuth(a.handleUpdateOrder))
		r.Delete("/{id}", a.requireAuth(a.handleDeleteOrder, domain.RoleAdmin))
		r.Put("/{id}/status", a.requireAuth(a.handleUpdateOrderStatus))
		r.Post("/{id}/services", a.requireAuth(a.handleAddOrderService))
		r.Post("/{id}/items", a.requireAuth(a.handleAddOrderService))
		r.Post("/{id}/parts", a.requireAuth(a.handleAddOrderPart))
		r.Get("/{id}/invoice", a.requireAuth(a.handleOrderInvoice))
	})

	r.Route("/payments", func(r chi.Router) {
		r.Post("/", a.requireAuth(a.handleCreatePayment, domain.RoleAdmin, domain.RoleReception))
		r.Get("/history", a.requireAuth(a.handlePaymentHistory, domain.RoleAdmin, domain.RoleReception))
		r.Get("/revenue", a.requireAuth(a.handleRevenue, domain.RoleAdmin, domain.RoleReception))
		r.Get("/order/{id}/balance", a.requireAuth(a.handleOrderBalance))
		r.Get("/{id}", a.requireAuth(a.handleGetPayment, domain.RoleAdmin, domain.RoleReception))
		r.Delete("/{id}", a.requireAuth(a.handleVoidPayment, domain.RoleAdmin))
	})

	r.Get("/reports/dashboard", a.requireAuth(a.handleDashboard))

	return r
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := a.bearerActor(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("acceso denegado para su rol"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func (a *API) bearerActor(r *http.Request) (domain.Actor, error) {
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
		return domain.Actor{}, errors.New("falta el token de acceso")
	}
	return a.auth.ParseToken(strings.TrimSpace(authorization[len("Bearer "):]))
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

type requestIDKey struct{}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// requestID keeps a sane inbound X-Request-ID and mints one otherwise.
func (a *API) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func (a *API) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()
		next.ServeHTTP(ww, r)
		elapsed := time.Since(startedAt)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		a.metrics.ObserveHTTP(r.Method, route, status, elapsed)

		a.logger.WithFields(log.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     status,
			"duration":   elapsed.String(),
			"request_id": RequestIDFromContext(r.Context()),
		}).Info("request")
	})
}

func (a *API) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				a.logger.WithField("request_id", RequestIDFromContext(r.Context())).
					Errorf("panic serving %s %s: %v", r.Method, r.URL.Path, rec)
				writeError(w, http.StatusInternalServerError, fmt.Errorf("panic: %v", rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (a *API) secureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Disposition, X-Request-ID")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
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

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.service.Ping(ctx); err != nil {
		a.logger.WithError(err).Warn("health check: database unreachable")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":   "degraded",
			"message":  "Backend Taller Negreira sin base de datos",
			"database": "unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"message":  "Backend Taller Negreira funcionando",
		"database": "ok",
		"at":       time.Now().UTC().Format(time.RFC3339),
	})
}

// writeServiceError maps domain and store errors to HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err)
}

func statusFor(err error) int {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrInactiveAccount):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInsufficientStock):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrHasPayments), errors.Is(err, store.ErrConcurrent):
		return http.StatusConflict
	case errors.Is(err, store.ErrConflict),
		errors.Is(err, store.ErrInvalidInput),
		errors.Is(err, reconcile.ErrServiceUnavailable),
		errors.Is(err, reconcile.ErrPartUnavailable),
		errors.Is(err, reconcile.ErrInvalidQuantity):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return errors.New("se requiere un cuerpo JSON")
		case errors.As(err, &maxErr):
			return errors.New("el cuerpo de la solicitud es demasiado grande")
		default:
			return fmt.Errorf("JSON inválido: %w", err)
		}
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("id inválido")
	}
	return id, nil
}

func queryInt64(r *http.Request, key string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s inválido", key)
	}
	return v, nil
}

func parsePage(r *http.Request) domain.Page {
	q := r.URL.Query()
	return domain.Page{
		Number:  parsePositiveLimit(q.Get("page"), 1, maxPage),
		PerPage: parsePositiveLimit(q.Get("per_page"), defaultPerPage, maxPerPage),
	}
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// parseDateParam accepts YYYY-MM-DD or RFC 3339. A bare date used as an upper
// bound covers the whole day.
func parseDateParam(r *http.Request, key string, endOfDay bool) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, fmt.Errorf("%s debe tener formato YYYY-MM-DD", key)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("método no permitido"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; 4xx messages are meant for the user.
	msg := err.Error()
	if status >= 500 {
		log.WithField("component", "httpapi").WithError(err).Errorf("internal error (status %d)", status)
		msg = "error interno del servidor"
	}
	writeJSON(w, status, map[string]any{
		"msg": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"msg": msg})
}
