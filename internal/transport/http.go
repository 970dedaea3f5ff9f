// Package transport provides the HTTP API of the access ledger facade.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gateway-fm/accessledger/internal/facade"
	"github.com/gateway-fm/accessledger/internal/metrics"
	"github.com/gateway-fm/accessledger/internal/perflog"
	"github.com/gateway-fm/accessledger/internal/storage"
	"github.com/gateway-fm/accessledger/internal/submitter"
	"github.com/gateway-fm/accessledger/pkg/types"
)

// Input limits
const (
	maxBodyBytes     = 64 << 10 // 64 KiB request bodies
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// AccountHeader carries the address of the account a creation route registered.
const AccountHeader = "X-Account-Address"

// API defines the facade operations the handlers need.
type API interface {
	CreateUser(ctx context.Context, req types.CreateUserRequest) (*facade.Registration, error)
	CreateUserFromMnemonic(ctx context.Context, req types.CreateUserWithMnemonicRequest) (*facade.Registration, error)
	CreateUserWithAddress(ctx context.Context, req types.CreateUserWithAddressRequest) (*facade.Registration, error)
	CreateUserDynamicGas(ctx context.Context, req types.CreateUserRequest) (*facade.Registration, error)

	AssignRole(ctx context.Context, req types.AssignRoleRequest) (*submitter.Result, error)
	RequestAccess(ctx context.Context, req types.AccessRequest) (*submitter.Result, error)
	GrantPermission(ctx context.Context, req types.PermissionRequest) (*submitter.Result, error)
	RevokePermission(ctx context.Context, req types.PermissionRequest) (*submitter.Result, error)

	GetAccounts(ctx context.Context, dni string) ([]common.Address, error)
	GetRole(ctx context.Context, addr common.Address) (uint8, error)
	HasPermission(ctx context.Context, granter, grantee common.Address) (bool, error)
	GetUserInfo(ctx context.Context, addr common.Address) (types.UserInfo, error)
	UserExists(ctx context.Context, addr common.Address) (bool, error)
	GetAccessRequests(ctx context.Context, requester common.Address) ([]common.Address, error)
	GetGrantedPermissions(ctx context.Context, granter common.Address) ([]common.Address, error)
	DevAddress() common.Address

	RegisteredAccount(ctx context.Context, addr common.Address) (*storage.AccountRecord, error)
	RegisteredAccountsByDni(ctx context.Context, dni string) ([]storage.AccountRecord, error)
	Performance(ctx context.Context, filter storage.RecordFilter, limit, offset int) (*storage.PaginatedRecords, error)
}

// HealthChecker defines the interface for health checking.
type HealthChecker interface {
	CheckLedger(ctx context.Context) error
	CheckContract(ctx context.Context) error
}

// Config configures a Server.
type Config struct {
	API    API
	Health HealthChecker
	// Metrics records request counts. Nil disables request metrics.
	Metrics *metrics.PrometheusMetrics
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
	// Perf wraps the facade routes when performance monitoring is enabled.
	Perf *perflog.Middleware
	// Hub serves /ws. Nil disables the record stream.
	Hub            *RecordHub
	AllowedOrigins []string
	Logger         *slog.Logger
}

// Server handles HTTP requests for the facade.
type Server struct {
	api       API
	health    HealthChecker
	metrics   *metrics.PrometheusMetrics
	gatherer  prometheus.Gatherer
	perf      *perflog.Middleware
	hub       *RecordHub
	origins   []string
	logger    *slog.Logger
	startTime time.Time
}

// NewServer creates a new HTTP server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Server{
		api:       cfg.API,
		health:    cfg.Health,
		metrics:   cfg.Metrics,
		gatherer:  gatherer,
		perf:      cfg.Perf,
		hub:       cfg.Hub,
		origins:   origins,
		logger:    logger,
		startTime: time.Now(),
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		ExposedHeaders: []string{AccountHeader},
		MaxAge:         300,
	}))
	r.Use(s.instrument)

	// Health endpoints (standard Kubernetes probes)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	if s.hub != nil {
		r.Get("/ws", s.hub.Handler())
	}

	r.Group(func(r chi.Router) {
		if s.perf != nil {
			r.Use(s.perf.Handler)
		}
		r.Use(middleware.RequestSize(maxBodyBytes))

		r.Post("/create_user", s.handleCreateUser)
		r.Post("/create_user_based_on_personalized_mnemonic", s.handleCreateUserFromMnemonic)
		r.Post("/create_user_with_existing_address", s.handleCreateUserWithAddress)
		r.Post("/create_user_with_dynamic_gas", s.handleCreateUserDynamicGas)

		r.Post("/assign_role", s.handleAssignRole)
		r.Post("/request_access", s.handleRequestAccess)
		r.Post("/grant_permission", s.handleGrantPermission)
		r.Post("/revoke_permission", s.handleRevokePermission)

		r.Get("/get_accounts/{dni}", s.handleGetAccounts)
		r.Get("/role/{publicAddress}", s.handleGetRole)
		r.Get("/get_role/{publicAddress}", s.handleGetRole)
		r.Get("/has_permission/{granter}/{grantee}", s.handleHasPermission)
		r.Get("/alice_account_id", s.handleDevAccount)
		r.Get("/user_info/{address}", s.handleUserInfo)
		r.Get("/user_exists/{address}", s.handleUserExists)
		r.Get("/access_requests/{address}", s.handleAccessRequests)
		r.Get("/granted_permissions/{address}", s.handleGrantedPermissions)

		r.Get("/accounts", s.handleRegisteredByDni)
		r.Get("/accounts/{address}", s.handleRegisteredAccount)
		r.Get("/performance", s.handlePerformance)
	})

	return r
}

// requestLogger logs every request with slog.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request served",
			slog.String("requestID", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}

// instrument records Prometheus request metrics under the chi route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		s.metrics.InFlight.Inc()
		defer s.metrics.InFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.RecordHTTP(route, r.Method, status, time.Since(start))
	})
}

// handleHealth handles liveness probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": time.Since(s.startTime).Seconds(),
	})
}

// ReadinessCheck represents a single readiness check result.
type ReadinessCheck struct {
	Name      string `json:"name"`
	Status    string `json:"status"` // "ok" or "failed"
	LatencyMs int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleReady handles readiness probes.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := []ReadinessCheck{}
	allHealthy := true

	if s.health != nil {
		probes := []struct {
			name  string
			check func(context.Context) error
		}{
			{"ledger-rpc", s.health.CheckLedger},
			{"access-control", s.health.CheckContract},
		}
		for _, p := range probes {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			start := time.Now()
			err := p.check(ctx)
			cancel()

			check := ReadinessCheck{Name: p.name, Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
			if err != nil {
				check.Status = "failed"
				check.Error = err.Error()
				allHealthy = false
			}
			checks = append(checks, check)
		}
	}

	status := http.StatusOK
	if !allHealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"ready":  allHealthy,
		"checks": checks,
	})
}

// statusFor maps the error taxonomy to an HTTP status.
func statusFor(err error) int {
	var (
		inputErr *types.InvalidInputError
		seedErr  *types.InvalidSeedError
		notFound *types.NotFoundError
		tooLarge *http.MaxBytesError
	)
	switch {
	case errors.As(err, &inputErr), errors.As(err, &seedErr):
		return http.StatusBadRequest
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.Is(err, facade.ErrStorageDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON error response
func writeJSONError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, types.ErrorResponse{Error: message})
}

// writeText writes a plain text response.
func writeText(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(message))
}

// pagination parses limit and offset, clamping bad values to the defaults.
func pagination(r *http.Request) (limit, offset int) {
	limit = defaultPageLimit
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= maxPageLimit {
		limit = l
	}
	if o, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && o >= 0 {
		offset = o
	}
	return limit, offset
}
