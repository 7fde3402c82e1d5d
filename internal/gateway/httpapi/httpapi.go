// Package httpapi implements the HTTP API gateway for Ngao.
//
// Security:
//   - Optional API key authentication (constant-time comparison)
//   - Request body size limits (default 2 MB)
//   - Per-caller rate limiting via token bucket
//   - All requests logged with correlation IDs
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/okapi"

	"github.com/ngao-sh/ngao/internal/engine"
	"github.com/ngao-sh/ngao/internal/observability"
	"github.com/ngao-sh/ngao/internal/params"
	"github.com/ngao-sh/ngao/internal/policy"
	"github.com/ngao-sh/ngao/internal/ratelimit"
)

const defaultMaxRequestSize = 2 << 20 // 2 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string   // e.g., ":8080"
	EnableDocs     bool
	APIKeys        []string // Accepted bearer keys. Empty = authentication disabled.
	MaxRequestSize int64    // Maximum request body in bytes. 0 = 2 MB default.
	MaxTimeout     time.Duration // Advertised timeout ceiling for request validation errors.
	Policy         policy.Engine // Rule set for /scan. Nil = built-in catalog.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz endpoint.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the HTTP API gateway: it accepts execution requests, hands them
// to the engine, and maps terminal statuses onto HTTP codes.
type Gateway struct {
	config   Config
	executor engine.Executor
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
	server   *http.Server
	okapi    *okapi.Okapi
}

// NewGateway creates an HTTP API gateway around an executor.
func NewGateway(cfg Config, ex engine.Executor, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	if cfg.MaxRequestSize <= 0 {
		cfg.MaxRequestSize = defaultMaxRequestSize
	}
	return &Gateway{
		config:   cfg,
		executor: ex,
		limiter:  rl,
		logger:   logger,
		okapi:    okapi.New(okapi.WithMaxMultipartMemory(cfg.MaxRequestSize)),
	}
}

// WithOpenAPIDocs enables the OpenAPI documentation endpoint.
func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Ngao",
			Version: "v0.0.1",
		},
	)
	return g
}

// registerRoutes wires middleware and all endpoints onto the okapi app.
func (g *Gateway) registerRoutes() {
	// Body size cap ahead of any JSON decoding.
	g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, g.config.MaxRequestSize)
			next.ServeHTTP(w, r)
		})
	})

	// Authenticated /v1 group. Metrics/tracing wrap authentication so
	// rejected callers are counted too; probe endpoints below stay unmetered.
	group := g.okapi.Group("/v1",
		observability.MetricsMiddleware(g.config.Metrics, g.config.Tracer),
		g.authenticate,
	)

	group.Post("/execute", g.handleExecute,
		okapi.DocSummary("Execute a script in the sandbox"),
		okapi.DocTags("Execute"),
		okapi.DocRequestBody(ExecuteRequest{}),
		okapi.DocResponse(ExecuteResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ExecuteResponse{}),
		okapi.DocResponse(http.StatusForbidden, ExecuteResponse{}),
		okapi.DocResponse(http.StatusRequestTimeout, ExecuteResponse{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
		okapi.DocResponse(http.StatusInternalServerError, ExecuteResponse{}),
	)
	group.Post("/scan", g.handleScan,
		okapi.DocSummary("Screen a script against the security policy without executing it"),
		okapi.DocTags("Execute"),
		okapi.DocRequestBody(ScanRequest{}),
		okapi.DocResponse(ScanResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
	)
	group.Get("/healthz", g.handleHealth,
		okapi.DocSummary("Authenticated health check"),
		okapi.DocTags("Health"),
		okapi.DocResponse(HealthResponse{}),
	)

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		// Std-mounted handler; scrapes are instrumented with the net/http
		// flavor of the metrics middleware.
		scrape := observability.HTTPMetricsMiddleware(
			g.config.Metrics, g.config.Tracer,
			promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}),
		)
		g.okapi.HandleStd("GET", path, scrape.ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	g.registerRoutes()

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Writes stay open for the full execution ceiling plus headroom.
		WriteTimeout: g.config.MaxTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))

	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Handlers ---

// ExecuteRequest is the JSON body for POST /v1/execute.
type ExecuteRequest struct {
	ScriptContent  string        `json:"scriptContent"`
	Parameters     params.Params `json:"parameters,omitempty"`
	TimeoutSeconds int           `json:"timeoutSeconds,omitempty"` // 0 = server default.
}

// ExecuteResponse is the JSON response for POST /v1/execute.
type ExecuteResponse struct {
	Status         string           `json:"status"`
	ExitCode       *int             `json:"exitCode,omitempty"`
	Stdout         string           `json:"stdout"`
	Stderr         string           `json:"stderr"`
	ElapsedSeconds float64          `json:"elapsedSeconds"`
	Findings       []policy.Finding `json:"findings,omitempty"`
	Error          string           `json:"error,omitempty"`
	CorrelationID  string           `json:"correlationId"`
}

func (g *Gateway) handleExecute(c *okapi.Context) error {
	callerID := c.GetString("callerID")

	if g.limiter != nil {
		if err := g.limiter.Allow(callerID); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	var req ExecuteRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}

	correlationID := newCorrelationID()

	g.logger.Info("http execute",
		slog.String("caller_id", callerID),
		slog.String("correlation_id", correlationID),
		slog.Int("script_bytes", len(req.ScriptContent)),
	)

	res := g.executor.Execute(c.Context(), engine.Request{
		Script:        req.ScriptContent,
		Parameters:    req.Parameters,
		Timeout:       time.Duration(req.TimeoutSeconds) * time.Second,
		CorrelationID: correlationID,
	})

	return c.JSON(httpStatusFor(res.Status), ExecuteResponse{
		Status:         string(res.Status),
		ExitCode:       res.ExitCode,
		Stdout:         res.Stdout,
		Stderr:         res.Stderr,
		ElapsedSeconds: res.ElapsedSeconds,
		Findings:       res.Findings,
		Error:          res.Error,
		CorrelationID:  correlationID,
	})
}

// httpStatusFor maps a terminal execution status onto an HTTP status code.
// Script-authored failures are 200 — the API did its job; the script didn't.
func httpStatusFor(status engine.Status) int {
	switch status {
	case engine.StatusSuccess, engine.StatusScriptError:
		return http.StatusOK
	case engine.StatusValidationError:
		return http.StatusBadRequest
	case engine.StatusSecurityViolation:
		return http.StatusForbidden
	case engine.StatusTimeout:
		return http.StatusRequestTimeout
	default: // LaunchFailure and anything unexpected.
		return http.StatusInternalServerError
	}
}

// ScanRequest is the JSON body for POST /v1/scan.
type ScanRequest struct {
	ScriptContent string `json:"scriptContent"`
}

// ScanResponse is the JSON response for POST /v1/scan.
type ScanResponse struct {
	Blocked  bool             `json:"blocked"`
	Findings []policy.Finding `json:"findings,omitempty"`
}

// scanPolicy returns the operator-compiled rule set, so scan verdicts match
// what an execute request would actually enforce.
func (g *Gateway) scanPolicy() policy.Engine {
	if g.config.Policy != nil {
		return g.config.Policy
	}
	return policy.Default()
}

// handleScan runs the security policy only. Useful for pre-flight checks in
// caller pipelines before committing to an execution slot.
func (g *Gateway) handleScan(c *okapi.Context) error {
	callerID := c.GetString("callerID")
	if g.limiter != nil {
		if err := g.limiter.Allow(callerID); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	var req ScanRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.ScriptContent == "" {
		return c.AbortBadRequest("scriptContent is required")
	}

	findings := g.scanPolicy().Evaluate(req.ScriptContent)
	return c.OK(ScanResponse{
		Blocked:  policy.HasBlocking(findings),
		Findings: findings,
	})
}

// HealthResponse is the JSON response for GET /v1/healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

func (g *Gateway) handleHealth(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleLiveness is the Kubernetes liveness probe
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if !status.OK() {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Authentication ---

// authenticate validates the bearer key when authentication is configured
// and stores the caller identity for rate limiting. With no keys configured
// the caller is identified by remote address.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		if len(g.config.APIKeys) == 0 {
			host, _, err := net.SplitHostPort(c.Request().RemoteAddr)
			if err != nil {
				host = c.Request().RemoteAddr
			}
			c.Set("callerID", host)
			return next(c)
		}

		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		matched := false
		for _, key := range g.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				matched = true
			}
		}
		if !matched {
			return c.AbortUnauthorized("invalid API key")
		}
		c.Set("callerID", fingerprint(apiKey))
		return next(c)
	}
}

// fingerprint derives a short non-secret identifier from an API key so the
// key itself never lands in rate limiter state or logs.
func fingerprint(key string) string {
	if len(key) <= 6 {
		return key
	}
	return key[:6]
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
