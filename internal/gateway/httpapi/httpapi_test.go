package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ngao-sh/ngao/internal/engine"
	"github.com/ngao-sh/ngao/internal/policy"
	"github.com/ngao-sh/ngao/internal/ratelimit"
)

// stubExecutor returns a canned result and records what it was asked to run.
type stubExecutor struct {
	result *engine.Result
	last   engine.Request
	called int
}

func (s *stubExecutor) Execute(_ context.Context, req engine.Request) *engine.Result {
	s.called++
	s.last = req
	if s.result != nil {
		return s.result
	}
	return &engine.Result{Status: engine.StatusSuccess, ExitCode: intPtr(0)}
}

func intPtr(n int) *int { return &n }

func newTestGateway(t *testing.T, cfg Config, ex engine.Executor, rl *ratelimit.Limiter) *Gateway {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	g := NewGateway(cfg, ex, rl, logger)
	g.registerRoutes()
	return g
}

func doJSON(t *testing.T, g *Gateway, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	g.okapi.ServeHTTP(rec, req)
	return rec
}

func TestHandleExecute_StatusToHTTPCode(t *testing.T) {
	tests := []struct {
		name   string
		result *engine.Result
		want   int
	}{
		{"success", &engine.Result{Status: engine.StatusSuccess, ExitCode: intPtr(0), Stdout: "hi\n"}, http.StatusOK},
		{"script error", &engine.Result{Status: engine.StatusScriptError, ExitCode: intPtr(3)}, http.StatusOK},
		{"validation error", &engine.Result{Status: engine.StatusValidationError, Error: "script too large"}, http.StatusBadRequest},
		{"security violation", &engine.Result{Status: engine.StatusSecurityViolation}, http.StatusForbidden},
		{"timeout", &engine.Result{Status: engine.StatusTimeout}, http.StatusRequestTimeout},
		{"launch failure", &engine.Result{Status: engine.StatusLaunchFailure, Error: "interpreter not found"}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := &stubExecutor{result: tt.result}
			g := newTestGateway(t, Config{}, ex, nil)

			rec := doJSON(t, g, http.MethodPost, "/v1/execute", `{"scriptContent":"echo hi"}`, nil)
			if rec.Code != tt.want {
				t.Fatalf("http status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}

			var resp ExecuteResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decoding response: %v", err)
			}
			if resp.Status != string(tt.result.Status) {
				t.Errorf("status = %q, want %q", resp.Status, tt.result.Status)
			}
			if resp.CorrelationID == "" {
				t.Error("correlationId missing from response")
			}
			if ex.called != 1 {
				t.Errorf("executor called %d times, want 1", ex.called)
			}
		})
	}
}

func TestHandleExecute_PassesRequestThrough(t *testing.T) {
	ex := &stubExecutor{}
	g := newTestGateway(t, Config{}, ex, nil)

	body := `{"scriptContent":"echo $name","parameters":{"name":"web01"},"timeoutSeconds":5}`
	rec := doJSON(t, g, http.MethodPost, "/v1/execute", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("http status = %d, want 200", rec.Code)
	}
	if ex.last.Script != "echo $name" {
		t.Errorf("script = %q", ex.last.Script)
	}
	if ex.last.Timeout.Seconds() != 5 {
		t.Errorf("timeout = %s, want 5s", ex.last.Timeout)
	}
	if ex.last.CorrelationID == "" {
		t.Error("correlation ID not assigned before execution")
	}
}

func TestHandleExecute_InvalidBody(t *testing.T) {
	ex := &stubExecutor{}
	g := newTestGateway(t, Config{}, ex, nil)

	rec := doJSON(t, g, http.MethodPost, "/v1/execute", `{"scriptContent":`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("http status = %d, want 400", rec.Code)
	}
	if ex.called != 0 {
		t.Errorf("executor called %d times for a malformed body, want 0", ex.called)
	}
}

func TestAuthenticate_BearerKey(t *testing.T) {
	cfg := Config{APIKeys: []string{"secret-key-1", "secret-key-2"}}

	tests := []struct {
		name string
		hdr  map[string]string
		want int
	}{
		{"missing header", nil, http.StatusUnauthorized},
		{"malformed header", map[string]string{"Authorization": "Basic abc"}, http.StatusUnauthorized},
		{"wrong key", map[string]string{"Authorization": "Bearer wrong"}, http.StatusUnauthorized},
		{"first key accepted", map[string]string{"Authorization": "Bearer secret-key-1"}, http.StatusOK},
		{"second key accepted", map[string]string{"Authorization": "Bearer secret-key-2"}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := &stubExecutor{}
			g := newTestGateway(t, cfg, ex, nil)

			rec := doJSON(t, g, http.MethodPost, "/v1/execute", `{"scriptContent":"echo hi"}`, tt.hdr)
			if rec.Code != tt.want {
				t.Fatalf("http status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
			wantCalls := 0
			if tt.want == http.StatusOK {
				wantCalls = 1
			}
			if ex.called != wantCalls {
				t.Errorf("executor called %d times, want %d", ex.called, wantCalls)
			}
		})
	}
}

func TestAuthenticate_NoKeysIdentifiesByRemoteAddr(t *testing.T) {
	// With auth disabled the remote address is the rate limiter key, so two
	// callers get independent buckets and a repeat caller exhausts its own.
	ex := &stubExecutor{}
	rl := ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: 1, BurstSize: 1})
	g := newTestGateway(t, Config{}, ex, rl)

	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/execute", strings.NewReader(`{"scriptContent":"echo hi"}`))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		g.okapi.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send("10.0.0.1:40001"); code != http.StatusOK {
		t.Fatalf("first caller status = %d, want 200", code)
	}
	if code := send("10.0.0.2:40002"); code != http.StatusOK {
		t.Fatalf("second caller status = %d, want 200", code)
	}
	if code := send("10.0.0.1:40003"); code != http.StatusTooManyRequests {
		t.Fatalf("repeat caller status = %d, want 429", code)
	}
	if ex.called != 2 {
		t.Errorf("executor called %d times, want 2", ex.called)
	}
}

func TestHandleScan_UsesConfiguredPolicy(t *testing.T) {
	// The scan verdict must come from the operator-compiled rule set, not the
	// built-in catalog: with PS001 disabled, Invoke-Expression no longer blocks.
	body := `{"scriptContent":"iex $payload"}`

	g := newTestGateway(t, Config{Policy: policy.Compile([]string{"PS001"}, nil)}, &stubExecutor{}, nil)
	rec := doJSON(t, g, http.MethodPost, "/v1/scan", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("http status = %d (body %s)", rec.Code, rec.Body.String())
	}
	var resp ScanResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Blocked {
		t.Errorf("blocked = true under a rule set with PS001 disabled; findings: %+v", resp.Findings)
	}

	// Without an injected policy the default catalog still blocks it.
	g = newTestGateway(t, Config{}, &stubExecutor{}, nil)
	rec = doJSON(t, g, http.MethodPost, "/v1/scan", body, nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !resp.Blocked {
		t.Error("blocked = false under the default catalog, want true")
	}
}

func TestHandleScan_EmptyScript(t *testing.T) {
	g := newTestGateway(t, Config{}, &stubExecutor{}, nil)
	rec := doJSON(t, g, http.MethodPost, "/v1/scan", `{"scriptContent":""}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("http status = %d, want 400", rec.Code)
	}
}

func TestProbeEndpointsSkipAuth(t *testing.T) {
	g := newTestGateway(t, Config{APIKeys: []string{"secret"}}, &stubExecutor{}, nil)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := doJSON(t, g, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d without credentials, want 200", path, rec.Code)
		}
	}
}

func TestHTTPStatusFor(t *testing.T) {
	tests := []struct {
		status engine.Status
		want   int
	}{
		{engine.StatusSuccess, http.StatusOK},
		{engine.StatusScriptError, http.StatusOK},
		{engine.StatusValidationError, http.StatusBadRequest},
		{engine.StatusSecurityViolation, http.StatusForbidden},
		{engine.StatusTimeout, http.StatusRequestTimeout},
		{engine.StatusLaunchFailure, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := httpStatusFor(tt.status); got != tt.want {
			t.Errorf("httpStatusFor(%s) = %d, want %d", tt.status, got, tt.want)
		}
	}
}

func TestFingerprint(t *testing.T) {
	if got := fingerprint("abcdefghij"); got != "abcdef" {
		t.Errorf("fingerprint = %q, want abcdef", got)
	}
	if got := fingerprint("abc"); got != "abc" {
		t.Errorf("short key fingerprint = %q", got)
	}
}

func TestNewCorrelationID(t *testing.T) {
	a := newCorrelationID()
	b := newCorrelationID()
	if len(a) != 16 {
		t.Errorf("correlation ID length = %d, want 16 hex chars", len(a))
	}
	if a == b {
		t.Error("correlation IDs should be unique")
	}
}
