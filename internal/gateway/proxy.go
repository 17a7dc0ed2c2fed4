package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/x402gw/gateway/internal/circuitbreaker"
)

const maxResponseSize = 5 * 1024 * 1024 // 5MB

// DefaultHTTPTimeout bounds the upstream proxy call per spec §5 — the
// suspension point at the proxy call is otherwise unbounded.
const DefaultHTTPTimeout = 30 * time.Second

// ForwardRequest is the input to the upstream HTTP forwarder, issued only
// after settlement has succeeded.
type ForwardRequest struct {
	Endpoint string
	Method   string
	Body     map[string]interface{}
	Payer    string
	TxHash   string
}

// ForwardResponse is the HTTP forwarding result.
type ForwardResponse struct {
	StatusCode int
	Body       map[string]interface{}
	LatencyMs  int64
}

// breakerThreshold/breakerOpenDuration size the per-endpoint circuit
// breaker below: a PROXY service that fails 5 calls in a row is cut off
// for 30s rather than left to time out every new caller individually.
const (
	breakerThreshold    = 5
	breakerOpenDuration = 30 * time.Second
)

// ErrCircuitOpen is returned when a PROXY endpoint's circuit breaker has
// tripped and is refusing new upstream calls.
var ErrCircuitOpen = fmt.Errorf("upstream endpoint circuit is open")

// Forwarder sends HTTP requests to a PROXY service's registered endpoint.
type Forwarder struct {
	client  *http.Client
	breaker *circuitbreaker.Breaker
}

// NewForwarder creates a new HTTP forwarder. Pass timeout=0 to use
// DefaultHTTPTimeout.
func NewForwarder(timeout time.Duration) *Forwarder {
	if timeout == 0 {
		timeout = DefaultHTTPTimeout
	}
	return &Forwarder{
		client:  &http.Client{Timeout: timeout},
		breaker: circuitbreaker.New(breakerThreshold, breakerOpenDuration),
	}
}

// Forward issues the upstream call. Per spec §4.8 it forwards a small,
// explicit header set (X-402-Payer, X-402-TxHash) plus the body, and does
// not retry on failure — the caller already paid, so retrying here would
// risk a second unintended side effect on the upstream service. Calls are
// gated by a per-endpoint circuit breaker so a consistently-failing
// upstream doesn't eat the timeout on every subsequent caller.
func (f *Forwarder) Forward(ctx context.Context, req ForwardRequest) (*ForwardResponse, error) {
	if !f.breaker.Allow(req.Endpoint) {
		return nil, ErrCircuitOpen
	}

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	body, err := json.Marshal(req.Body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-402-Payer", req.Payer)
	httpReq.Header.Set("X-402-TxHash", req.TxHash)

	start := time.Now()
	resp, err := f.client.Do(httpReq)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		f.breaker.RecordFailure(req.Endpoint)
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxResponseSize)
	respBody, err := io.ReadAll(limited)
	if err != nil {
		f.breaker.RecordFailure(req.Endpoint)
		return nil, fmt.Errorf("read upstream response: %w", err)
	}

	var parsed map[string]interface{}
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			parsed = map[string]interface{}{"raw": string(respBody)}
		}
	}

	fwdResp := &ForwardResponse{StatusCode: resp.StatusCode, Body: parsed, LatencyMs: latency}

	if resp.StatusCode >= 500 {
		f.breaker.RecordFailure(req.Endpoint)
		return fwdResp, fmt.Errorf("upstream service returned HTTP %d", resp.StatusCode)
	}

	f.breaker.RecordSuccess(req.Endpoint)
	return fwdResp, nil
}
