package server

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"

	"github.com/x402gw/gateway/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func selector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

// encodeString ABI-encodes a single dynamic string return value.
func encodeString(s string) []byte {
	out := make([]byte, 32) // offset to the dynamic data
	out[31] = 0x20

	lenWord := make([]byte, 32)
	big.NewInt(int64(len(s))).FillBytes(lenWord)
	out = append(out, lenWord...)

	data := []byte(s)
	padded := ((len(data) + 31) / 32) * 32
	if padded == 0 {
		padded = 32
	}
	buf := make([]byte, padded)
	copy(buf, data)
	return append(out, buf...)
}

func encodeUint8(v uint8) []byte {
	out := make([]byte, 32)
	out[31] = v
	return out
}

func encodeAddress(addr common.Address) []byte {
	out := make([]byte, 32)
	copy(out[12:], addr.Bytes())
	return out
}

// stubRPC is a minimal evmchain.EthClient fake, the same shape
// chaincontracts_test.go uses, extended to dispatch on method selector so
// the token metadata reads (name/symbol/decimals) each get a plausible
// response during server construction.
type stubRPC struct {
	sentTxs []*types.Transaction
}

func (s *stubRPC) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}
func (s *stubRPC) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}
func (s *stubRPC) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	s.sentTxs = append(s.sentTxs, tx)
	return nil
}
func (s *stubRPC) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return nil, ethereum.NotFound
}
func (s *stubRPC) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if len(call.Data) < 4 {
		return nil, nil
	}
	switch {
	case bytes.Equal(call.Data[:4], selector("name()")):
		return encodeString("Mock USD Coin"), nil
	case bytes.Equal(call.Data[:4], selector("symbol()")):
		return encodeString("USDC"), nil
	case bytes.Equal(call.Data[:4], selector("decimals()")):
		return encodeUint8(6), nil
	case bytes.Equal(call.Data[:4], selector("owner()")):
		return encodeAddress(common.HexToAddress("0x3333333333333333333333333333333333333333")), nil
	case bytes.Equal(call.Data[:4], selector("balanceOf(address)")):
		return encodeUint8(0), nil
	default:
		return make([]byte, 32), nil
	}
}
func (s *stubRPC) TransactionByHash(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error) {
	return nil, false, ethereum.NotFound
}
func (s *stubRPC) NetworkID(ctx context.Context) (*big.Int, error) { return big.NewInt(84532), nil }
func (s *stubRPC) BlockNumber(ctx context.Context) (uint64, error) { return 1, nil }
func (s *stubRPC) Close()                                          {}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:                    "0",
		Env:                     "development",
		LogLevel:                "error",
		RPCURL:                  "https://sepolia.base.org",
		ChainID:                 84532,
		PrivateKey:              "4646464646464646464646464646464646464646464646464646464646464646",
		PaymentProcessorAddress: "0x3333333333333333333333333333333333333333",
		EscrowAddress:           "0x1111111111111111111111111111111111111111",
		ServiceRegistryAddress:  "0x4444444444444444444444444444444444444444",
		TokenAddress:            "0x2222222222222222222222222222222222222222",
		PlatformFeePercent:      0.05,
	}
}

// newTestServer creates a server wired against a stubbed RPC client.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig(), WithRPCClient(&stubRPC{}))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/live", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/ready", nil)
	s.router.ServeHTTP(w, req)

	// Server hasn't called Run() so ready is false
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestGatewayRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := map[string]bool{
		"GET:/services":                     false,
		"GET:/services/:id":                 false,
		"GET:/gateway/:service_id":          false,
		"POST:/gateway/:service_id":         false,
		"POST:/agent/execute":               false,
		"POST:/verify-payment":              false,
		"POST:/claim":                       false,
		"GET:/revenue/wallet":               false,
		"GET:/revenue/:provider_id":         false,
		"GET:/.well-known/ai-plugin.json":   false,
	}

	for _, route := range routes {
		key := route.Method + ":" + route.Path
		if _, ok := expected[key]; ok {
			expected[key] = true
		}
	}

	for route, found := range expected {
		if !found {
			t.Errorf("gateway route %s not registered", route)
		}
	}
}

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := []string{
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"GET:/",
	}

	routeSet := make(map[string]bool)
	for _, route := range routes {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Core route %s not registered", e)
		}
	}
}

// ---------------------------------------------------------------------------
// Service catalog test
// ---------------------------------------------------------------------------

func TestListServicesEmptyCatalog(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/services", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestUnknownServiceChallenge(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/gateway/does-not-exist", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown service, got %d: %s", w.Code, w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// 404 test
// ---------------------------------------------------------------------------

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/nonexistent", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}
