package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
const testAddr1 = "0x1111111111111111111111111111111111111111"
const testAddr2 = "0x2222222222222222222222222222222222222222"
const testAddr3 = "0x3333333333333333333333333333333333333333"
const testAddr4 = "0x4444444444444444444444444444444444444444"

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func setRequiredEnv(t *testing.T) {
	t.Helper()
	setEnv(t, "RELAYER_PRIVATE_KEY", testKey)
	setEnv(t, "PAYMENT_PROCESSOR_ADDRESS", testAddr1)
	setEnv(t, "ESCROW_ADDRESS", testAddr2)
	setEnv(t, "SERVICE_REGISTRY_ADDRESS", testAddr3)
	setEnv(t, "TOKEN_ADDRESS", testAddr4)
}

func TestLoad_WithValidConfig(t *testing.T) {
	setRequiredEnv(t)
	setEnv(t, "PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DefaultRPCURL, cfg.RPCURL)
	assert.Equal(t, int64(DefaultChainID), cfg.ChainID)
	assert.Equal(t, testAddr2, cfg.EscrowAddress)
}

func TestLoad_MissingPrivateKey(t *testing.T) {
	setRequiredEnv(t)
	setEnv(t, "RELAYER_PRIVATE_KEY", "")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "RELAYER_PRIVATE_KEY is required")
}

func TestLoad_InvalidPrivateKeyLength(t *testing.T) {
	setRequiredEnv(t)
	setEnv(t, "RELAYER_PRIVATE_KEY", "tooshort")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "64 hex characters")
}

func TestLoad_MissingContractAddress(t *testing.T) {
	setRequiredEnv(t)
	setEnv(t, "ESCROW_ADDRESS", "")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ESCROW_ADDRESS is required")
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{
		PrivateKey:              testKey,
		RPCURL:                  "https://sepolia.base.org",
		ChainID:                 84532,
		PaymentProcessorAddress: testAddr1,
		EscrowAddress:           testAddr2,
		ServiceRegistryAddress:  testAddr3,
		TokenAddress:            testAddr4,
	}

	tests := []struct {
		name    string
		mutate  func(c Config) Config
		wantErr string
	}{
		{"valid config", func(c Config) Config { return c }, ""},
		{"missing private key", func(c Config) Config { c.PrivateKey = ""; return c }, "RELAYER_PRIVATE_KEY is required"},
		{"invalid private key length", func(c Config) Config { c.PrivateKey = "abc123"; return c }, "64 hex characters"},
		{"missing RPC URL", func(c Config) Config { c.RPCURL = ""; return c }, "RPC_URL is required"},
		{"missing chain id", func(c Config) Config { c.ChainID = 0; return c }, "CHAIN_ID is required"},
		{"missing escrow address", func(c Config) Config { c.EscrowAddress = ""; return c }, "ESCROW_ADDRESS is required"},
		{"invalid token address", func(c Config) Config { c.TokenAddress = "not-an-address"; return c }, "TOKEN_ADDRESS is not a valid address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.mutate(valid)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvInt64(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("NONEXISTENT_VAR", 99))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
}

func TestGetEnvFloat(t *testing.T) {
	setEnv(t, "TEST_FLOAT", "0.07")
	assert.InDelta(t, 0.07, getEnvFloat("TEST_FLOAT", 0.05), 1e-9)
	assert.InDelta(t, 0.05, getEnvFloat("NONEXISTENT_FLOAT", 0.05), 1e-9)
}

func TestGetEnvBool(t *testing.T) {
	setEnv(t, "TEST_BOOL", "true")
	assert.True(t, getEnvBool("TEST_BOOL", false))
	assert.False(t, getEnvBool("NONEXISTENT_BOOL", false))
}
