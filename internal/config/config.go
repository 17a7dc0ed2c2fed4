// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string
	BaseURL  string // absolute URL used to compute new services' gateway endpoint

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Blockchain settings
	RPCURL     string
	ChainID    int64
	PrivateKey string // relayer key, 64 hex chars, 0x prefix optional

	// Contract trio + token, loaded at startup; fatal if any is missing
	PaymentProcessorAddress string
	EscrowAddress           string
	ServiceRegistryAddress  string
	TokenAddress            string

	// Payment settings
	PlatformFeePercent   float64 // default 0.05
	OptimisticSettlement bool    // chooses the confirmation policy

	// Security
	WebhookSecret string
	RateLimitRPS  int
	AdminAPIKey   string // gates POST /services and PATCH /services/:id; empty disables both

	// ReconcileIntervalSeconds sets how often the catalog/escrow balance
	// reconciliation pass runs. 0 disables the background loop.
	ReconcileIntervalSeconds int64
}

// Base Sepolia defaults
const (
	DefaultRPCURL            = "https://sepolia.base.org"
	DefaultChainID           = 84532 // Base Sepolia
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultPlatformFeePct    = 0.05
	DefaultRateLimit         = 100
	DefaultBaseURL           = "http://localhost:8080"
	DefaultReconcileInterval = 300 // seconds
)

// Load reads configuration from environment variables.
// It loads a .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                     getEnv("PORT", DefaultPort),
		Env:                      getEnv("ENV", DefaultEnv),
		LogLevel:                 getEnv("LOG_LEVEL", DefaultLogLevel),
		BaseURL:                  getEnv("BASE_URL", DefaultBaseURL),
		DatabaseURL:              os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RPCURL:                   getEnv("RPC_URL", DefaultRPCURL),
		ChainID:                  getEnvInt64("CHAIN_ID", DefaultChainID),
		PrivateKey:               os.Getenv("RELAYER_PRIVATE_KEY"),
		PaymentProcessorAddress:  os.Getenv("PAYMENT_PROCESSOR_ADDRESS"),
		EscrowAddress:            os.Getenv("ESCROW_ADDRESS"),
		ServiceRegistryAddress:   os.Getenv("SERVICE_REGISTRY_ADDRESS"),
		TokenAddress:             os.Getenv("TOKEN_ADDRESS"),
		PlatformFeePercent:       getEnvFloat("PLATFORM_FEE_PERCENT", DefaultPlatformFeePct),
		OptimisticSettlement:     getEnvBool("OPTIMISTIC_SETTLEMENT", false),
		WebhookSecret:            os.Getenv("WEBHOOK_SECRET"),
		RateLimitRPS:             int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		AdminAPIKey:              os.Getenv("ADMIN_API_KEY"),
		ReconcileIntervalSeconds: getEnvInt64("RECONCILE_INTERVAL_SECONDS", DefaultReconcileInterval),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present. A missing
// or malformed address for any of the trio or the token is fatal at
// startup. It checks the address format only: whether contract code is
// deployed at each address is not checked here or elsewhere at startup.
func (c *Config) Validate() error {
	if c.PrivateKey == "" {
		return fmt.Errorf("RELAYER_PRIVATE_KEY is required")
	}
	key := c.PrivateKey
	if len(key) == 66 && key[:2] == "0x" {
		key = key[2:]
	}
	if len(key) != 64 {
		return fmt.Errorf("RELAYER_PRIVATE_KEY must be 64 hex characters (with or without 0x prefix)")
	}

	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}
	if c.ChainID == 0 {
		return fmt.Errorf("CHAIN_ID is required")
	}

	for name, addr := range map[string]string{
		"PAYMENT_PROCESSOR_ADDRESS": c.PaymentProcessorAddress,
		"ESCROW_ADDRESS":            c.EscrowAddress,
		"SERVICE_REGISTRY_ADDRESS":  c.ServiceRegistryAddress,
		"TOKEN_ADDRESS":             c.TokenAddress,
	} {
		if addr == "" {
			return fmt.Errorf("%s is required", name)
		}
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%s is not a valid address: %q", name, addr)
		}
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
