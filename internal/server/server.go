// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/x402gw/gateway/internal/catalog"
	"github.com/x402gw/gateway/internal/chaincontracts"
	"github.com/x402gw/gateway/internal/config"
	"github.com/x402gw/gateway/internal/evmchain"
	"github.com/x402gw/gateway/internal/gateway"
	"github.com/x402gw/gateway/internal/health"
	"github.com/x402gw/gateway/internal/logging"
	"github.com/x402gw/gateway/internal/mcpserver"
	"github.com/x402gw/gateway/internal/metrics"
	"github.com/x402gw/gateway/internal/ratelimit"
	"github.com/x402gw/gateway/internal/realtime"
	"github.com/x402gw/gateway/internal/reconciliation"
	"github.com/x402gw/gateway/internal/relayer"
	"github.com/x402gw/gateway/internal/reputation"
	"github.com/x402gw/gateway/internal/security"
	"github.com/x402gw/gateway/internal/validation"
	"github.com/x402gw/gateway/internal/verifier"
	"github.com/x402gw/gateway/internal/watcher"
	"github.com/x402gw/gateway/internal/webhooks"
	"github.com/x402gw/gateway/pkg/x402"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and every domain dependency it wires
// together: the catalog store, the contract trio, the verifier, and the
// settlement engine, composed into a gateway.Service behind gin routes.
type Server struct {
	cfg *config.Config

	rpcClient evmchain.EthClient // test-only injection; see WithRPCClient

	client    *evmchain.Client
	registry  *chaincontracts.Registry
	escrow    *chaincontracts.Escrow
	processor *chaincontracts.Processor
	token     *chaincontracts.Token

	catalogStore catalog.Store
	engine       *relayer.Engine
	gatewaySvc   *gateway.Service
	handlers     *gateway.Handlers

	rateLimiter *ratelimit.Limiter
	db          *sql.DB // nil if using in-memory

	hub        *realtime.Hub
	reconciler *reconciliation.Service
	healthReg  *health.Registry
	mcpHandler http.Handler

	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRPCClient injects a fake evmchain.EthClient, bypassing the dial to
// cfg.RPCURL — used by tests to exercise the server without a live chain.
func WithRPCClient(rpc evmchain.EthClient) Option {
	return func(s *Server) {
		s.rpcClient = rpc
	}
}

// New creates a new server instance: it dials the chain, loads the
// contract trio and token metadata, wires the catalog store (Postgres if
// DATABASE_URL is set, otherwise in-memory), and assembles the gateway
// pipeline of verifier + relayer + catalog behind the gin router.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	var evmOpts []evmchain.Option
	if s.rpcClient != nil {
		evmOpts = append(evmOpts, evmchain.WithClient(s.rpcClient))
	}
	client, err := evmchain.New(ctx, evmchain.Config{
		RPCURL:     cfg.RPCURL,
		PrivateKey: cfg.PrivateKey,
		ChainID:    cfg.ChainID,
	}, evmOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chain: %w", err)
	}
	s.client = client

	s.registry = chaincontracts.NewRegistry(client, common.HexToAddress(cfg.ServiceRegistryAddress))
	s.escrow = chaincontracts.NewEscrow(client, common.HexToAddress(cfg.EscrowAddress))
	s.processor = chaincontracts.NewProcessor(client, common.HexToAddress(cfg.PaymentProcessorAddress))
	s.token = chaincontracts.NewToken(client, common.HexToAddress(cfg.TokenAddress))

	if owner, err := s.escrow.Owner(ctx); err != nil {
		s.logger.Warn("could not verify escrow ownership invariant", "error", err)
	} else if !sameAddress(owner, s.processor.Address()) {
		s.logger.Error("deployment invariant violated: escrow.owner must be the PaymentProcessor",
			"escrow_owner", owner.Hex(), "processor", s.processor.Address().Hex())
	}

	tokenName, err := s.token.Name(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read token name: %w", err)
	}
	tokenSymbol, err := s.token.Symbol(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read token symbol: %w", err)
	}
	tokenDecimals, err := s.token.Decimals(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read token decimals: %w", err)
	}

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		s.catalogStore = catalog.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.catalogStore = catalog.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	policy := relayer.PolicyOneConfirmation
	if cfg.OptimisticSettlement {
		policy = relayer.PolicyOptimistic
	}
	s.engine = relayer.New(client, s.processor, s.token, policy)

	domain := x402.Domain{
		Name:              tokenName,
		Version:           "1",
		ChainID:           client.ChainID(),
		VerifyingContract: s.token.Address(),
	}
	v := verifier.New(domain, s.processor)

	blacklist := gateway.NewBlacklist()

	s.hub = realtime.NewHub(s.logger)

	s.gatewaySvc = &gateway.Service{
		Catalog: s.catalogStore,
		Challenge: &gateway.ChallengeBuilder{
			EscrowAddress: s.escrow.Address().Hex(),
			ChainID:       cfg.ChainID,
			Token: gateway.TokenInfo{
				Address:  s.token.Address().Hex(),
				Name:     tokenName,
				Symbol:   tokenSymbol,
				Decimals: tokenDecimals,
			},
		},
		Verifier:         v,
		Relayer:          s.engine,
		Registry:         s.registry,
		Escrow:           s.escrow,
		Forwarder:        gateway.NewForwarder(gateway.DefaultHTTPTimeout),
		EscrowAddress:    s.escrow.Address(),
		Blacklist:        blacklist,
		RateLimitEnabled: cfg.OptimisticSettlement,
		Webhooks:         webhooks.NewNotifier(cfg.WebhookSecret, s.logger),
		Hub:              s.hub,
		Reputation:       reputation.NewCalculator(),
	}
	// The watcher's onResolved callback closes over gatewaySvc, which is
	// already fully constructed by this point — only the Watcher field
	// itself is filled in after the fact.
	s.gatewaySvc.Watcher = watcher.New(client, s.logger, s.gatewaySvc.OnConfirmationResolved)

	if cfg.OptimisticSettlement {
		s.logger.Info("optimistic settlement: per-payer rate limiting enabled")
	}
	s.handlers = gateway.NewHandlers(s.gatewaySvc)
	s.mcpHandler = mcpserver.NewHTTPHandler(s.gatewaySvc)

	s.reconciler = reconciliation.New(
		catalogProviderLister{store: s.catalogStore},
		s.escrow,
		s.logger,
		nil,
	)

	s.healthReg = health.NewRegistry()
	s.healthReg.Register("rpc", func(ctx context.Context) health.Status {
		if _, err := s.token.BalanceOf(ctx, common.Address{}); err != nil {
			return health.Status{Name: "rpc", Healthy: false, Detail: err.Error()}
		}
		return health.Status{Name: "rpc", Healthy: true}
	})
	if s.db != nil {
		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			if err := s.db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

func sameAddress(a, b common.Address) bool {
	return a.Hex() == b.Hex()
}

// catalogProviderLister adapts catalog.Store to reconciliation.ProviderLister,
// converting the mirror's string amounts and addresses to the big.Int/
// common.Address shapes reconciliation compares against the chain.
type catalogProviderLister struct {
	store catalog.Store
}

func (c catalogProviderLister) ListProviders(ctx context.Context) ([]reconciliation.ProviderTotal, error) {
	providers, err := c.store.ListProviders(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]reconciliation.ProviderTotal, 0, len(providers))
	for _, p := range providers {
		if !common.IsHexAddress(p.Address) {
			continue
		}
		earned, ok := new(big.Int).SetString(p.TotalEarnedBase, 10)
		if !ok {
			earned = big.NewInt(0)
		}
		claimed, ok := new(big.Int).SetString(p.TotalClaimedBase, 10)
		if !ok {
			claimed = big.NewInt(0)
		}
		out = append(out, reconciliation.ProviderTotal{
			Address:          common.HexToAddress(p.Address),
			TotalEarnedBase:  earned,
			TotalClaimedBase: claimed,
		})
	}
	return out, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware([]string{"*"}))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())

	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed", "method", c.Request.Method, "path", path, "status", status, "latency_ms", latency.Milliseconds())
		case status >= 400:
			logger.Warn("request completed", "method", c.Request.Method, "path", path, "status", status, "latency_ms", latency.Milliseconds())
		default:
			logger.Info("request completed", "method", c.Request.Method, "path", path, "status", status, "latency_ms", latency.Milliseconds())
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	s.router.GET("/", s.infoHandler)
	s.router.GET("/docs", s.docsRedirectHandler)

	s.router.GET("/ws", func(c *gin.Context) { s.hub.HandleWebSocket(c.Writer, c.Request) })
	s.router.Any("/mcp", gin.WrapH(s.mcpHandler))
	s.router.Any("/mcp/*any", gin.WrapH(s.mcpHandler))

	s.handlers.Register(s.router, security.AdminAuth(s.cfg.AdminAPIKey))
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.healthReg.CheckAll(ctx)

	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		if st.Healthy {
			checks[st.Name] = "healthy"
		} else {
			checks[st.Name] = "unhealthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) docsRedirectHandler(c *gin.Context) {
	c.Redirect(http.StatusTemporaryRedirect, "https://github.com/x402gw/gateway")
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "x402 payment gateway",
		"relayer":     s.client.Address().Hex(),
		"chainId":     s.cfg.ChainID,
		"escrow":      s.escrow.Address().Hex(),
		"processor":   s.processor.Address().Hex(),
		"registry":    s.registry.Address().Hex(),
		"token":       s.token.Address().Hex(),
		"pluginSpec":  "/.well-known/ai-plugin.json",
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	go s.hub.Run(runCtx)

	if s.cfg.ReconcileIntervalSeconds > 0 {
		interval := time.Duration(s.cfg.ReconcileIntervalSeconds) * time.Second
		go s.reconciler.Start(runCtx, interval)
		s.logger.Info("reconciliation loop started", "interval", interval)
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "relayer", s.client.Address().Hex())
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.reconciler != nil {
		s.reconciler.Stop()
	}

	// Drain any background optimistic-confirmation goroutines the
	// relayer started, so a restart doesn't race its own next instance.
	s.engine.Wait()

	// Drain any settlements still being tracked by the confirmation
	// watcher for the same reason.
	if s.gatewaySvc != nil && s.gatewaySvc.Watcher != nil {
		s.gatewaySvc.Watcher.Wait()
	}

	s.client.Close()

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// GatewayService returns the server's fully assembled gateway.Service, for
// callers that need to mount it against a transport other than the HTTP
// router this Server otherwise owns — namely cmd/mcp's stdio MCP server.
func (s *Server) GatewayService() *gateway.Service {
	return s.gatewaySvc
}

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
