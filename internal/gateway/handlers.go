package gateway

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/x402gw/gateway/internal/catalog"
	"github.com/x402gw/gateway/internal/logging"
	"github.com/x402gw/gateway/internal/pagination"
	"github.com/x402gw/gateway/internal/reputation"
	"github.com/x402gw/gateway/internal/validation"
	"github.com/x402gw/gateway/internal/x402api"
	"github.com/x402gw/gateway/pkg/x402"
)

// catalogEntry adds a reputation score to a catalog service record for
// display, per spec §4.9's agent-facing catalog.
type catalogEntry struct {
	*catalog.ServiceRecord
	Reputation reputation.Score `json:"reputation"`
}

// Handlers binds a Service to gin routes. Kept separate from Service
// itself so the orchestration logic stays testable without an HTTP
// context in the loop.
type Handlers struct {
	Service *Service
}

func NewHandlers(svc *Service) *Handlers {
	if svc.RateLimitEnabled && svc.RateLimiter == nil {
		svc.RateLimiter = newPayerRateLimiter(DefaultRateLimitRPM)
	}
	return &Handlers{Service: svc}
}

// Register wires every gateway-owned route onto r, mirroring the
// grouping style the rest of the server uses for its own route groups.
// adminAuth gates the privileged operations (service registration and
// service update) the gateway exposes over HTTP.
func (h *Handlers) Register(r gin.IRouter, adminAuth gin.HandlerFunc) {
	r.GET("/services", h.listServices)
	r.GET("/services/:id", h.getService)
	r.GET("/services/:id/logs", h.serviceLogs)
	r.GET("/agent/services", h.listServices)
	r.GET("/agent/services/:id", h.getService)
	r.POST("/services", adminAuth, h.registerService)
	r.PATCH("/services/:id", adminAuth, h.updateService)

	r.GET("/gateway/:service_id", h.access)
	r.POST("/gateway/:service_id", h.access)

	r.POST("/agent/execute", h.agentExecute)
	r.POST("/verify-payment", h.verifyPayment)
	r.POST("/claim", h.claim)

	r.GET("/revenue/wallet", h.revenueWallet)
	r.GET("/revenue/:provider_id", validation.AddressParamMiddleware("provider_id"), h.revenueProvider)

	r.GET("/.well-known/ai-plugin.json", h.pluginManifest)
}

func (h *Handlers) listServices(c *gin.Context) {
	filter := catalog.ListFilter{
		Tag:        c.Query("tag"),
		Search:     c.Query("search"),
		OnlyActive: true,
	}
	services, err := h.Service.Catalog.ListServices(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list services"})
		return
	}
	ctx := c.Request.Context()
	entries := make([]catalogEntry, len(services))
	for i, svc := range services {
		entries[i] = catalogEntry{ServiceRecord: svc, Reputation: h.Service.ServiceReputation(ctx, svc.ServiceID)}
	}
	c.JSON(http.StatusOK, gin.H{"services": entries})
}

func (h *Handlers) getService(c *gin.Context) {
	id := c.Param("id")
	svc, err := h.Service.Catalog.GetService(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, catalog.ErrServiceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "service not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to look up service"})
		return
	}
	c.JSON(http.StatusOK, catalogEntry{ServiceRecord: svc, Reputation: h.Service.ServiceReputation(c.Request.Context(), id)})
}

// serviceLogs implements GET /services/:id/logs?cursor=C&limit=N: a
// cursor-paginated view of a service's access-log history.
func (h *Handlers) serviceLogs(c *gin.Context) {
	id := c.Param("id")

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	logs, err := h.Service.Catalog.ListAccessLogs(c.Request.Context(), id, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list access logs"})
		return
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor"})
		return
	}
	if cursor != nil {
		filtered := logs[:0]
		for _, l := range logs {
			if l.CreatedAt.Before(cursor.CreatedAt) || (l.CreatedAt.Equal(cursor.CreatedAt) && l.ID < cursor.ID) {
				filtered = append(filtered, l)
			}
		}
		logs = filtered
	}

	fetchLimit := limit + 1
	if fetchLimit > len(logs) {
		fetchLimit = len(logs)
	}
	page, next, hasMore := pagination.ComputePage(logs[:fetchLimit], limit, func(l *catalog.AccessLogEntry) (time.Time, string) {
		return l.CreatedAt, l.ID
	})

	c.JSON(http.StatusOK, gin.H{"logs": page, "nextCursor": next, "hasMore": hasMore})
}

// registerService implements POST /services, gated by adminAuth: creates
// an off-chain catalog record and registers the matching service_id_hash
// on the registry contract, rolling the catalog record back if the
// on-chain call fails.
func (h *Handlers) registerService(c *gin.Context) {
	var req RegisterServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": x402api.KindInvalidPayload, "message": err.Error()})
		return
	}
	record, err := h.Service.RegisterService(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, catalog.ErrServiceExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "service already exists"})
			return
		}
		writeGatewayError(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

// updateService implements PATCH /services/:id, gated by adminAuth: the
// price-update and deactivate/reactivate operations of spec §4.6, applied
// to the catalog mirror and the registry contract together.
func (h *Handlers) updateService(c *gin.Context) {
	var req UpdateServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": x402api.KindInvalidPayload, "message": err.Error()})
		return
	}
	record, err := h.Service.UpdateService(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		writeGatewayError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// access implements GET|POST /gateway/:service_id: the protected
// endpoint of spec §4.1. No payment-signature header yields the 402
// challenge; a present header is decoded, verified, settled, and (for
// PROXY/HOSTED services) fulfilled.
func (h *Handlers) access(c *gin.Context) {
	ctx := c.Request.Context()
	logger := logging.FromContext(ctx)
	serviceID := c.Param("service_id")

	header := c.GetHeader("X-PAYMENT")
	if header == "" {
		header = c.GetHeader("payment-signature")
	}

	svc, challenge, err := h.Service.BuildChallenge(ctx, serviceID)
	if err != nil {
		writeGatewayError(c, err)
		return
	}

	if header == "" {
		c.JSON(http.StatusPaymentRequired, challenge)
		return
	}

	accepted, auth, err := x402.DecodeTunnel(header)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": x402api.KindInvalidPayload, "message": err.Error()})
		return
	}
	if !x402.RequirementsEqual(accepted.Accepted, challenge.Accepts[0]) {
		c.JSON(x402api.KindBadRequirementsEcho.HTTPStatus(), gin.H{"error": x402api.KindBadRequirementsEcho})
		return
	}

	var body map[string]any
	if c.Request.Method == http.MethodPost {
		_ = c.ShouldBindJSON(&body)
	}

	result, err := h.Service.Access(ctx, c.Request.Method, svc, auth, body)
	if err != nil {
		writeGatewayError(c, err)
		return
	}
	if result.UpstreamError != "" {
		logger.Warn("upstream call failed after settlement", "service_id", serviceID, "tx_hash", result.TxHash, "error", result.UpstreamError)
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handlers) agentExecute(c *gin.Context) {
	var req AgentExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": x402api.KindInvalidPayload, "message": err.Error()})
		return
	}
	result, err := h.Service.ExecuteForAgent(c.Request.Context(), req)
	if err != nil {
		writeGatewayError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handlers) verifyPayment(c *gin.Context) {
	var req VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": x402api.KindInvalidPayload, "message": err.Error()})
		return
	}
	result, err := h.Service.VerifyPayment(c.Request.Context(), req)
	if err != nil {
		writeGatewayError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handlers) claim(c *gin.Context) {
	var req ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": x402api.KindInvalidPayload, "message": err.Error()})
		return
	}
	claim, err := h.Service.Claim(c.Request.Context(), req)
	if err != nil {
		writeGatewayError(c, err)
		return
	}
	c.JSON(http.StatusOK, claim)
}

func (h *Handlers) revenueWallet(c *gin.Context) {
	address := c.Query("address")
	if address == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address query parameter is required"})
		return
	}
	result, err := h.Service.RevenueForWallet(c.Request.Context(), address)
	if err != nil {
		writeGatewayError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handlers) revenueProvider(c *gin.Context) {
	result, err := h.Service.RevenueForProvider(c.Request.Context(), c.Param("provider_id"))
	if err != nil {
		if errors.Is(err, catalog.ErrProviderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "provider not found"})
			return
		}
		writeGatewayError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// pluginManifest serves the discovery surface of spec §4.9, letting an
// agent framework (or a human browsing an LLM plugin directory) discover
// this gateway without prior knowledge of its catalog.
func (h *Handlers) pluginManifest(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"schema_version": "v1",
		"name_for_model": "x402_gateway",
		"name_for_human": "x402 Payment Gateway",
		"description_for_model": "Discover and pay for HTTP services using the x402 micropayment protocol. " +
			"Call GET /services to list catalog entries, then GET|POST /gateway/{service_id} with a signed " +
			"EIP-3009 authorization in the X-PAYMENT header to invoke one.",
		"description_for_human": "Pay-per-call access to a marketplace of HTTP services.",
		"api": gin.H{
			"type": "openapi",
			"url":  "/openapi.json",
		},
	})
}

// writeGatewayError dispatches a typed *x402api.Error to its canonical
// HTTP status, or falls back to the sentinel errors this package defines
// for lookups that never touch the chain.
func writeGatewayError(c *gin.Context, err error) {
	var xerr *x402api.Error
	if errors.As(err, &xerr) {
		body := gin.H{"error": xerr.Kind, "message": xerr.Message}
		if xerr.Nonce != "" {
			body["nonce"] = xerr.Nonce
		}
		status := xerr.Kind.HTTPStatus()
		if xerr.Kind == x402api.KindTimedOut {
			status = http.StatusAccepted
		}
		c.JSON(status, body)
		return
	}

	switch {
	case errors.Is(err, ErrServiceNotFound), errors.Is(err, catalog.ErrServiceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "service not found"})
	case errors.Is(err, ErrNativeNotBridged):
		c.JSON(x402api.KindNativeNotMediated.HTTPStatus(), gin.H{"error": x402api.KindNativeNotMediated, "message": err.Error()})
	case errors.Is(err, ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
