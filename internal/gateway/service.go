package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/x402gw/gateway/internal/catalog"
	"github.com/x402gw/gateway/internal/chaincontracts"
	"github.com/x402gw/gateway/internal/evmchain"
	"github.com/x402gw/gateway/internal/idgen"
	"github.com/x402gw/gateway/internal/logging"
	"github.com/x402gw/gateway/internal/metrics"
	"github.com/x402gw/gateway/internal/realtime"
	"github.com/x402gw/gateway/internal/relayer"
	"github.com/x402gw/gateway/internal/reputation"
	"github.com/x402gw/gateway/internal/security"
	"github.com/x402gw/gateway/internal/traces"
	"github.com/x402gw/gateway/internal/validation"
	"github.com/x402gw/gateway/internal/verifier"
	"github.com/x402gw/gateway/internal/watcher"
	"github.com/x402gw/gateway/internal/webhooks"
	"github.com/x402gw/gateway/internal/x402api"
	"github.com/x402gw/gateway/pkg/x402"
)

// AccessResult is the response envelope for a successful /gateway/{id}
// call: either the HOSTED content blob or the PROXY upstream response,
// always carrying the settlement evidence.
type AccessResult struct {
	Content    string                 `json:"content,omitempty"`
	Response   map[string]interface{} `json:"response,omitempty"`
	TxHash     string                 `json:"txHash"`
	Legacy     bool                   `json:"legacy,omitempty"`
	Settlement relayer.State          `json:"settlementState"`
	// UpstreamError is set when settlement succeeded but the upstream
	// PROXY call failed — the caller has evidence it paid but wasn't
	// delivered, per spec §7's UPSTREAM_FAILED handling.
	UpstreamError string `json:"upstreamError,omitempty"`
}

// AgentExecuteRequest is the body of POST /agent/execute: a combined
// settle-and-invoke call shaped for an agent client that already has a
// wallet signature in hand rather than a raw header to decode.
type AgentExecuteRequest struct {
	ServiceID     string             `json:"service_id"`
	WalletAddress string             `json:"wallet_address"`
	Signature     x402.Authorization `json:"signature"`
	RequestBody   map[string]any     `json:"request_body"`
}

// AgentExecuteResult shapes the response spec §6 documents for
// POST /agent/execute.
type AgentExecuteResult struct {
	Payment struct {
		TxHash   string `json:"txHash"`
		Payer    string `json:"payer"`
		Amount   string `json:"amount"`
		Receiver string `json:"receiver"`
	} `json:"payment"`
	Service struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Endpoint string `json:"endpoint"`
	} `json:"service"`
	Response map[string]any `json:"response,omitempty"`
}

// VerifyPaymentRequest is the body of POST /verify-payment — a
// delegation endpoint external services use to offload verify+settle.
type VerifyPaymentRequest struct {
	PaymentSignature string `json:"payment_signature"` // base64 tunnel or direct envelope
	ServiceID        string `json:"service_id"`        // optional: binds to the preferred processor path
	ProviderID       string `json:"provider_id"`
	Amount           string `json:"amount"`
}

// VerifyPaymentResult is the response shape spec §6 documents.
type VerifyPaymentResult struct {
	Valid           bool   `json:"valid"`
	TxHash          string `json:"tx_hash"`
	Payer           string `json:"payer"`
	PlatformFee     string `json:"platform_fee"`
	ProviderRevenue string `json:"provider_revenue"`
}

// ClaimRequest is the body of POST /claim.
type ClaimRequest struct {
	WalletAddress string `json:"wallet_address"`
	ProviderID    string `json:"provider_id"`
	Amount        string `json:"amount"`
}

// RevenueResult is the response shape for both /revenue/wallet and
// /revenue/{provider_id}: the DB mirror (when available) plus the
// on-chain balance, which is always the authoritative figure.
type RevenueResult struct {
	Address          string `json:"address"`
	ClaimableBalance string `json:"claimableBalance"`
	RawBalance       string `json:"rawBalance"`
	Source           string `json:"source"`
	TotalEarned      string `json:"totalEarnedBaseUnits,omitempty"`
	TotalClaimed     string `json:"totalClaimedBaseUnits,omitempty"`
}

// Service orchestrates the challenge → verify → settle → proxy pipeline
// of spec §4.1. It composes the catalog, verifier, relayer, and contract
// trio wrappers but never reaches into chain state directly itself.
type Service struct {
	Catalog   catalog.Store
	Challenge *ChallengeBuilder
	Verifier  *verifier.Verifier
	Relayer   *relayer.Engine
	Registry  *chaincontracts.Registry
	Escrow    *chaincontracts.Escrow
	Forwarder *Forwarder

	EscrowAddress common.Address

	RateLimiter      *payerRateLimiter
	Blacklist        *Blacklist
	RateLimitEnabled bool // spec §5: required only under optimistic settlement

	// Watcher tracks confirmations for settlements the relayer submitted
	// but did not wait to confirm (optimistic policy). Nil disables
	// background confirmation tracking.
	Watcher *watcher.Watcher
	// Webhooks delivers settlement notifications to providers with a
	// registered webhook URL. Nil disables delivery.
	Webhooks *webhooks.Notifier
	// Hub fans settlement state transitions out to the live WebSocket
	// feed. Nil disables broadcasting.
	Hub *realtime.Hub
	// Reputation scores a service's full access-log history for
	// display on catalog entries. Nil disables scoring.
	Reputation *reputation.Calculator
}

// ServiceReputation scores serviceID from its access-log history. Callers
// treat a nil Reputation calculator or a lookup error as "no score" —
// reputation is advisory and never blocks a catalog response.
func (s *Service) ServiceReputation(ctx context.Context, serviceID string) reputation.Score {
	if s.Reputation == nil {
		return reputation.Score{Tier: reputation.TierNew}
	}
	logs, err := s.Catalog.ListAccessLogs(ctx, serviceID, 0)
	if err != nil {
		return reputation.Score{Tier: reputation.TierNew}
	}
	successful := 0
	for _, l := range logs {
		if l.Success {
			successful++
		}
	}
	return s.Reputation.Calculate(len(logs), successful)
}

// BuildChallenge resolves serviceID and returns the 402 challenge body
// for it, or ErrServiceNotFound / ErrNativeNotBridged.
func (s *Service) BuildChallenge(ctx context.Context, serviceID string) (*catalog.ServiceRecord, x402.Challenge, error) {
	svc, err := s.lookupActive(ctx, serviceID)
	if err != nil {
		return nil, x402.Challenge{}, err
	}
	return svc, s.Challenge.Challenge(svc), nil
}

func (s *Service) lookupActive(ctx context.Context, serviceID string) (*catalog.ServiceRecord, error) {
	svc, err := s.Catalog.GetService(ctx, serviceID)
	if err != nil {
		if errors.Is(err, catalog.ErrServiceNotFound) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}
	if svc.Kind == catalog.KindNative {
		return nil, ErrNativeNotBridged
	}
	if !svc.Active {
		return nil, x402api.New(x402api.KindServiceInactive, "service is not active")
	}
	return svc, nil
}

// Access implements GET|POST /gateway/{service_id}: the protected entry
// point. auth is the already-decoded payment authorization; a request
// without one never reaches Access (the caller answers it with the 402
// from BuildChallenge).
func (s *Service) Access(ctx context.Context, method string, svc *catalog.ServiceRecord, auth *x402.Authorization, body map[string]any) (*AccessResult, error) {
	ctx, span := traces.StartSpan(ctx, "gateway.access",
		traces.ServiceID(svc.ServiceID), traces.Payer(auth.From.Hex()), traces.Amount(auth.Value.String()))
	defer span.End()

	if err := s.checkPayer(auth.From.Hex()); err != nil {
		return nil, err
	}

	requirements := verifier.Requirements{
		EscrowAddress: s.EscrowAddress,
		PriceBase:     priceOf(svc),
	}
	verifyCtx, verifySpan := traces.StartSpan(ctx, "gateway.verify")
	err := s.Verifier.Verify(verifyCtx, auth, requirements)
	verifySpan.End()
	if err != nil {
		gwVerifyFailures.WithLabelValues(string(errKind(err))).Inc()
		return nil, err
	}

	serviceIDHash, err := parseServiceIDHash(svc.ServiceIDHash)
	if err != nil {
		return nil, x402api.Wrap(x402api.KindSettlementFailed, "invalid service id hash", err)
	}

	settleCtx, settleSpan := traces.StartSpan(ctx, "gateway.settle")
	start := time.Now()
	settlement := s.Relayer.Settle(settleCtx, serviceIDHash, auth)
	gwSettlementLatency.Observe(time.Since(start).Seconds())
	gwSettlementsTotal.WithLabelValues(string(settlement.State), "processor").Inc()
	settleSpan.SetAttributes(traces.TxHash(settlement.TxHash.Hex()), traces.SettlementState(string(settlement.State)))
	settleSpan.End()

	if err := s.finalizeSettlement(ctx, svc, auth, settlement); err != nil {
		return nil, err
	}

	result := &AccessResult{
		TxHash:     settlement.TxHash.Hex(),
		Settlement: settlement.State,
	}

	switch svc.Kind {
	case catalog.KindHosted:
		result.Content = svc.Content
	case catalog.KindProxy:
		forwardCtx, forwardSpan := traces.StartSpan(ctx, "gateway.forward", traces.ServiceID(svc.ServiceID))
		fwd, err := s.Forwarder.Forward(forwardCtx, ForwardRequest{
			Endpoint: svc.Endpoint,
			Method:   method,
			Body:     body,
			Payer:    auth.From.Hex(),
			TxHash:   settlement.TxHash.Hex(),
		})
		forwardSpan.End()
		if err != nil {
			gwProxyRequests.WithLabelValues("upstream_failed").Inc()
			result.UpstreamError = err.Error()
			return result, nil // paid-but-not-delivered: 200 with evidence, per spec §7
		}
		gwProxyRequests.WithLabelValues("success").Inc()
		result.Response = fwd.Body
	}

	return result, nil
}

// ExecuteForAgent implements POST /agent/execute: a one-shot combined
// settle+invoke for agent clients that already hold a signed
// authorization rather than a wire-encoded header.
func (s *Service) ExecuteForAgent(ctx context.Context, req AgentExecuteRequest) (*AgentExecuteResult, error) {
	svc, err := s.lookupActive(ctx, req.ServiceID)
	if err != nil {
		return nil, err
	}

	auth := req.Signature
	access, err := s.Access(ctx, "POST", svc, &auth, req.RequestBody)
	if err != nil {
		return nil, err
	}

	out := &AgentExecuteResult{}
	out.Payment.TxHash = access.TxHash
	out.Payment.Payer = auth.From.Hex()
	out.Payment.Amount = svc.PriceBaseUnits
	out.Payment.Receiver = s.EscrowAddress.Hex()
	out.Service.ID = svc.ServiceID
	out.Service.Name = svc.Name
	out.Service.Endpoint = svc.Endpoint
	if access.Content != "" {
		out.Response = map[string]any{"content": access.Content}
	} else {
		out.Response = access.Response
	}
	return out, nil
}

// VerifyPayment implements POST /verify-payment: a delegation endpoint
// allowing external services to offload verify+settle. When ServiceID is
// present it uses the preferred processor path; otherwise it falls back
// to the legacy direct-token path, which does not credit any provider
// ledger (spec §4.5).
func (s *Service) VerifyPayment(ctx context.Context, req VerifyPaymentRequest) (*VerifyPaymentResult, error) {
	_, auth, err := x402.DecodeTunnel(req.PaymentSignature)
	if err != nil {
		return nil, x402api.Wrap(x402api.KindInvalidPayload, "could not decode payment signature", err)
	}

	if err := s.checkPayer(auth.From.Hex()); err != nil {
		return nil, err
	}

	var svc *catalog.ServiceRecord
	if req.ServiceID != "" {
		svc, err = s.lookupActive(ctx, req.ServiceID)
		if err != nil {
			return nil, err
		}
	}

	price := big.NewInt(0)
	if svc != nil {
		price = priceOf(svc)
	} else if amt, ok := new(big.Int).SetString(req.Amount, 10); ok {
		price = amt
	}

	requirements := verifier.Requirements{EscrowAddress: s.EscrowAddress, PriceBase: price}
	if err := s.Verifier.Verify(ctx, auth, requirements); err != nil {
		gwVerifyFailures.WithLabelValues(string(errKind(err))).Inc()
		return nil, err
	}

	var settlement *relayer.Settlement
	if svc != nil {
		hash, err := parseServiceIDHash(svc.ServiceIDHash)
		if err != nil {
			return nil, x402api.Wrap(x402api.KindSettlementFailed, "invalid service id hash", err)
		}
		settlement = s.Relayer.Settle(ctx, hash, auth)
		gwSettlementsTotal.WithLabelValues(string(settlement.State), "processor").Inc()
	} else {
		gwLegacySettlements.Inc()
		settlement = s.Relayer.SettleLegacy(ctx, auth)
		gwSettlementsTotal.WithLabelValues(string(settlement.State), "legacy").Inc()
	}

	if err := s.finalizeSettlement(ctx, svc, auth, settlement); err != nil {
		return nil, err
	}

	feeBPS := int64(500) // overridden below when the escrow contract is reachable
	if s.Escrow != nil {
		if bps, err := s.Escrow.PlatformFeePercent(ctx); err == nil && bps != nil {
			feeBPS = bps.Int64()
		}
	}
	fee, share := splitFee(auth.Value, feeBPS)

	return &VerifyPaymentResult{
		Valid:           true,
		TxHash:          settlement.TxHash.Hex(),
		Payer:           auth.From.Hex(),
		PlatformFee:     fee.String(),
		ProviderRevenue: share.String(),
	}, nil
}

// Claim implements POST /claim: a provider-initiated (or operator
// triggered on the provider's behalf) withdrawal via
// escrow.withdraw(provider, amount), since the relayer holds the
// escrow's relayer role per spec §4.6.
func (s *Service) Claim(ctx context.Context, req ClaimRequest) (*catalog.ClaimRecord, error) {
	address := req.WalletAddress
	if address == "" && req.ProviderID != "" {
		provider, err := s.Catalog.GetProvider(ctx, req.ProviderID)
		if err != nil {
			return nil, err
		}
		address = provider.Address
	}
	if address == "" || !common.IsHexAddress(address) {
		return nil, fmt.Errorf("%w: wallet_address or provider_id required", ErrInvalidRequest)
	}

	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be a positive base-unit integer", ErrInvalidRequest)
	}

	claim := &catalog.ClaimRecord{
		ID:              idgen.WithPrefix("claim_"),
		ProviderAddress: strings.ToLower(address),
		AmountBaseUnits: req.Amount,
		Status:          "pending",
		CreatedAt:       time.Now(),
	}

	res, err := s.Escrow.Withdraw(ctx, common.HexToAddress(address), amount)
	if err != nil {
		claim.Status = "failed"
		_ = s.Catalog.CreateClaim(ctx, claim)
		metrics.EscrowsTotal.WithLabelValues(claim.Status).Inc()
		return claim, x402api.Wrap(x402api.KindSettlementFailed, "escrow withdraw failed", err)
	}

	claim.TxHash = res.TxHash.Hex()
	claim.Status = "confirmed"
	if err := s.Catalog.CreateClaim(ctx, claim); err != nil {
		return claim, err
	}
	_ = s.Catalog.IncrementProviderClaimed(ctx, address, req.Amount)
	metrics.EscrowsTotal.WithLabelValues(claim.Status).Inc()

	return claim, nil
}

// RevenueForWallet implements GET /revenue/wallet?address=W: always reads
// escrow.providerBalances directly from chain, per spec §4.7's "UI always
// shows on-chain truth" rule.
func (s *Service) RevenueForWallet(ctx context.Context, address string) (*RevenueResult, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("%w: invalid address", ErrInvalidRequest)
	}
	balance, err := s.Escrow.ProviderBalance(ctx, common.HexToAddress(address))
	if err != nil {
		return nil, err
	}
	return &RevenueResult{
		Address:          strings.ToLower(address),
		ClaimableBalance: balance.String(),
		RawBalance:       balance.String(),
		Source:           "on-chain",
	}, nil
}

// RevenueForProvider implements GET /revenue/{provider_id}: the DB
// mirror's running totals plus the same on-chain balance override.
func (s *Service) RevenueForProvider(ctx context.Context, providerID string) (*RevenueResult, error) {
	provider, err := s.Catalog.GetProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	result, err := s.RevenueForWallet(ctx, provider.Address)
	if err != nil {
		return nil, err
	}
	result.TotalEarned = provider.TotalEarnedBase
	result.TotalClaimed = provider.TotalClaimedBase
	return result, nil
}

// RegisterServiceRequest is the body of POST /services: the operator
// registering a new listing on the provider's behalf, since the registry
// contract's register call is owner-only (spec §4.6) and the relayer key
// is the only registry owner this gateway ever holds.
type RegisterServiceRequest struct {
	ServiceID       string   `json:"service_id"`
	Name            string   `json:"name"`
	Description     string   `json:"description,omitempty"`
	PriceBaseUnits  string   `json:"price_base_units"`
	Kind            string   `json:"kind"` // HOSTED | PROXY
	Content         string   `json:"content,omitempty"`
	Endpoint        string   `json:"endpoint,omitempty"`
	ProviderAddress string   `json:"provider_address"`
	ProviderName    string   `json:"provider_name,omitempty"`
	Tags            []string `json:"tags,omitempty"`
}

// RegisterService implements POST /services: it creates the off-chain
// catalog record first, then registers the same service_id_hash on-chain
// via the registry contract, resolving spec §9's open question on
// rollback ordering by always deleting the just-created catalog row if
// the on-chain call fails — a listing with no on-chain registry entry
// would have every settlement against it revert, which is a worse state
// than no listing at all.
func (s *Service) RegisterService(ctx context.Context, req RegisterServiceRequest) (*catalog.ServiceRecord, error) {
	if !validation.IsValidEthAddress(req.ProviderAddress) {
		return nil, fmt.Errorf("%w: provider_address must be a valid address", ErrInvalidRequest)
	}
	price, ok := new(big.Int).SetString(req.PriceBaseUnits, 10)
	if !ok || price.Sign() <= 0 {
		return nil, fmt.Errorf("%w: price_base_units must be a positive base-unit integer", ErrInvalidRequest)
	}
	if catalog.Kind(req.Kind) == catalog.KindProxy {
		if err := security.ValidateEndpointURL(req.Endpoint); err != nil {
			return nil, fmt.Errorf("%w: endpoint: %s", ErrInvalidRequest, err.Error())
		}
	}
	if req.ServiceID == "" {
		req.ServiceID = idgen.WithPrefix("svc_")
	}

	now := time.Now()
	record := &catalog.ServiceRecord{
		ServiceID:       req.ServiceID,
		ServiceIDHash:   chaincontracts.ServiceIDHashHex(req.ServiceID),
		Name:            req.Name,
		Description:     req.Description,
		PriceBaseUnits:  req.PriceBaseUnits,
		Kind:            catalog.Kind(req.Kind),
		Content:         req.Content,
		Endpoint:        req.Endpoint,
		ProviderAddress: strings.ToLower(req.ProviderAddress),
		ProviderName:    req.ProviderName,
		Tags:            req.Tags,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := record.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, err.Error())
	}

	if err := s.Catalog.CreateService(ctx, record); err != nil {
		return nil, err
	}

	hash := chaincontracts.ServiceIDHash(req.ServiceID)
	if _, err := s.Registry.Register(ctx, hash, common.HexToAddress(req.ProviderAddress), price, req.Name, req.Endpoint); err != nil {
		if delErr := s.Catalog.DeleteService(ctx, req.ServiceID); delErr != nil {
			logging.FromContext(ctx).Error("rollback: failed to delete catalog record after on-chain registration failure",
				"service_id", req.ServiceID, "error", delErr)
		}
		return nil, x402api.Wrap(x402api.KindSettlementFailed, "on-chain service registration failed", err)
	}

	if err := s.Catalog.UpsertProvider(ctx, &catalog.ProviderRecord{
		Address:     record.ProviderAddress,
		DisplayName: req.ProviderName,
		CreatedAt:   now,
		UpdatedAt:   now,
	}); err != nil {
		logging.FromContext(ctx).Warn("failed to upsert provider record after registration", "provider", record.ProviderAddress, "error", err)
	}

	return record, nil
}

// UpdateServiceRequest is the body of PATCH /services/:id: PriceBaseUnits
// and Active are pointers so the handler can tell "leave unchanged" apart
// from "set to the zero value".
type UpdateServiceRequest struct {
	PriceBaseUnits *string `json:"price_base_units,omitempty"`
	Active         *bool   `json:"active,omitempty"`
}

// UpdateService implements PATCH /services/:id: spec §4.6's update-price
// and deactivate/reactivate operations, applied to the catalog mirror and
// the registry contract together. Chain and catalog are updated in the
// same order as RegisterService — catalog first — so a mid-flight failure
// leaves the catalog holding the pre-update value rather than a value the
// chain never agreed to; callers that see an error should re-read the
// record before retrying.
func (s *Service) UpdateService(ctx context.Context, serviceID string, req UpdateServiceRequest) (*catalog.ServiceRecord, error) {
	record, err := s.Catalog.GetService(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	hash := chaincontracts.ServiceIDHash(serviceID)

	if req.PriceBaseUnits != nil {
		price, ok := new(big.Int).SetString(*req.PriceBaseUnits, 10)
		if !ok || price.Sign() <= 0 {
			return nil, fmt.Errorf("%w: price_base_units must be a positive base-unit integer", ErrInvalidRequest)
		}
		if err := s.Catalog.UpdateServicePrice(ctx, serviceID, *req.PriceBaseUnits); err != nil {
			return nil, err
		}
		if _, err := s.Registry.UpdatePrice(ctx, hash, price); err != nil {
			// Catalog already reflects the new price; log loudly so an
			// operator can reconcile rather than silently rolling back a
			// write that may or may not have also failed on-chain.
			logging.FromContext(ctx).Error("on-chain price update failed after catalog update",
				"service_id", serviceID, "error", err)
			return nil, x402api.Wrap(x402api.KindSettlementFailed, "on-chain price update failed", err)
		}
		record.PriceBaseUnits = *req.PriceBaseUnits
	}

	if req.Active != nil && *req.Active != record.Active {
		if err := s.Catalog.SetServiceActive(ctx, serviceID, *req.Active); err != nil {
			return nil, err
		}
		var chainErr error
		if *req.Active {
			_, chainErr = s.Registry.Reactivate(ctx, hash)
		} else {
			_, chainErr = s.Registry.Deactivate(ctx, hash)
		}
		if chainErr != nil {
			logging.FromContext(ctx).Error("on-chain active-state update failed after catalog update",
				"service_id", serviceID, "active", *req.Active, "error", chainErr)
			return nil, x402api.Wrap(x402api.KindSettlementFailed, "on-chain active-state update failed", chainErr)
		}
		record.Active = *req.Active
	}

	record.UpdatedAt = time.Now()
	return record, nil
}

// checkPayer enforces the per-payer rate limit and blacklist of spec §5,
// required under optimistic settlement to bound gas-griefing exposure.
func (s *Service) checkPayer(payer string) error {
	if s.Blacklist != nil {
		if blocked, reason := s.Blacklist.Blocked(payer); blocked {
			gwBlacklistRejections.Inc()
			return x402api.New(x402api.KindPayerBlacklisted, "payer is blacklisted: "+reason)
		}
	}
	if s.RateLimitEnabled && s.RateLimiter != nil {
		if !s.RateLimiter.allow(payer) {
			gwRateLimited.Inc()
			return x402api.New(x402api.KindRateLimited, "per-payer rate limit exceeded")
		}
	}
	return nil
}

// finalizeSettlement appends the access log and credits the provider
// mirror iff settlement produced a CONFIRMED or (optimistic) SUBMITTED
// state, per spec §4.5's "only CONFIRMED (or SUBMITTED in optimistic
// mode) produces an access-log entry" rule. svc may be nil on the legacy
// path, which never credits any provider. It also broadcasts the
// transition on the live feed and, for a SUBMITTED settlement under the
// optimistic policy, hands the transaction to the watcher so the webhook
// and feed follow its on-chain outcome. The access-log entry and provider
// credit written here are not revisited by the watcher.
func (s *Service) finalizeSettlement(ctx context.Context, svc *catalog.ServiceRecord, auth *x402.Authorization, settlement *relayer.Settlement) error {
	logger := logging.FromContext(ctx)
	s.broadcastSettlement(svc, settlement)

	switch settlement.State {
	case relayer.StateConfirmed, relayer.StateSubmitted:
		if svc == nil {
			return nil
		}
		feeBPS := int64(500)
		if s.Escrow != nil {
			if bps, err := s.Escrow.PlatformFeePercent(ctx); err == nil && bps != nil {
				feeBPS = bps.Int64()
			}
		}
		_, share := splitFee(auth.Value, feeBPS)

		entry := &catalog.AccessLogEntry{
			ID:                       idgen.WithPrefix("access_"),
			ServiceID:                svc.ServiceID,
			CallerAddress:            strings.ToLower(auth.From.Hex()),
			AmountBaseUnits:          auth.Value.String(),
			ProviderRevenueBaseUnits: share.String(),
			TxHash:                   settlement.TxHash.Hex(),
			Legacy:                   settlement.Legacy,
			Success:                  true,
			CreatedAt:                time.Now(),
		}
		if err := s.Catalog.AppendAccessLog(ctx, entry); err != nil {
			logger.Error("failed to append access log", "error", err, "service_id", svc.ServiceID)
		}
		if err := s.Catalog.IncrementProviderEarned(ctx, svc.ProviderAddress, share.String()); err != nil {
			logger.Error("failed to increment provider earned mirror", "error", err, "provider", svc.ProviderAddress)
		}

		if settlement.State == relayer.StateSubmitted {
			s.enqueueConfirmationWatch(svc, auth, settlement, share)
		} else {
			s.notifyWebhook(ctx, svc, settlement, auth.Value.String())
		}
		return nil
	case relayer.StateTimedOut:
		return settlement.Err // surfaced as a 202-style warning by the handler
	default:
		return settlement.Err
	}
}

// broadcastSettlement publishes settlement's state transition on the live
// feed. A nil Hub (tests, or a deployment that opts out) is a no-op.
func (s *Service) broadcastSettlement(svc *catalog.ServiceRecord, settlement *relayer.Settlement) {
	if s.Hub == nil {
		return
	}
	event := &realtime.Event{
		TxHash:    settlement.TxHash.Hex(),
		Timestamp: time.Now(),
	}
	if svc != nil {
		event.ServiceID = svc.ServiceID
	}
	switch settlement.State {
	case relayer.StateConfirmed:
		event.Type = realtime.EventConfirmed
	case relayer.StateSubmitted:
		event.Type = realtime.EventSubmitted
	case relayer.StateReverted:
		event.Type = realtime.EventReverted
	case relayer.StateTimedOut:
		event.Type = realtime.EventTimedOut
	default:
		return
	}
	s.Hub.Broadcast(event)
}

// enqueueConfirmationWatch hands a SUBMITTED settlement to the watcher so
// an eventual confirmation still notifies the provider's webhook, and a
// revert or timeout is broadcast on the feed. A nil Watcher disables this follow-up entirely — the access
// log entry already reflects the optimistic accept.
func (s *Service) enqueueConfirmationWatch(svc *catalog.ServiceRecord, auth *x402.Authorization, settlement *relayer.Settlement, providerShare *big.Int) {
	if s.Watcher == nil {
		return
	}
	s.Watcher.Enqueue(watcher.Job{
		TxHash:          settlement.TxHash,
		ServiceID:       svc.ServiceID,
		Payer:           auth.From.Hex(),
		AmountBaseUnits: auth.Value.String(),
		ProviderRevenue: providerShare.String(),
		Legacy:          settlement.Legacy,
	})
}

// notifyWebhook fires a best-effort settlement.confirmed event at svc's
// provider-registered webhook, if any. Delivery runs in its own
// goroutine so a slow or unreachable provider endpoint never adds
// latency to the caller's response.
func (s *Service) notifyWebhook(ctx context.Context, svc *catalog.ServiceRecord, settlement *relayer.Settlement, amountBaseUnits string) {
	if s.Webhooks == nil || svc == nil {
		return
	}
	provider, err := s.Catalog.GetProvider(ctx, svc.ProviderAddress)
	if err != nil || provider == nil || provider.WebhookURL == "" {
		return
	}
	event := webhooks.Event{
		Type:            webhooks.EventSettlementConfirmed,
		ServiceID:       svc.ServiceID,
		TxHash:          settlement.TxHash.Hex(),
		AmountBaseUnits: amountBaseUnits,
	}
	url := provider.WebhookURL
	go s.Webhooks.Notify(context.Background(), url, event)
}

// OnConfirmationResolved is the watcher's callback for a job enqueued by
// enqueueConfirmationWatch: it fires the deferred webhook on confirmation,
// or broadcasts a REVERTED/TIMED_OUT transition when the optimistic
// accept did not hold up on-chain. Exported so the server wiring can pass
// it to watcher.New without the watcher package importing gateway.
func (s *Service) OnConfirmationResolved(ctx context.Context, res watcher.Resolution) {
	logger := logging.FromContext(ctx)
	svc, err := s.Catalog.GetService(ctx, res.Job.ServiceID)
	if err != nil || svc == nil {
		logger.Warn("watcher: could not look up service for resolved job", "service_id", res.Job.ServiceID, "error", err)
		return
	}

	if res.Confirmed {
		s.notifyWebhook(ctx, svc, &relayer.Settlement{TxHash: res.Job.TxHash, State: relayer.StateConfirmed}, res.Job.AmountBaseUnits)
		if s.Hub != nil {
			s.Hub.Broadcast(&realtime.Event{Type: realtime.EventConfirmed, ServiceID: svc.ServiceID, TxHash: res.Job.TxHash.Hex(), Timestamp: time.Now()})
		}
		return
	}

	eventType := realtime.EventTimedOut
	if errors.Is(res.Err, evmchain.ErrTxReverted) {
		eventType = realtime.EventReverted
	}
	if s.Hub != nil {
		s.Hub.Broadcast(&realtime.Event{Type: eventType, ServiceID: svc.ServiceID, TxHash: res.Job.TxHash.Hex(), Timestamp: time.Now()})
	}
}

func priceOf(svc *catalog.ServiceRecord) *big.Int {
	price, ok := new(big.Int).SetString(svc.PriceBaseUnits, 10)
	if !ok {
		return big.NewInt(0)
	}
	return price
}

func splitFee(amount *big.Int, feeBPS int64) (fee, share *big.Int) {
	if amount == nil {
		return big.NewInt(0), big.NewInt(0)
	}
	fee = new(big.Int).Mul(amount, big.NewInt(feeBPS))
	fee.Div(fee, big.NewInt(10000))
	share = new(big.Int).Sub(amount, fee)
	return fee, share
}

func parseServiceIDHash(hexStr string) ([32]byte, error) {
	var out [32]byte
	h := common.HexToHash(hexStr)
	copy(out[:], h.Bytes())
	return out, nil
}

func errKind(err error) x402api.Kind {
	var xerr *x402api.Error
	if errors.As(err, &xerr) {
		return xerr.Kind
	}
	return x402api.KindSettlementFailed
}
