// Package verifier implements the x402 signature verifier: the five
// ordered checks of spec §4.4, run off-chain before any transaction is
// submitted. The verifier is pure and idempotent — it never calls a
// contract's state-changing function, only the read-only nonce probe.
package verifier

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/x402gw/gateway/internal/x402api"
	"github.com/x402gw/gateway/pkg/x402"
)

// NonceChecker reads PaymentProcessor.usedNonces, matching
// chaincontracts.Processor.NonceUsed's signature. Declared as an
// interface here so the verifier can be tested without a chain.
type NonceChecker interface {
	NonceUsed(ctx context.Context, from common.Address, nonce [32]byte) (bool, error)
}

// Requirements is the subset of a ServiceRecord the verifier needs: the
// escrow address every authorization must target, and the service's
// price floor.
type Requirements struct {
	EscrowAddress common.Address
	PriceBase     *big.Int
}

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time

// Verifier runs the five checks of spec §4.4 in order, short-circuiting
// on the first failure so the caller never pays for a nonce probe or
// signature recovery when a cheaper check already rejects the request.
type Verifier struct {
	Domain x402.Domain
	Nonces NonceChecker
	Now    Clock
}

func New(domain x402.Domain, nonces NonceChecker) *Verifier {
	return &Verifier{Domain: domain, Nonces: nonces, Now: time.Now}
}

func (v *Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

// Verify checks auth against req, in the exact order spec §4.4 specifies:
// destination, value, time window, nonce freshness, signature recovery.
func (v *Verifier) Verify(ctx context.Context, auth *x402.Authorization, req Requirements) error {
	if !strings.EqualFold(auth.To.Hex(), req.EscrowAddress.Hex()) {
		return x402api.New(x402api.KindBadDestination, "authorization 'to' does not match the escrow address")
	}

	value := bigOrZero(auth.Value)
	price := bigOrZero(req.PriceBase)
	if value.Cmp(price) < 0 {
		return x402api.New(x402api.KindInsufficientValue, "authorization value is less than the service price")
	}

	now := big.NewInt(v.now().Unix())
	validAfter := bigOrZero(auth.ValidAfter)
	validBefore := bigOrZero(auth.ValidBefore)
	if now.Cmp(validAfter) <= 0 || now.Cmp(validBefore) >= 0 {
		return x402api.New(x402api.KindOutOfWindow, "authorization is outside its validity window")
	}

	if v.Nonces != nil {
		used, err := v.Nonces.NonceUsed(ctx, auth.From, auth.Nonce)
		if err != nil {
			return x402api.Wrap(x402api.KindSettlementFailed, "nonce freshness probe failed", err)
		}
		if used {
			return x402api.New(x402api.KindNonceUsed, "nonce has already been consumed").WithNonce(nonceHex(auth.Nonce))
		}
	}

	recovered, err := x402.RecoverSigner(v.Domain, auth)
	if err != nil {
		return x402api.Wrap(x402api.KindBadSignature, "could not recover signer from signature", err)
	}
	if recovered != auth.From {
		return x402api.New(x402api.KindBadSignature, "recovered signer does not match authorization.from")
	}

	return nil
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

func nonceHex(n [32]byte) string {
	return common.BytesToHash(n[:]).Hex()
}
