package chaincontracts

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/x402gw/gateway/internal/evmchain"
	"github.com/x402gw/gateway/pkg/x402"
)

// GasProcessPayment is the hardcoded gas limit for processPayment: it
// internally calls token.receiveWithAuthorization then
// escrow.receivePayment, two nested external calls whose combined cost
// makes eth_estimateGas unreliable (see spec §4.5's gas policy).
const GasProcessPayment = uint64(550_000)

// Processor wraps the PaymentProcessor contract, the sole authorized
// caller of Escrow.receivePayment. ProcessPayment is the preferred
// settlement path (spec §4.5); it both moves tokens via EIP-3009 and
// credits the provider ledger atomically.
type Processor struct {
	client  *evmchain.Client
	address common.Address
}

func NewProcessor(client *evmchain.Client, address common.Address) *Processor {
	return &Processor{client: client, address: address}
}

func (p *Processor) Address() common.Address { return p.address }

// ProcessPayment submits processPayment(serviceIdHash, from, value,
// validAfter, validBefore, nonce, v, r, s). The authorization must already
// have passed the off-chain verifier; this call re-validates on-chain as
// the authoritative check.
func (p *Processor) ProcessPayment(ctx context.Context, serviceIDHash [32]byte, auth *x402.Authorization) (*evmchain.SendResult, error) {
	res, err := p.client.Send(ctx, processorContractABI, p.address, "processPayment", GasProcessPayment,
		serviceIDHash, auth.From, bigOrZero(auth.Value), bigOrZero(auth.ValidAfter), bigOrZero(auth.ValidBefore),
		auth.Nonce, auth.V, auth.R, auth.S)
	if err != nil {
		return nil, fmt.Errorf("chaincontracts: process payment: %w", err)
	}
	return res, nil
}

// NonceUsed performs the off-chain nonce-freshness probe of spec §4.4 step
// 4: reading PaymentProcessor.usedNonces before submission, avoiding the
// gas cost of a doomed transaction.
func (p *Processor) NonceUsed(ctx context.Context, from common.Address, nonce [32]byte) (bool, error) {
	var used bool
	if err := p.client.Call(ctx, processorContractABI, p.address, "usedNonces", &used, from, nonce); err != nil {
		return false, fmt.Errorf("chaincontracts: read used nonce: %w", err)
	}
	return used, nil
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
