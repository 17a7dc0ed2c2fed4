package chaincontracts

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/x402gw/gateway/internal/evmchain"
)

const (
	GasWithdraw = uint64(120_000)
)

// Escrow wraps the Escrow contract: provider balances, fee-split
// settlement (invoked only by the PaymentProcessor, never directly by the
// gateway), and relayer-initiated withdrawal on a provider's behalf.
type Escrow struct {
	client  *evmchain.Client
	address common.Address
}

func NewEscrow(client *evmchain.Client, address common.Address) *Escrow {
	return &Escrow{client: client, address: address}
}

func (e *Escrow) Address() common.Address { return e.address }

// ProviderBalance reads the on-chain claimable balance for a provider.
// This is the only source of truth for "claimable" amounts — the DB
// mirror's total_earned/total_claimed never substitutes for it, per
// spec §4.7.
func (e *Escrow) ProviderBalance(ctx context.Context, provider common.Address) (*big.Int, error) {
	var balance *big.Int
	if err := e.client.Call(ctx, escrowContractABI, e.address, "providerBalances", &balance, provider); err != nil {
		return nil, fmt.Errorf("chaincontracts: read provider balance: %w", err)
	}
	return balance, nil
}

// PlatformFeePercent reads the escrow's configured fee, expressed in the
// same basis-points convention as internal/tokenunits.FeeBPSFromPercent.
func (e *Escrow) PlatformFeePercent(ctx context.Context) (*big.Int, error) {
	var bps *big.Int
	if err := e.client.Call(ctx, escrowContractABI, e.address, "platformFeePercent", &bps); err != nil {
		return nil, fmt.Errorf("chaincontracts: read platform fee: %w", err)
	}
	return bps, nil
}

// Withdraw triggers escrow.withdraw(provider, amount), transferring a
// provider's claimable balance without the provider spending their own
// gas. This is the call behind POST /claim — distinct from the
// provider-initiated claim() that spec §9 notes is intentionally kept
// alongside it.
func (e *Escrow) Withdraw(ctx context.Context, provider common.Address, amount *big.Int) (*evmchain.SendResult, error) {
	res, err := e.client.Send(ctx, escrowContractABI, e.address, "withdraw", GasWithdraw, provider, amount)
	if err != nil {
		return nil, fmt.Errorf("chaincontracts: withdraw: %w", err)
	}
	return res, nil
}

// Owner reads the contract's owner address, used at startup to verify the
// deployment invariant Escrow.owner == PaymentProcessor (spec §4.6); a
// mismatch means every settlement will revert.
func (e *Escrow) Owner(ctx context.Context) (common.Address, error) {
	var owner common.Address
	if err := e.client.Call(ctx, escrowContractABI, e.address, "owner", &owner); err != nil {
		return common.Address{}, fmt.Errorf("chaincontracts: read escrow owner: %w", err)
	}
	return owner, nil
}
