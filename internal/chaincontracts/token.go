package chaincontracts

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/x402gw/gateway/internal/evmchain"
	"github.com/x402gw/gateway/pkg/x402"
)

// GasReceiveWithAuthorization is the hardcoded gas limit for a direct
// token.receiveWithAuthorization call — the legacy settlement path of
// spec §4.5 used when no service/processor binding exists. Lower than
// GasProcessPayment since it's a single external call, not two nested ones.
const GasReceiveWithAuthorization = uint64(220_000)

// Token wraps the ERC-3009-capable payment token: read-only metadata used
// to build the EIP-712 domain and challenge `extra` block, plus the
// direct-call legacy settlement path.
type Token struct {
	client  *evmchain.Client
	address common.Address
}

func NewToken(client *evmchain.Client, address common.Address) *Token {
	return &Token{client: client, address: address}
}

func (t *Token) Address() common.Address { return t.address }

func (t *Token) Name(ctx context.Context) (string, error) {
	var name string
	if err := t.client.Call(ctx, tokenContractABI, t.address, "name", &name); err != nil {
		return "", fmt.Errorf("chaincontracts: read token name: %w", err)
	}
	return name, nil
}

func (t *Token) Symbol(ctx context.Context) (string, error) {
	var symbol string
	if err := t.client.Call(ctx, tokenContractABI, t.address, "symbol", &symbol); err != nil {
		return "", fmt.Errorf("chaincontracts: read token symbol: %w", err)
	}
	return symbol, nil
}

func (t *Token) Decimals(ctx context.Context) (int, error) {
	var decimals uint8
	if err := t.client.Call(ctx, tokenContractABI, t.address, "decimals", &decimals); err != nil {
		return 0, fmt.Errorf("chaincontracts: read token decimals: %w", err)
	}
	return int(decimals), nil
}

func (t *Token) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	var balance *big.Int
	if err := t.client.Call(ctx, tokenContractABI, t.address, "balanceOf", &balance, owner); err != nil {
		return nil, fmt.Errorf("chaincontracts: read token balance: %w", err)
	}
	return balance, nil
}

// ReceiveWithAuthorization submits the legacy direct-token settlement
// path: it moves funds per the signed authorization but does not credit
// any provider ledger, since escrow.receivePayment is never called. Spec
// §9 documents this path as intentionally best-effort; callers must log
// and metric its use prominently.
func (t *Token) ReceiveWithAuthorization(ctx context.Context, auth *x402.Authorization) (*evmchain.SendResult, error) {
	res, err := t.client.Send(ctx, tokenContractABI, t.address, "receiveWithAuthorization", GasReceiveWithAuthorization,
		auth.From, auth.To, bigOrZero(auth.Value), bigOrZero(auth.ValidAfter), bigOrZero(auth.ValidBefore),
		auth.Nonce, auth.V, auth.R, auth.S)
	if err != nil {
		return nil, fmt.Errorf("chaincontracts: receiveWithAuthorization: %w", err)
	}
	return res, nil
}
