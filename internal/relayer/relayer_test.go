package relayer

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x402gw/gateway/internal/chaincontracts"
	"github.com/x402gw/gateway/internal/evmchain"
	"github.com/x402gw/gateway/pkg/x402"
)

const testPrivateKey = "4646464646464646464646464646464646464646464646464646464646464646"

type stubRPC struct {
	pendingNonce uint64
	receipts     map[common.Hash]*types.Receipt
	blockNumber  uint64
}

func (s *stubRPC) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return s.pendingNonce, nil
}
func (s *stubRPC) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}
func (s *stubRPC) SendTransaction(ctx context.Context, tx *types.Transaction) error { return nil }
func (s *stubRPC) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if r, ok := s.receipts[txHash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}
func (s *stubRPC) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return nil, nil
}
func (s *stubRPC) TransactionByHash(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error) {
	return nil, false, ethereum.NotFound
}
func (s *stubRPC) NetworkID(ctx context.Context) (*big.Int, error) { return big.NewInt(84532), nil }
func (s *stubRPC) BlockNumber(ctx context.Context) (uint64, error) { return s.blockNumber, nil }
func (s *stubRPC) Close()                                          {}

func newEngine(t *testing.T, rpc *stubRPC, policy Policy) *Engine {
	t.Helper()
	client, err := evmchain.New(context.Background(), evmchain.Config{
		PrivateKey: testPrivateKey,
		ChainID:    84532,
	}, evmchain.WithClient(rpc))
	require.NoError(t, err)

	processorAddr := common.HexToAddress("0x4444444444444444444444444444444444444444")
	tokenAddr := common.HexToAddress("0x5555555555555555555555555555555555555555")
	processor := chaincontracts.NewProcessor(client, processorAddr)
	token := chaincontracts.NewToken(client, tokenAddr)

	e := New(client, processor, token, policy)
	e.ConfirmationTimeout = 0 // fail fast in tests that don't seed a receipt
	return e
}

func testAuth() *x402.Authorization {
	return &x402.Authorization{
		From:        common.HexToAddress("0x2222222222222222222222222222222222222222"),
		To:          common.HexToAddress("0x3333333333333333333333333333333333333333"),
		Value:       big.NewInt(1_000_000),
		ValidAfter:  big.NewInt(0),
		ValidBefore: big.NewInt(2_000_000_000),
		V:           27,
	}
}

func TestSettle_OptimisticReturnsSubmittedImmediately(t *testing.T) {
	rpc := &stubRPC{}
	e := newEngine(t, rpc, PolicyOptimistic)

	s := e.Settle(context.Background(), chaincontracts.ServiceIDHash("svc-1"), testAuth())
	assert.Equal(t, StateSubmitted, s.State)
	assert.NoError(t, s.Err)

	e.Wait()
}

func TestSettle_OneConf_TimesOutWithoutReceipt(t *testing.T) {
	rpc := &stubRPC{}
	e := newEngine(t, rpc, PolicyOneConfirmation)

	s := e.Settle(context.Background(), chaincontracts.ServiceIDHash("svc-1"), testAuth())
	assert.Equal(t, StateTimedOut, s.State)
	require.Error(t, s.Err)
}

func TestSettleLegacy_MarksLegacyTrue(t *testing.T) {
	rpc := &stubRPC{}
	e := newEngine(t, rpc, PolicyOptimistic)

	s := e.SettleLegacy(context.Background(), testAuth())
	assert.True(t, s.Legacy)
	assert.Equal(t, StateSubmitted, s.State)

	e.Wait()
}
