package evmchain

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPrivateKey = "4646464646464646464646464646464646464646464646464646464646464646"

type mockRPC struct {
	pendingNonce   uint64
	gasPrice       *big.Int
	sentTxs        []*types.Transaction
	receipts       map[common.Hash]*types.Receipt
	txsByHash      map[common.Hash]*types.Transaction
	blockNumber    uint64
	callContractFn func(ethereum.CallMsg) ([]byte, error)
}

func (m *mockRPC) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return m.pendingNonce, nil
}
func (m *mockRPC) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if m.gasPrice == nil {
		return big.NewInt(1_000_000_000), nil
	}
	return m.gasPrice, nil
}
func (m *mockRPC) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	m.sentTxs = append(m.sentTxs, tx)
	return nil
}
func (m *mockRPC) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	r, ok := m.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}
func (m *mockRPC) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if m.callContractFn != nil {
		return m.callContractFn(call)
	}
	return nil, nil
}
func (m *mockRPC) TransactionByHash(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error) {
	tx, ok := m.txsByHash[txHash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	return tx, false, nil
}
func (m *mockRPC) NetworkID(ctx context.Context) (*big.Int, error) { return big.NewInt(84532), nil }
func (m *mockRPC) BlockNumber(ctx context.Context) (uint64, error) { return m.blockNumber, nil }
func (m *mockRPC) Close()                                          {}

const testABI = `[
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

func newTestClient(t *testing.T, rpc *mockRPC) *Client {
	t.Helper()
	c, err := New(context.Background(), Config{
		PrivateKey: testPrivateKey,
		ChainID:    84532,
	}, WithClient(rpc))
	require.NoError(t, err)
	return c
}

func TestNew_PrimesNonceFromChain(t *testing.T) {
	rpc := &mockRPC{pendingNonce: 42}
	c := newTestClient(t, rpc)
	assert.Equal(t, uint64(42), c.nonces.next())
}

func TestSend_AllocatesSequentialNonces(t *testing.T) {
	rpc := &mockRPC{pendingNonce: 5}
	c := newTestClient(t, rpc)
	parsed, err := abi.JSON(strings.NewReader(testABI))
	require.NoError(t, err)

	to := common.HexToAddress("0x8d4712191fa0a189ab95C58aBaF6E19EBEA74c7f")

	r1, err := c.Send(context.Background(), parsed, to, "transfer", 100000, to, big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), r1.Nonce)

	r2, err := c.Send(context.Background(), parsed, to, "transfer", 100000, to, big.NewInt(2))
	require.NoError(t, err)
	assert.Equal(t, uint64(6), r2.Nonce)

	require.Len(t, rpc.sentTxs, 2)
	assert.Equal(t, uint64(100000), rpc.sentTxs[0].Gas())
}

func TestCall_UnpacksReturnValue(t *testing.T) {
	wantBalance := big.NewInt(123456)
	rpc := &mockRPC{
		callContractFn: func(call ethereum.CallMsg) ([]byte, error) {
			padded := make([]byte, 32)
			wantBalance.FillBytes(padded)
			return padded, nil
		},
	}
	c := newTestClient(t, rpc)
	parsed, err := abi.JSON(strings.NewReader(testABI))
	require.NoError(t, err)

	var got *big.Int
	err = c.Call(context.Background(), parsed, common.Address{}, "balanceOf", &got, common.Address{})
	require.NoError(t, err)
	assert.Equal(t, 0, wantBalance.Cmp(got))
}

func TestWaitForReceipt_OptimisticReturnsImmediately(t *testing.T) {
	rpc := &mockRPC{}
	c := newTestClient(t, rpc)
	receipt, err := c.WaitForReceipt(context.Background(), common.Hash{}, ConfirmationOptimistic)
	require.NoError(t, err)
	assert.Nil(t, receipt)
}

func TestWaitForReceipt_RevertedStatusReturnsError(t *testing.T) {
	hash := common.HexToHash("0x01")
	rpc := &mockRPC{
		receipts: map[common.Hash]*types.Receipt{
			hash: {Status: 0, BlockNumber: big.NewInt(10)},
		},
	}
	c := newTestClient(t, rpc)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.WaitForReceipt(ctx, hash, ConfirmationOneBlock)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrTxReverted)
}
