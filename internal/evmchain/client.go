// Package evmchain provides the low-level EVM RPC client shared by the
// contract trio and the relayer: a signed-transaction sender with a local
// nonce allocator and an ABI call helper. It generalizes the teacher's
// internal/wallet package (which packed only ERC20.transfer/balanceOf) to
// arbitrary contract methods against the ServiceRegistry, Escrow and
// PaymentProcessor contracts.
package evmchain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

var (
	ErrInvalidPrivateKey = errors.New("evmchain: invalid private key")
	ErrRPCConnection     = errors.New("evmchain: RPC connection failed")
	ErrTxReverted        = errors.New("evmchain: transaction reverted")
	ErrTimeout           = errors.New("evmchain: confirmation timed out")
)

// RevertError wraps ErrTxReverted with the revert reason recovered by
// re-simulating the failing transaction, when one could be recovered.
// Reason is empty if the resimulation itself failed or the revert carried
// no Error(string) payload.
type RevertError struct {
	TxHash common.Hash
	Reason string
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: tx %s", ErrTxReverted, e.TxHash.Hex())
	}
	return fmt.Sprintf("%s: tx %s: %s", ErrTxReverted, e.TxHash.Hex(), e.Reason)
}

func (e *RevertError) Unwrap() error { return ErrTxReverted }

// EthClient abstracts go-ethereum's client for testing, same shape as the
// teacher's wallet.EthClient but exported so contract clients can mock it.
type EthClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	NetworkID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

// Config configures a Client.
type Config struct {
	RPCURL     string
	PrivateKey string // hex, no 0x prefix required
	ChainID    int64
}

// Option configures the Client.
type Option func(*Client)

// WithClient injects a custom EthClient, used in tests.
func WithClient(c EthClient) Option {
	return func(cl *Client) { cl.rpc = c }
}

// Client is the relayer's signing identity plus its connection to the
// chain. One Client is shared across the registry, escrow, and processor
// contract wrappers and the settlement engine, so its nonce allocator
// stays consistent across every outbound transaction the gateway sends.
type Client struct {
	rpc        EthClient
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int

	nonces *nonceAllocator
}

// New dials the RPC endpoint (unless a Client is injected via WithClient)
// and primes the nonce allocator from the chain's current pending nonce.
func New(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if cfg.PrivateKey == "" {
		return nil, fmt.Errorf("%w: private key required", ErrInvalidPrivateKey)
	}
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	publicKeyECDSA, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: failed to derive public key", ErrInvalidPrivateKey)
	}

	c := &Client{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(*publicKeyECDSA),
		chainID:    big.NewInt(cfg.ChainID),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.rpc == nil {
		if cfg.RPCURL == "" {
			return nil, fmt.Errorf("%w: RPC URL required", ErrRPCConnection)
		}
		dialed, err := ethclient.DialContext(ctx, cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRPCConnection, err)
		}
		c.rpc = dialed
	}

	startNonce, err := c.rpc.PendingNonceAt(ctx, c.address)
	if err != nil {
		return nil, fmt.Errorf("%w: reading starting nonce: %v", ErrRPCConnection, err)
	}
	c.nonces = newNonceAllocator(startNonce)

	return c, nil
}

// Address returns the relayer's signing address.
func (c *Client) Address() common.Address { return c.address }

// ChainID returns the configured chain ID.
func (c *Client) ChainID() *big.Int { return c.chainID }

// Close releases the underlying RPC connection.
func (c *Client) Close() { c.rpc.Close() }

// Call performs a read-only contract call, ABI-packing the method and
// unpacking the return values into out (a pointer to a struct or slice, as
// accounts/abi.Unpack expects).
func (c *Client) Call(ctx context.Context, parsed abi.ABI, contract common.Address, method string, out interface{}, args ...interface{}) error {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("evmchain: pack %s: %w", method, err)
	}
	result, err := c.rpc.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return fmt.Errorf("evmchain: call %s: %w", method, err)
	}
	if out == nil {
		return nil
	}
	return parsed.UnpackIntoInterface(out, method, result)
}

// SendResult carries the outcome of a submitted transaction.
type SendResult struct {
	TxHash common.Hash
	Nonce  uint64
}

// Send ABI-packs method(args...), allocates the next local nonce, and
// signs and submits a transaction against contract with a caller-supplied
// gas limit. The gas limit is not estimated on-chain: contracts in this
// domain frequently revert on a dry-run CallMsg because their reentrancy
// guards or earlier-in-tx state assumptions don't hold outside the real
// transaction, which turns eth_estimateGas into a false negative
// (UNPREDICTABLE_GAS_LIMIT) on transactions that would have succeeded.
// Callers pass a generous fixed limit per method instead, following
// spec §4.5's gas policy.
func (c *Client) Send(ctx context.Context, parsed abi.ABI, contract common.Address, method string, gasLimit uint64, args ...interface{}) (*SendResult, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("evmchain: pack %s: %w", method, err)
	}

	gasPrice, err := c.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("evmchain: suggest gas price: %w", err)
	}

	nonce := c.nonces.next()

	tx := types.NewTransaction(nonce, contract, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.privateKey)
	if err != nil {
		c.nonces.release(nonce)
		return nil, fmt.Errorf("evmchain: sign %s: %w", method, err)
	}

	if err := c.rpc.SendTransaction(ctx, signedTx); err != nil {
		c.nonces.release(nonce)
		return nil, fmt.Errorf("evmchain: send %s: %w", method, err)
	}

	return &SendResult{TxHash: signedTx.Hash(), Nonce: nonce}, nil
}

// Confirmation describes the depth at which WaitForReceipt is satisfied.
type Confirmation int

const (
	// ConfirmationOptimistic returns as soon as the transaction is
	// accepted by the mempool (receipt not required).
	ConfirmationOptimistic Confirmation = iota
	// ConfirmationOneBlock waits for a mined receipt, any status.
	ConfirmationOneBlock
	// ConfirmationDeep waits for a mined receipt additionally separated
	// from the chain head by DeepConfirmationBlocks, guarding against a
	// same-block reorg flipping a successful receipt to reverted.
	ConfirmationDeep
)

// DeepConfirmationBlocks is the reorg-safety margin used by
// ConfirmationDeep.
const DeepConfirmationBlocks = 3

const receiptPollInterval = 2 * time.Second

// WaitForReceipt polls for a transaction receipt according to policy. It
// returns ErrTxReverted if the receipt's status is failure, and
// ErrTimeout if ctx's deadline elapses first.
func (c *Client) WaitForReceipt(ctx context.Context, txHash common.Hash, policy Confirmation) (*types.Receipt, error) {
	if policy == ConfirmationOptimistic {
		return nil, nil
	}

	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: tx %s", ErrTimeout, txHash.Hex())
		case <-ticker.C:
			receipt, err := c.rpc.TransactionReceipt(ctx, txHash)
			if err != nil {
				continue
			}
			if receipt.Status == 0 {
				return receipt, &RevertError{TxHash: txHash, Reason: c.revertReason(ctx, txHash, receipt.BlockNumber)}
			}
			if policy == ConfirmationOneBlock {
				return receipt, nil
			}

			head, err := c.rpc.BlockNumber(ctx)
			if err != nil {
				continue
			}
			if head >= receipt.BlockNumber.Uint64()+DeepConfirmationBlocks {
				return receipt, nil
			}
		}
	}
}

// revertReason recovers the Error(string) reason of a reverted transaction
// by re-fetching it and replaying it as an eth_call against the parent of
// the block it reverted in — the last state where the transaction hadn't
// executed yet. Returns "" if the transaction can't be refetched or the
// replay doesn't surface a decodable reason; callers treat that the same
// as an unrecognized revert.
func (c *Client) revertReason(ctx context.Context, txHash common.Hash, blockNumber *big.Int) string {
	tx, _, err := c.rpc.TransactionByHash(ctx, txHash)
	if err != nil || tx == nil || tx.To() == nil {
		return ""
	}

	call := ethereum.CallMsg{
		From:     c.address,
		To:       tx.To(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice(),
		Value:    tx.Value(),
		Data:     tx.Data(),
	}
	parent := new(big.Int).Sub(blockNumber, big.NewInt(1))

	_, callErr := c.rpc.CallContract(ctx, call, parent)
	if callErr == nil {
		return ""
	}

	var dataErr interface{ ErrorData() interface{} }
	if errors.As(callErr, &dataErr) {
		if hexData, ok := dataErr.ErrorData().(string); ok {
			if raw, decodeErr := hexutil.Decode(hexData); decodeErr == nil {
				if reason, unpackErr := abi.UnpackRevert(raw); unpackErr == nil {
					return reason
				}
			}
		}
	}
	return strings.TrimPrefix(callErr.Error(), "execution reverted: ")
}

// nonceAllocator hands out monotonically increasing nonces from a local
// counter primed once at startup, so the settlement engine never needs an
// RPC round-trip per transaction to learn the next nonce. release() hands
// back a nonce whose sign or send failed, but only while no later nonce
// has been handed out; otherwise the failed nonce is left as a gap.
type nonceAllocator struct {
	mu    sync.Mutex
	value uint64
}

func newNonceAllocator(start uint64) *nonceAllocator {
	return &nonceAllocator{value: start}
}

func (n *nonceAllocator) next() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	v := n.value
	n.value++
	return v
}

// release returns v to the allocator so the next transaction reuses it.
// It only does so when v is the most recently allocated nonce: once a
// concurrent caller holds v+1, rewinding would hand out v+1 twice.
func (n *nonceAllocator) release(v uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.value == v+1 {
		n.value = v
	}
}
