// Package relayer implements the settlement engine of spec §4.5: it turns
// a verified authorization into an on-chain processPayment (or, on the
// legacy path, a direct receiveWithAuthorization) submission, and drives
// the NEW → VERIFIED → SUBMITTED → {CONFIRMED | REVERTED | TIMED_OUT}
// state machine per settlement.
package relayer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/x402gw/gateway/internal/chaincontracts"
	"github.com/x402gw/gateway/internal/evmchain"
	"github.com/x402gw/gateway/internal/logging"
	"github.com/x402gw/gateway/internal/metrics"
	"github.com/x402gw/gateway/internal/x402api"
	"github.com/x402gw/gateway/pkg/x402"
)

// State names a point in the settlement state machine.
type State string

const (
	StateNew        State = "NEW"
	StateVerified   State = "VERIFIED"
	StateSubmitted  State = "SUBMITTED"
	StateConfirmed  State = "CONFIRMED"
	StateReverted   State = "REVERTED"
	StateTimedOut   State = "TIMED_OUT"
)

// Policy selects the confirmation discipline of spec §4.5.
type Policy string

const (
	// PolicyOptimistic returns as soon as the transaction is accepted by
	// the mempool; confirmation is awaited in a background goroutine.
	PolicyOptimistic Policy = "optimistic"
	// PolicyOneConfirmation blocks until the transaction is mined (default).
	PolicyOneConfirmation Policy = "1-conf"
	// PolicyDeep additionally waits for a reorg-safety margin of blocks.
	PolicyDeep Policy = "deep"
)

func (p Policy) confirmation() evmchain.Confirmation {
	switch p {
	case PolicyOptimistic:
		return evmchain.ConfirmationOptimistic
	case PolicyDeep:
		return evmchain.ConfirmationDeep
	default:
		return evmchain.ConfirmationOneBlock
	}
}

// DefaultConfirmationTimeout bounds how long a 1-conf or deep wait blocks
// the caller before reporting TIMED_OUT, per spec §5.
const DefaultConfirmationTimeout = 30 * time.Second

// Settlement records the outcome of a single settlement attempt.
type Settlement struct {
	State    State
	TxHash   common.Hash
	Legacy   bool // true if settled via the legacy direct-token path
	Err      error
}

// Engine is the settlement engine: one per gateway process, sharing the
// relayer's evmchain.Client (and therefore its nonce allocator) across
// every submission.
type Engine struct {
	Processor *chaincontracts.Processor
	Token     *chaincontracts.Token
	Client    *evmchain.Client

	Policy               Policy
	ConfirmationTimeout  time.Duration

	// bg tracks background confirmation waits started under optimistic
	// policy, so tests and shutdown can drain them deterministically.
	bg sync.WaitGroup
}

func New(client *evmchain.Client, processor *chaincontracts.Processor, token *chaincontracts.Token, policy Policy) *Engine {
	return &Engine{
		Client:              client,
		Processor:           processor,
		Token:               token,
		Policy:              policy,
		ConfirmationTimeout: DefaultConfirmationTimeout,
	}
}

// Settle submits processPayment for a verified authorization bound to
// serviceIDHash. It is the preferred path of spec §4.5.
func (e *Engine) Settle(ctx context.Context, serviceIDHash [32]byte, auth *x402.Authorization) *Settlement {
	logger := logging.FromContext(ctx).With("component", "relayer", "from", auth.From.Hex())

	res, err := e.Processor.ProcessPayment(ctx, serviceIDHash, auth)
	if err != nil {
		logger.Error("processPayment submission failed", "error", err)
		metrics.TransactionsTotal.WithLabelValues(string(StateReverted)).Inc()
		return &Settlement{State: StateReverted, Err: x402api.Wrap(x402api.KindSettlementFailed, "processPayment submission failed", err).WithNonce(hexNonce(auth.Nonce))}
	}
	logger.Info("processPayment submitted", "tx_hash", res.TxHash.Hex(), "nonce", res.Nonce)

	return e.awaitConfirmation(ctx, res.TxHash, false, auth.Nonce)
}

// SettleLegacy submits the direct token.receiveWithAuthorization call
// when no service binding is available. It does not credit any provider
// ledger — spec §9 documents this as intentionally best-effort — and is
// logged/metriced distinctly from the preferred path.
func (e *Engine) SettleLegacy(ctx context.Context, auth *x402.Authorization) *Settlement {
	logger := logging.FromContext(ctx).With("component", "relayer", "path", "legacy", "from", auth.From.Hex())
	logger.Warn("using legacy direct-token settlement path; provider ledger will not be credited")

	res, err := e.Token.ReceiveWithAuthorization(ctx, auth)
	if err != nil {
		logger.Error("receiveWithAuthorization submission failed", "error", err)
		metrics.TransactionsTotal.WithLabelValues(string(StateReverted)).Inc()
		return &Settlement{State: StateReverted, Legacy: true, Err: x402api.Wrap(x402api.KindSettlementFailed, "receiveWithAuthorization submission failed", err).WithNonce(hexNonce(auth.Nonce))}
	}
	logger.Info("receiveWithAuthorization submitted", "tx_hash", res.TxHash.Hex())

	s := e.awaitConfirmation(ctx, res.TxHash, true, auth.Nonce)
	s.Legacy = true
	return s
}

func (e *Engine) awaitConfirmation(ctx context.Context, txHash common.Hash, legacy bool, nonce [32]byte) *Settlement {
	if e.Policy == PolicyOptimistic {
		e.bg.Add(1)
		go func() {
			defer e.bg.Done()
			bgCtx, cancel := context.WithTimeout(context.Background(), e.ConfirmationTimeout)
			defer cancel()
			if _, err := e.Client.WaitForReceipt(bgCtx, txHash, evmchain.ConfirmationOneBlock); err != nil {
				slog.Error("background confirmation failed", "tx_hash", txHash.Hex(), "error", err)
			}
		}()
		metrics.TransactionsTotal.WithLabelValues(string(StateSubmitted)).Inc()
		return &Settlement{State: StateSubmitted, TxHash: txHash, Legacy: legacy}
	}

	waitCtx, cancel := context.WithTimeout(ctx, e.ConfirmationTimeout)
	defer cancel()

	_, err := e.Client.WaitForReceipt(waitCtx, txHash, e.Policy.confirmation())
	switch {
	case err == nil:
		metrics.TransactionsTotal.WithLabelValues(string(StateConfirmed)).Inc()
		return &Settlement{State: StateConfirmed, TxHash: txHash, Legacy: legacy}
	case isTimeout(err):
		metrics.TransactionsTotal.WithLabelValues(string(StateTimedOut)).Inc()
		return &Settlement{State: StateTimedOut, TxHash: txHash, Legacy: legacy, Err: x402api.New(x402api.KindTimedOut, "confirmation wait exceeded; transaction may still mine")}
	default:
		metrics.TransactionsTotal.WithLabelValues(string(StateReverted)).Inc()
		kind := x402api.KindSettlementFailed
		var revertErr *evmchain.RevertError
		if errors.As(err, &revertErr) && revertErr.Reason != "" {
			kind = x402api.TranslateRevert(revertErr.Reason)
		}
		return &Settlement{State: StateReverted, TxHash: txHash, Legacy: legacy, Err: x402api.New(kind, "transaction reverted on-chain").WithNonce(hexNonce(nonce))}
	}
}

// Wait blocks until any background optimistic-confirmation goroutines
// started by this engine have finished, for use in tests and graceful
// shutdown.
func (e *Engine) Wait() { e.bg.Wait() }

func isTimeout(err error) bool {
	return errors.Is(err, evmchain.ErrTimeout)
}

func hexNonce(n [32]byte) string {
	return common.BytesToHash(n[:]).Hex()
}
