// Package watcher runs background confirmation tracking for settlements
// the relayer submitted but did not wait to confirm — the optimistic
// policy's background goroutine, and any settlement that timed out
// before its receipt landed. Each resolved job is handed back to the
// caller through the onResolved callback, which decides what to notify.
package watcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/x402gw/gateway/internal/evmchain"
	"github.com/x402gw/gateway/internal/retry"
)

// Job describes one pending settlement a Watcher should keep polling
// for, carrying enough context for the resolution callback to credit the
// right provider and notify the right subscribers.
type Job struct {
	TxHash          common.Hash
	ServiceID       string
	Payer           string
	AmountBaseUnits string
	ProviderRevenue string
	Legacy          bool
}

// Resolution is what a Watcher reports back once a job settles one way
// or another (or is abandoned after exhausting its retry budget).
type Resolution struct {
	Job       Job
	Confirmed bool
	Err       error
}

// DefaultTimeout bounds how long a single job is tracked before it's
// reported unresolved.
const DefaultTimeout = 5 * time.Minute

// DefaultPollInterval is the spacing between WaitForReceipt retry
// attempts when a transient RPC error (not "not yet mined") occurs.
const DefaultPollInterval = 3 * time.Second

// Watcher tracks pending transaction confirmations in the background
// and reports the outcome through onResolved. One Watcher is shared by
// a gateway process, mirroring the teacher's single-instance poll-loop
// watcher.
type Watcher struct {
	client     *evmchain.Client
	onResolved func(ctx context.Context, res Resolution)
	logger     *slog.Logger
	timeout    time.Duration

	bg sync.WaitGroup
}

// New creates a Watcher. onResolved is invoked from a background
// goroutine per job — it must not block indefinitely.
func New(client *evmchain.Client, logger *slog.Logger, onResolved func(ctx context.Context, res Resolution)) *Watcher {
	return &Watcher{
		client:     client,
		onResolved: onResolved,
		logger:     logger,
		timeout:    DefaultTimeout,
	}
}

// Enqueue starts tracking job in a new goroutine. Enqueue returns
// immediately; call Wait to block until every enqueued job has
// resolved (used by tests and graceful shutdown).
func (w *Watcher) Enqueue(job Job) {
	w.bg.Add(1)
	go func() {
		defer w.bg.Done()
		w.track(job)
	}()
}

func (w *Watcher) track(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	var confirmed bool
	err := retry.Do(ctx, 5, DefaultPollInterval, func() error {
		_, waitErr := w.client.WaitForReceipt(ctx, job.TxHash, evmchain.ConfirmationOneBlock)
		if waitErr == nil {
			confirmed = true
			return nil
		}
		return waitErr
	})

	if err != nil {
		w.logger.Warn("watcher: settlement still unresolved after retries", "tx_hash", job.TxHash.Hex(), "service_id", job.ServiceID, "error", err)
	}

	w.onResolved(context.Background(), Resolution{Job: job, Confirmed: confirmed, Err: err})
}

// Wait blocks until every enqueued job has resolved or abandoned its
// retry budget.
func (w *Watcher) Wait() { w.bg.Wait() }
