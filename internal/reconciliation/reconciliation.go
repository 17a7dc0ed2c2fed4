// Package reconciliation compares the catalog's provider earnings mirror
// against the Escrow contract's on-chain balances, flagging drift that
// would mean the off-chain ledger and the chain have fallen out of sync.
package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ProviderLister gives the providers whose earned/claimed totals should
// be checked against the chain.
type ProviderLister interface {
	ListProviders(ctx context.Context) ([]ProviderTotal, error)
}

// ProviderTotal is the minimal shape reconciliation needs from a catalog
// provider record.
type ProviderTotal struct {
	Address          common.Address
	TotalEarnedBase  *big.Int
	TotalClaimedBase *big.Int
}

// ChainBalanceProvider reads a provider's claimable balance straight off
// the Escrow contract — the only source of truth for "claimable" per
// spec §4.7.
type ChainBalanceProvider interface {
	ProviderBalance(ctx context.Context, provider common.Address) (*big.Int, error)
}

// Mismatch describes one provider whose expected claimable balance
// (earned minus claimed) disagrees with what Escrow actually holds.
type Mismatch struct {
	Provider common.Address
	Expected *big.Int // earned - claimed, per the catalog mirror
	OnChain  *big.Int // Escrow.providerBalances(provider)
	Diff     *big.Int // onChain - expected
}

// Result is the outcome of one reconciliation pass.
type Result struct {
	Checked   int
	Mismatches []Mismatch
	RanAt     time.Time
}

// Service runs reconciliation passes on demand or on a timer.
type Service struct {
	providers ProviderLister
	escrow    ChainBalanceProvider
	logger    *slog.Logger

	// threshold is the base-unit drift below which a difference is
	// tolerated (accounts for a settlement that's CONFIRMED on-chain but
	// whose catalog credit hasn't landed yet).
	threshold *big.Int

	running atomic.Bool
	stop    chan struct{}
}

// New creates a reconciliation Service. threshold is the base-unit
// drift tolerated before a provider is reported as mismatched.
func New(providers ProviderLister, escrow ChainBalanceProvider, logger *slog.Logger, threshold *big.Int) *Service {
	if threshold == nil {
		threshold = big.NewInt(0)
	}
	return &Service{
		providers: providers,
		escrow:    escrow,
		logger:    logger,
		threshold: threshold,
		stop:      make(chan struct{}),
	}
}

// Run executes a single reconciliation pass.
func (s *Service) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	defer func() { reconcileDuration.Observe(time.Since(start).Seconds()) }()

	providers, err := s.providers.ListProviders(ctx)
	if err != nil {
		reconcileErrors.Inc()
		return nil, fmt.Errorf("reconciliation: list providers: %w", err)
	}

	result := &Result{RanAt: start}
	worstDiff := big.NewInt(0)

	for _, p := range providers {
		onChain, err := s.escrow.ProviderBalance(ctx, p.Address)
		if err != nil {
			reconcileErrors.Inc()
			s.logger.Warn("reconciliation: failed to read escrow balance", "provider", p.Address.Hex(), "error", err)
			continue
		}
		result.Checked++

		expected := new(big.Int).Sub(p.TotalEarnedBase, p.TotalClaimedBase)
		diff := new(big.Int).Sub(onChain, expected)
		absDiff := new(big.Int).Abs(diff)

		if absDiff.Cmp(worstDiff) > 0 {
			worstDiff = absDiff
		}

		if absDiff.Cmp(s.threshold) > 0 {
			result.Mismatches = append(result.Mismatches, Mismatch{
				Provider: p.Address,
				Expected: expected,
				OnChain:  onChain,
				Diff:     diff,
			})
		}
	}

	reconcileMismatch.Set(float64bigint(worstDiff))
	if len(result.Mismatches) > 0 {
		s.logger.Warn("reconciliation found balance mismatches", "count", len(result.Mismatches))
	}
	return result, nil
}

// float64bigint converts a base-units amount to a float64 for metrics
// export; precision loss beyond 2^53 base units is acceptable here since
// this gauge is an alerting signal, not a ledger value.
func float64bigint(v *big.Int) float64 {
	f := new(big.Float).SetInt(v)
	out, _ := f.Float64()
	return out
}

// Start runs reconciliation passes on interval until ctx is done or Stop
// is called. Call in a goroutine.
func (s *Service) Start(ctx context.Context, interval time.Duration) {
	s.running.Store(true)
	defer s.running.Store(false)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			if _, err := s.Run(ctx); err != nil {
				s.logger.Warn("reconciliation run failed", "error", err)
			}
		}
	}
}

// Stop signals the timer loop to exit.
func (s *Service) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

// Running reports whether the timer loop is actively running.
func (s *Service) Running() bool { return s.running.Load() }
