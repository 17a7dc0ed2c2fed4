package gateway

import (
	"strings"
	"sync"
	"time"
)

// DefaultRateLimitRPM is the per-payer request budget under optimistic
// settlement, where spec §5 requires rate limiting to bound gas-griefing
// exposure from a payer who never lets a submission confirm.
const DefaultRateLimitRPM = 100

type rateLimitEntry struct {
	count       int
	windowStart time.Time
	limit       int
}

// payerRateLimiter is a fixed-window, per-minute counter keyed by payer
// address rather than IP — the gateway cares about who is spending
// relayer gas, not where the HTTP request originated.
type payerRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*rateLimitEntry
	window  time.Duration
	limit   int
}

func newPayerRateLimiter(limit int) *payerRateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimitRPM
	}
	return &payerRateLimiter{
		entries: make(map[string]*rateLimitEntry),
		window:  time.Minute,
		limit:   limit,
	}
}

// allow checks whether a request from the given payer is within the
// budget of its current one-minute window, which starts at the payer's
// first request after the previous window ended.
func (rl *payerRateLimiter) allow(payer string) bool {
	key := strings.ToLower(payer)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.entries[key]
	if !ok {
		rl.entries[key] = &rateLimitEntry{count: 1, windowStart: time.Now(), limit: rl.limit}
		return true
	}

	now := time.Now()
	if now.Sub(entry.windowStart) >= rl.window {
		entry.count = 1
		entry.windowStart = now
		return true
	}

	if entry.count >= entry.limit {
		return false
	}
	entry.count++
	return true
}

// sweep removes entries with no activity in the last two windows, called
// periodically so the map doesn't grow unbounded across distinct payers.
func (rl *payerRateLimiter) sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	removed := 0
	for k, entry := range rl.entries {
		if now.Sub(entry.windowStart) > 2*rl.window {
			delete(rl.entries, k)
			removed++
		}
	}
	return removed
}

func (rl *payerRateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

// Blacklist tracks payer addresses excluded from settlement — spec §5's
// "blacklisting of misbehaving from addresses" under optimistic mode,
// e.g. a payer whose submissions repeatedly time out or revert.
type Blacklist struct {
	mu   sync.RWMutex
	addr map[string]string // lowercase address -> reason
}

func NewBlacklist() *Blacklist {
	return &Blacklist{addr: make(map[string]string)}
}

// Add blocks an address with a reason, for audit logging.
func (b *Blacklist) Add(address, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addr[strings.ToLower(address)] = reason
}

// Remove lifts a block.
func (b *Blacklist) Remove(address string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.addr, strings.ToLower(address))
}

// Blocked reports whether address is blacklisted, and why.
func (b *Blacklist) Blocked(address string) (bool, string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	reason, ok := b.addr[strings.ToLower(address)]
	return ok, reason
}
