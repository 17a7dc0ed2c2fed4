// Package catalog is the off-chain mirror of spec §3's service, provider,
// and access-log records — the persistence layer behind the gateway's
// catalog, revenue, and claim endpoints. It follows the teacher's
// registry package's Store/MemoryStore/PostgresStore dual-implementation
// pattern, generalized from the teacher's Agent+Service two-level model
// down to the spec's single ServiceRecord keyed by service_id.
package catalog

import (
	"errors"
	"math/big"
	"time"
)

var (
	ErrServiceNotFound  = errors.New("catalog: service not found")
	ErrServiceExists    = errors.New("catalog: service already exists")
	ErrProviderNotFound = errors.New("catalog: provider not found")
	ErrInvalidKind      = errors.New("catalog: invalid service kind")
	ErrInvalidPrice     = errors.New("catalog: price must be positive")
)

// Kind is the tagged variant of spec §9: services are HOSTED (content
// served directly by the gateway), PROXY (forwarded to an upstream URL),
// or NATIVE (the gateway only mediates HOSTED/PROXY; NATIVE services
// decline mediation and point callers at their own endpoint).
type Kind string

const (
	KindHosted Kind = "HOSTED"
	KindProxy  Kind = "PROXY"
	KindNative Kind = "NATIVE"
)

func (k Kind) Valid() bool {
	switch k {
	case KindHosted, KindProxy, KindNative:
		return true
	}
	return false
}

// ServiceRecord is the off-chain twin of an on-chain ServiceRegistry
// entry, carrying the fields the contract doesn't (content blob, tags,
// provider name) alongside the ones it does.
type ServiceRecord struct {
	ServiceID       string    `json:"serviceId"`
	ServiceIDHash   string    `json:"serviceIdHash"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	PriceBaseUnits  string    `json:"priceBaseUnits"`
	TokenAddress    string    `json:"tokenAddress"`
	TokenDecimals   int       `json:"tokenDecimals"`
	Kind            Kind      `json:"kind"`
	Content         string    `json:"content,omitempty"`  // HOSTED only
	Endpoint        string    `json:"endpoint,omitempty"` // PROXY only; self-referential /gateway/<id> for HOSTED
	ProviderAddress string    `json:"providerAddress"`
	ProviderName    string    `json:"providerName,omitempty"`
	Tags            []string  `json:"tags,omitempty"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Validate enforces the invariants of spec §3: price a positive base-10
// integer, kind valid, and the kind's own field non-empty (content for
// HOSTED, endpoint for PROXY). Fields belonging to the other kind are not
// rejected.
func (s *ServiceRecord) Validate() error {
	if !s.Kind.Valid() {
		return ErrInvalidKind
	}
	price, ok := new(big.Int).SetString(s.PriceBaseUnits, 10)
	if !ok || price.Sign() <= 0 {
		return ErrInvalidPrice
	}
	switch s.Kind {
	case KindHosted:
		if s.Content == "" {
			return errors.New("catalog: HOSTED service requires content")
		}
	case KindProxy:
		if s.Endpoint == "" {
			return errors.New("catalog: PROXY service requires an endpoint")
		}
	}
	return nil
}

// ProviderRecord is the off-chain mirror described in spec §3: display
// name and running totals. The authoritative claimable balance always
// comes from Escrow.providerBalances, never from these totals.
type ProviderRecord struct {
	Address           string    `json:"address"`
	DisplayName       string    `json:"displayName,omitempty"`
	WebhookURL        string    `json:"webhookUrl,omitempty"`
	TotalEarnedBase   string    `json:"totalEarnedBaseUnits"`
	TotalClaimedBase  string    `json:"totalClaimedBaseUnits"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// AccessLogEntry is the append-only record of spec §3, created iff
// settlement succeeded.
type AccessLogEntry struct {
	ID                       string    `json:"id"`
	ServiceID                string    `json:"serviceId"`
	CallerAddress            string    `json:"callerAddress"`
	AmountBaseUnits          string    `json:"amountBaseUnits"`
	ProviderRevenueBaseUnits string    `json:"providerRevenueBaseUnits"`
	TxHash                   string    `json:"txHash"`
	Legacy                   bool      `json:"legacy"`
	Success                  bool      `json:"success"`
	CreatedAt                time.Time `json:"createdAt"`
}

// ClaimRecord tracks a POST /claim invocation, i.e. a relayer-initiated
// escrow.withdraw on a provider's behalf.
type ClaimRecord struct {
	ID              string    `json:"id"`
	ProviderAddress string    `json:"providerAddress"`
	AmountBaseUnits string    `json:"amountBaseUnits"`
	TxHash          string    `json:"txHash"`
	Status          string    `json:"status"` // pending, confirmed, failed
	CreatedAt       time.Time `json:"createdAt"`
}

// ListFilter narrows GET /services by the query parameters spec §6
// documents (?tag=T&search=S).
type ListFilter struct {
	Tag       string
	Search    string
	OnlyActive bool
	Limit     int
	Offset    int
}
