package catalog

import "context"

// Store persists the catalog: services, providers, access logs, claims.
// Mirrors the teacher's registry.Store split between a MemoryStore (tests,
// local dev) and a PostgresStore (production), per internal/config's
// database_url switch.
type Store interface {
	CreateService(ctx context.Context, svc *ServiceRecord) error
	GetService(ctx context.Context, serviceID string) (*ServiceRecord, error)
	GetServiceByHash(ctx context.Context, serviceIDHash string) (*ServiceRecord, error)
	UpdateServicePrice(ctx context.Context, serviceID string, priceBaseUnits string) error
	SetServiceActive(ctx context.Context, serviceID string, active bool) error
	ListServices(ctx context.Context, filter ListFilter) ([]*ServiceRecord, error)
	DeleteService(ctx context.Context, serviceID string) error

	UpsertProvider(ctx context.Context, p *ProviderRecord) error
	GetProvider(ctx context.Context, address string) (*ProviderRecord, error)
	ListProviders(ctx context.Context) ([]*ProviderRecord, error)
	IncrementProviderEarned(ctx context.Context, address string, amountBaseUnits string) error
	IncrementProviderClaimed(ctx context.Context, address string, amountBaseUnits string) error

	AppendAccessLog(ctx context.Context, entry *AccessLogEntry) error
	ListAccessLogs(ctx context.Context, serviceID string, limit int) ([]*AccessLogEntry, error)
	GetAccessLogByTxHash(ctx context.Context, txHash string) (*AccessLogEntry, error)

	CreateClaim(ctx context.Context, claim *ClaimRecord) error
	ListClaims(ctx context.Context, providerAddress string, limit int) ([]*ClaimRecord, error)
}
