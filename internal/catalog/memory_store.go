package catalog

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/x402gw/gateway/internal/idgen"
)

// MemoryStore is a thread-safe in-memory Store, used in local dev and
// tests; the teacher's registry.MemoryStore is the model for the locking
// discipline (a single RWMutex, copies returned to callers to prevent
// mutation through the map).
type MemoryStore struct {
	mu         sync.RWMutex
	services   map[string]*ServiceRecord // serviceID -> record
	byHash     map[string]string         // serviceIDHash -> serviceID
	providers  map[string]*ProviderRecord
	accessLogs []*AccessLogEntry
	claims     []*ClaimRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		services:  make(map[string]*ServiceRecord),
		byHash:    make(map[string]string),
		providers: make(map[string]*ProviderRecord),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) CreateService(ctx context.Context, svc *ServiceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.services[svc.ServiceID]; exists {
		return ErrServiceExists
	}

	now := time.Now()
	svc.CreatedAt = now
	svc.UpdatedAt = now
	cp := *svc
	m.services[svc.ServiceID] = &cp
	m.byHash[strings.ToLower(svc.ServiceIDHash)] = svc.ServiceID
	return nil
}

func (m *MemoryStore) GetService(ctx context.Context, serviceID string) (*ServiceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	svc, ok := m.services[serviceID]
	if !ok {
		return nil, ErrServiceNotFound
	}
	cp := *svc
	return &cp, nil
}

func (m *MemoryStore) GetServiceByHash(ctx context.Context, serviceIDHash string) (*ServiceRecord, error) {
	m.mu.RLock()
	id, ok := m.byHash[strings.ToLower(serviceIDHash)]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrServiceNotFound
	}
	return m.GetService(ctx, id)
}

func (m *MemoryStore) UpdateServicePrice(ctx context.Context, serviceID string, priceBaseUnits string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	svc, ok := m.services[serviceID]
	if !ok {
		return ErrServiceNotFound
	}
	svc.PriceBaseUnits = priceBaseUnits
	svc.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) SetServiceActive(ctx context.Context, serviceID string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	svc, ok := m.services[serviceID]
	if !ok {
		return ErrServiceNotFound
	}
	svc.Active = active
	svc.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ListServices(ctx context.Context, filter ListFilter) ([]*ServiceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*ServiceRecord
	for _, svc := range m.services {
		if filter.OnlyActive && !svc.Active {
			continue
		}
		if filter.Tag != "" && !hasTag(svc.Tags, filter.Tag) {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(svc.Name+" "+svc.Description), strings.ToLower(filter.Search)) {
			continue
		}
		cp := *svc
		out = append(out, &cp)
	}
	if filter.Offset > 0 && filter.Offset < len(out) {
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

func (m *MemoryStore) DeleteService(ctx context.Context, serviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	svc, ok := m.services[serviceID]
	if !ok {
		return ErrServiceNotFound
	}
	delete(m.byHash, strings.ToLower(svc.ServiceIDHash))
	delete(m.services, serviceID)
	return nil
}

func (m *MemoryStore) UpsertProvider(ctx context.Context, p *ProviderRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	addr := strings.ToLower(p.Address)
	existing, ok := m.providers[addr]
	now := time.Now()
	if !ok {
		cp := *p
		cp.Address = addr
		cp.CreatedAt = now
		cp.UpdatedAt = now
		if cp.TotalEarnedBase == "" {
			cp.TotalEarnedBase = "0"
		}
		if cp.TotalClaimedBase == "" {
			cp.TotalClaimedBase = "0"
		}
		m.providers[addr] = &cp
		return nil
	}
	existing.DisplayName = p.DisplayName
	existing.WebhookURL = p.WebhookURL
	existing.UpdatedAt = now
	return nil
}

func (m *MemoryStore) GetProvider(ctx context.Context, address string) (*ProviderRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[strings.ToLower(address)]
	if !ok {
		return nil, ErrProviderNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) ListProviders(ctx context.Context) ([]*ProviderRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ProviderRecord, 0, len(m.providers))
	for _, p := range m.providers {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) IncrementProviderEarned(ctx context.Context, address string, amountBaseUnits string) error {
	return m.adjustProviderTotal(address, amountBaseUnits, true)
}

func (m *MemoryStore) IncrementProviderClaimed(ctx context.Context, address string, amountBaseUnits string) error {
	return m.adjustProviderTotal(address, amountBaseUnits, false)
}

func (m *MemoryStore) adjustProviderTotal(address, amountBaseUnits string, earned bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	addr := strings.ToLower(address)
	p, ok := m.providers[addr]
	if !ok {
		p = &ProviderRecord{Address: addr, TotalEarnedBase: "0", TotalClaimedBase: "0", CreatedAt: time.Now()}
		m.providers[addr] = p
	}

	delta, ok := new(big.Int).SetString(amountBaseUnits, 10)
	if !ok {
		delta = big.NewInt(0)
	}

	field := &p.TotalClaimedBase
	if earned {
		field = &p.TotalEarnedBase
	}
	current, _ := new(big.Int).SetString(*field, 10)
	if current == nil {
		current = big.NewInt(0)
	}
	*field = current.Add(current, delta).String()
	p.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) AppendAccessLog(ctx context.Context, entry *AccessLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == "" {
		entry.ID = idgen.WithPrefix("log_")
	}
	entry.CreatedAt = time.Now()
	cp := *entry
	m.accessLogs = append(m.accessLogs, &cp)
	return nil
}

func (m *MemoryStore) ListAccessLogs(ctx context.Context, serviceID string, limit int) ([]*AccessLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*AccessLogEntry
	for i := len(m.accessLogs) - 1; i >= 0; i-- {
		entry := m.accessLogs[i]
		if serviceID != "" && entry.ServiceID != serviceID {
			continue
		}
		cp := *entry
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) GetAccessLogByTxHash(ctx context.Context, txHash string) (*AccessLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, entry := range m.accessLogs {
		if strings.EqualFold(entry.TxHash, txHash) {
			cp := *entry
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) CreateClaim(ctx context.Context, claim *ClaimRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if claim.ID == "" {
		claim.ID = idgen.WithPrefix("claim_")
	}
	claim.CreatedAt = time.Now()
	cp := *claim
	m.claims = append(m.claims, &cp)
	return nil
}

func (m *MemoryStore) ListClaims(ctx context.Context, providerAddress string, limit int) ([]*ClaimRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ClaimRecord
	for i := len(m.claims) - 1; i >= 0; i-- {
		claim := m.claims[i]
		if providerAddress != "" && !strings.EqualFold(claim.ProviderAddress, providerAddress) {
			continue
		}
		cp := *claim
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
