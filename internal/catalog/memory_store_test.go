package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_CreateAndGetService(t *testing.T) {
	s := NewMemoryStore()
	svc := &ServiceRecord{
		ServiceID:       "svc-1",
		ServiceIDHash:   "0xabc",
		Name:            "Demo Service",
		PriceBaseUnits:  "1000000000000000000",
		TokenAddress:    "0xtoken",
		Kind:            KindHosted,
		Content:         `{"x":42}`,
		ProviderAddress: "0xProvider",
		Active:          true,
	}
	require.NoError(t, s.CreateService(context.Background(), svc))

	got, err := s.GetService(context.Background(), "svc-1")
	require.NoError(t, err)
	assert.Equal(t, "Demo Service", got.Name)

	byHash, err := s.GetServiceByHash(context.Background(), "0xABC")
	require.NoError(t, err)
	assert.Equal(t, "svc-1", byHash.ServiceID)
}

func TestMemoryStore_CreateService_DuplicateRejected(t *testing.T) {
	s := NewMemoryStore()
	svc := &ServiceRecord{ServiceID: "svc-1", ServiceIDHash: "0xabc", PriceBaseUnits: "1", Kind: KindHosted, Content: "x"}
	require.NoError(t, s.CreateService(context.Background(), svc))
	err := s.CreateService(context.Background(), svc)
	assert.ErrorIs(t, err, ErrServiceExists)
}

func TestMemoryStore_ListServices_FiltersByTagAndActive(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.CreateService(context.Background(), &ServiceRecord{
		ServiceID: "svc-active", ServiceIDHash: "0x1", PriceBaseUnits: "1", Kind: KindHosted, Content: "x",
		Tags: []string{"ai"}, Active: true,
	}))
	require.NoError(t, s.CreateService(context.Background(), &ServiceRecord{
		ServiceID: "svc-inactive", ServiceIDHash: "0x2", PriceBaseUnits: "1", Kind: KindHosted, Content: "x",
		Tags: []string{"data"}, Active: false,
	}))

	active, err := s.ListServices(context.Background(), ListFilter{OnlyActive: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "svc-active", active[0].ServiceID)

	byTag, err := s.ListServices(context.Background(), ListFilter{Tag: "data"})
	require.NoError(t, err)
	require.Len(t, byTag, 1)
	assert.Equal(t, "svc-inactive", byTag[0].ServiceID)
}

func TestMemoryStore_ProviderTotals_AccumulateAsBigInt(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.IncrementProviderEarned(context.Background(), "0xProvider", "1000000000000000000"))
	require.NoError(t, s.IncrementProviderEarned(context.Background(), "0xProvider", "500000000000000000"))
	require.NoError(t, s.IncrementProviderClaimed(context.Background(), "0xProvider", "200000000000000000"))

	p, err := s.GetProvider(context.Background(), "0xprovider")
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000", p.TotalEarnedBase)
	assert.Equal(t, "200000000000000000", p.TotalClaimedBase)
}

func TestMemoryStore_AccessLog_ListedMostRecentFirst(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.AppendAccessLog(context.Background(), &AccessLogEntry{ServiceID: "svc-1", TxHash: "0xaaa"}))
	require.NoError(t, s.AppendAccessLog(context.Background(), &AccessLogEntry{ServiceID: "svc-1", TxHash: "0xbbb"}))

	logs, err := s.ListAccessLogs(context.Background(), "svc-1", 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "0xbbb", logs[0].TxHash)
}

func TestServiceRecord_Validate(t *testing.T) {
	svc := &ServiceRecord{Kind: KindHosted, PriceBaseUnits: "0"}
	assert.ErrorIs(t, svc.Validate(), ErrInvalidPrice)

	svc = &ServiceRecord{Kind: "BOGUS", PriceBaseUnits: "1"}
	assert.ErrorIs(t, svc.Validate(), ErrInvalidKind)

	svc = &ServiceRecord{Kind: KindProxy, PriceBaseUnits: "1"}
	assert.Error(t, svc.Validate())

	svc = &ServiceRecord{Kind: KindProxy, PriceBaseUnits: "1", Endpoint: "http://x"}
	assert.NoError(t, svc.Validate())
}
