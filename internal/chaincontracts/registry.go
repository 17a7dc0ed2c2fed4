package chaincontracts

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/x402gw/gateway/internal/evmchain"
)

// Registry-call gas limits are hardcoded per the relayer's gas policy
// (see spec §4.5): estimateGas is not used for any on-chain write in this
// package.
const (
	GasRegisterService = uint64(250_000)
	GasUpdatePrice      = uint64(80_000)
	GasSetActive        = uint64(80_000)
)

// OnChainService mirrors ServiceRegistry's packed struct, as read back by
// the `services` view function.
type OnChainService struct {
	Provider       common.Address
	PriceBaseUnits *big.Int
	Name           string
	Endpoint       string
	Active         bool
	CreatedAt      *big.Int
}

// Registry wraps the ServiceRegistry contract: service catalog keyed by
// service_id_hash, owner-gated creation, provider-or-owner-gated updates.
type Registry struct {
	client  *evmchain.Client
	address common.Address
}

func NewRegistry(client *evmchain.Client, address common.Address) *Registry {
	return &Registry{client: client, address: address}
}

func (r *Registry) Address() common.Address { return r.address }

// Register creates a new service record on-chain. Callable only by the
// registry owner (the relayer identity), per spec §4.6.
func (r *Registry) Register(ctx context.Context, serviceIDHash [32]byte, provider common.Address, priceBaseUnits *big.Int, name, endpoint string) (*evmchain.SendResult, error) {
	res, err := r.client.Send(ctx, registryContractABI, r.address, "register", GasRegisterService,
		serviceIDHash, provider, priceBaseUnits, name, endpoint)
	if err != nil {
		return nil, fmt.Errorf("chaincontracts: register service: %w", err)
	}
	return res, nil
}

func (r *Registry) UpdatePrice(ctx context.Context, serviceIDHash [32]byte, priceBaseUnits *big.Int) (*evmchain.SendResult, error) {
	res, err := r.client.Send(ctx, registryContractABI, r.address, "updatePrice", GasUpdatePrice,
		serviceIDHash, priceBaseUnits)
	if err != nil {
		return nil, fmt.Errorf("chaincontracts: update price: %w", err)
	}
	return res, nil
}

func (r *Registry) Deactivate(ctx context.Context, serviceIDHash [32]byte) (*evmchain.SendResult, error) {
	res, err := r.client.Send(ctx, registryContractABI, r.address, "deactivate", GasSetActive, serviceIDHash)
	if err != nil {
		return nil, fmt.Errorf("chaincontracts: deactivate service: %w", err)
	}
	return res, nil
}

func (r *Registry) Reactivate(ctx context.Context, serviceIDHash [32]byte) (*evmchain.SendResult, error) {
	res, err := r.client.Send(ctx, registryContractABI, r.address, "reactivate", GasSetActive, serviceIDHash)
	if err != nil {
		return nil, fmt.Errorf("chaincontracts: reactivate service: %w", err)
	}
	return res, nil
}

// GetService reads a service record by its hash. A zero Provider address
// with Active=false indicates the service was never registered.
func (r *Registry) GetService(ctx context.Context, serviceIDHash [32]byte) (*OnChainService, error) {
	var out struct {
		Provider       common.Address
		PriceBaseUnits *big.Int
		Name           string
		Endpoint       string
		Active         bool
		CreatedAt      *big.Int
	}
	if err := r.client.Call(ctx, registryContractABI, r.address, "services", &out, serviceIDHash); err != nil {
		return nil, fmt.Errorf("chaincontracts: read service: %w", err)
	}
	return &OnChainService{
		Provider:       out.Provider,
		PriceBaseUnits: out.PriceBaseUnits,
		Name:           out.Name,
		Endpoint:       out.Endpoint,
		Active:         out.Active,
		CreatedAt:      out.CreatedAt,
	}, nil
}
