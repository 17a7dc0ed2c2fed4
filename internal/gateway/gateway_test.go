package gateway

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x402gw/gateway/internal/catalog"
	"github.com/x402gw/gateway/internal/chaincontracts"
	"github.com/x402gw/gateway/internal/evmchain"
	"github.com/x402gw/gateway/internal/relayer"
	"github.com/x402gw/gateway/internal/verifier"
	"github.com/x402gw/gateway/internal/x402api"
	"github.com/x402gw/gateway/pkg/x402"
)

const testRelayerKey = "4646464646464646464646464646464646464646464646464646464646464646"

// stubRPC is the same minimal EthClient fake chaincontracts_test.go uses.
type stubRPC struct {
	sentTxs []*types.Transaction
}

func (s *stubRPC) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}
func (s *stubRPC) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}
func (s *stubRPC) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	s.sentTxs = append(s.sentTxs, tx)
	return nil
}
func (s *stubRPC) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return nil, ethereum.NotFound
}
func (s *stubRPC) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return nil, nil
}
func (s *stubRPC) TransactionByHash(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error) {
	return nil, false, ethereum.NotFound
}
func (s *stubRPC) NetworkID(ctx context.Context) (*big.Int, error) { return big.NewInt(84532), nil }
func (s *stubRPC) BlockNumber(ctx context.Context) (uint64, error) { return 1, nil }
func (s *stubRPC) Close()                                          {}

// fixedNonceChecker always reports nonces as unused, for tests that don't
// exercise replay rejection.
type fixedNonceChecker struct{ used bool }

func (f fixedNonceChecker) NonceUsed(ctx context.Context, from common.Address, nonce [32]byte) (bool, error) {
	return f.used, nil
}

func newTestService(t *testing.T) (*Service, *catalog.MemoryStore, common.Address) {
	t.Helper()

	escrowAddr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	tokenAddr := common.HexToAddress("0x2222222222222222222222222222222222222222")

	client, err := evmchain.New(context.Background(), evmchain.Config{
		PrivateKey: testRelayerKey,
		ChainID:    84532,
	}, evmchain.WithClient(&stubRPC{}))
	require.NoError(t, err)

	processor := chaincontracts.NewProcessor(client, common.HexToAddress("0x3333333333333333333333333333333333333333"))
	token := chaincontracts.NewToken(client, tokenAddr)
	escrow := chaincontracts.NewEscrow(client, escrowAddr)

	engine := relayer.New(client, processor, token, relayer.PolicyOptimistic)

	domain := x402.Domain{
		Name:              "Mock USD Coin",
		Version:           "1",
		ChainID:           big.NewInt(84532),
		VerifyingContract: tokenAddr,
	}
	v := verifier.New(domain, fixedNonceChecker{used: false})

	store := catalog.NewMemoryStore()

	svc := &Service{
		Catalog: store,
		Challenge: &ChallengeBuilder{
			EscrowAddress: escrowAddr.Hex(),
			ChainID:       84532,
			Token:         TokenInfo{Address: tokenAddr.Hex(), Name: "Mock USD Coin", Symbol: "USDC", Decimals: 6},
		},
		Verifier:      v,
		Relayer:       engine,
		Registry:      nil,
		Escrow:        escrow,
		Forwarder:     NewForwarder(0),
		EscrowAddress: escrowAddr,
	}
	return svc, store, escrowAddr
}

func seedService(t *testing.T, store *catalog.MemoryStore, kind catalog.Kind) *catalog.ServiceRecord {
	t.Helper()
	rec := &catalog.ServiceRecord{
		ServiceID:       "svc-1",
		ServiceIDHash:   chaincontracts.ServiceIDHashHex("svc-1"),
		Name:            "Test Service",
		PriceBaseUnits:  "1000000",
		TokenDecimals:   6,
		Kind:            kind,
		ProviderAddress: "0x4444444444444444444444444444444444444444",
		Active:          true,
	}
	if kind == catalog.KindHosted {
		rec.Content = "hello from the hosted service"
	}
	if kind == catalog.KindProxy {
		rec.Endpoint = "http://127.0.0.1:1/unreachable"
	}
	require.NoError(t, store.CreateService(context.Background(), rec))
	return rec
}

func signedAuth(t *testing.T, to common.Address, value *big.Int, domain x402.Domain) (*x402.Authorization, *common.Address) {
	t.Helper()
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	from := x402.AddressFromKey(priv)

	auth := &x402.Authorization{
		From:        from,
		To:          to,
		Value:       value,
		ValidAfter:  big.NewInt(0),
		ValidBefore: big.NewInt(time.Now().Add(time.Hour).Unix()),
		Nonce:       x402.RandomNonce32(1),
	}
	require.NoError(t, x402.Sign(auth, domain, priv))
	return auth, &from
}

func TestBuildChallenge_UnknownService(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, _, err := svc.BuildChallenge(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, ErrServiceNotFound)
}

func TestBuildChallenge_NativeServiceNotMediated(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedService(t, store, catalog.KindNative)
	_, _, err := svc.BuildChallenge(context.Background(), "svc-1")
	assert.ErrorIs(t, err, ErrNativeNotBridged)
}

func TestBuildChallenge_InactiveService(t *testing.T) {
	svc, store, _ := newTestService(t)
	rec := seedService(t, store, catalog.KindHosted)
	require.NoError(t, store.SetServiceActive(context.Background(), rec.ServiceID, false))

	_, _, err := svc.BuildChallenge(context.Background(), "svc-1")
	var xerr *x402api.Error
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, x402api.KindServiceInactive, xerr.Kind)
}

func TestBuildChallenge_Success(t *testing.T) {
	svc, store, escrowAddr := newTestService(t)
	seedService(t, store, catalog.KindHosted)

	_, challenge, err := svc.BuildChallenge(context.Background(), "svc-1")
	require.NoError(t, err)
	require.Len(t, challenge.Accepts, 1)
	assert.Equal(t, escrowAddr.Hex(), challenge.Accepts[0].PayTo)
	assert.Equal(t, "1000000", challenge.Accepts[0].MaxAmountRequired)
	assert.Equal(t, "/gateway/svc-1", challenge.Accepts[0].Resource)
}

func TestAccess_HostedService_SettlesAndReturnsContent(t *testing.T) {
	svc, store, escrowAddr := newTestService(t)
	rec := seedService(t, store, catalog.KindHosted)

	domain := x402.Domain{Name: "Mock USD Coin", Version: "1", ChainID: big.NewInt(84532), VerifyingContract: common.HexToAddress("0x2222222222222222222222222222222222222222")}
	auth, _ := signedAuth(t, escrowAddr, big.NewInt(1_000_000), domain)

	result, err := svc.Access(context.Background(), "GET", rec, auth, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello from the hosted service", result.Content)
	assert.Equal(t, relayer.StateSubmitted, result.Settlement)
	assert.NotEmpty(t, result.TxHash)

	logs, err := store.ListAccessLogs(context.Background(), rec.ServiceID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, auth.From.Hex(), common.HexToAddress(logs[0].CallerAddress).Hex())
}

func TestAccess_RejectsWrongDestination(t *testing.T) {
	svc, store, _ := newTestService(t)
	rec := seedService(t, store, catalog.KindHosted)

	domain := x402.Domain{Name: "Mock USD Coin", Version: "1", ChainID: big.NewInt(84532), VerifyingContract: common.HexToAddress("0x2222222222222222222222222222222222222222")}
	wrongDestination := common.HexToAddress("0x9999999999999999999999999999999999999999")
	auth, _ := signedAuth(t, wrongDestination, big.NewInt(1_000_000), domain)

	_, err := svc.Access(context.Background(), "GET", rec, auth, nil)
	var xerr *x402api.Error
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, x402api.KindBadDestination, xerr.Kind)
}

func TestAccess_RejectsInsufficientValue(t *testing.T) {
	svc, store, escrowAddr := newTestService(t)
	rec := seedService(t, store, catalog.KindHosted)

	domain := x402.Domain{Name: "Mock USD Coin", Version: "1", ChainID: big.NewInt(84532), VerifyingContract: common.HexToAddress("0x2222222222222222222222222222222222222222")}
	auth, _ := signedAuth(t, escrowAddr, big.NewInt(1), domain) // below the 1_000_000 price

	_, err := svc.Access(context.Background(), "GET", rec, auth, nil)
	var xerr *x402api.Error
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, x402api.KindInsufficientValue, xerr.Kind)
}

func TestAccess_ProxyService_UpstreamFailureStillReturnsEvidence(t *testing.T) {
	svc, store, escrowAddr := newTestService(t)
	rec := seedService(t, store, catalog.KindProxy)

	domain := x402.Domain{Name: "Mock USD Coin", Version: "1", ChainID: big.NewInt(84532), VerifyingContract: common.HexToAddress("0x2222222222222222222222222222222222222222")}
	auth, _ := signedAuth(t, escrowAddr, big.NewInt(1_000_000), domain)

	result, err := svc.Access(context.Background(), "POST", rec, auth, map[string]any{"q": "hi"})
	require.NoError(t, err)
	assert.NotEmpty(t, result.TxHash)
	assert.NotEmpty(t, result.UpstreamError)
}

func TestCheckPayer_Blacklisted(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.Blacklist = NewBlacklist()
	svc.Blacklist.Add("0xabc0000000000000000000000000000000000000", "known abuser")

	err := svc.checkPayer("0xABC0000000000000000000000000000000000000")
	var xerr *x402api.Error
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, x402api.KindPayerBlacklisted, xerr.Kind)
}

func TestCheckPayer_RateLimited(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.RateLimitEnabled = true
	svc.RateLimiter = newPayerRateLimiter(1)

	payer := "0x5555555555555555555555555555555555555555"
	require.NoError(t, svc.checkPayer(payer))

	err := svc.checkPayer(payer)
	var xerr *x402api.Error
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, x402api.KindRateLimited, xerr.Kind)
}

func TestSplitFee(t *testing.T) {
	fee, share := splitFee(big.NewInt(1_000_000), 500) // 5%
	assert.Equal(t, "50000", fee.String())
	assert.Equal(t, "950000", share.String())
}

func TestClaim_RequiresWalletOrProvider(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Claim(context.Background(), ClaimRequest{Amount: "100"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestClaim_Success(t *testing.T) {
	svc, _, _ := newTestService(t)
	claim, err := svc.Claim(context.Background(), ClaimRequest{
		WalletAddress: "0x4444444444444444444444444444444444444444",
		Amount:        "500000",
	})
	require.NoError(t, err)
	assert.Equal(t, "confirmed", claim.Status)
	assert.NotEmpty(t, claim.TxHash)
}

// failingRPC always rejects SendTransaction, to exercise RegisterService's
// rollback path without needing a real registry contract revert.
type failingRPC struct{ stubRPC }

func (f *failingRPC) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return fmt.Errorf("rpc: simulated broadcast failure")
}

func TestRegisterService_Success(t *testing.T) {
	svc, store, _ := newTestService(t)
	client, err := evmchain.New(context.Background(), evmchain.Config{
		PrivateKey: testRelayerKey,
		ChainID:    84532,
	}, evmchain.WithClient(&stubRPC{}))
	require.NoError(t, err)
	svc.Registry = chaincontracts.NewRegistry(client, common.HexToAddress("0x5555555555555555555555555555555555555555"))

	rec, err := svc.RegisterService(context.Background(), RegisterServiceRequest{
		ServiceID:       "svc-new",
		Name:            "New Service",
		PriceBaseUnits:  "1000000",
		Kind:            "HOSTED",
		Content:         "hello",
		ProviderAddress: "0x4444444444444444444444444444444444444444",
	})
	require.NoError(t, err)
	assert.Equal(t, "svc-new", rec.ServiceID)

	stored, err := store.GetService(context.Background(), "svc-new")
	require.NoError(t, err)
	assert.Equal(t, "New Service", stored.Name)

	provider, err := store.GetProvider(context.Background(), "0x4444444444444444444444444444444444444444")
	require.NoError(t, err)
	assert.Equal(t, "0", provider.TotalEarnedBase)
}

func TestRegisterService_RollsBackCatalogOnChainFailure(t *testing.T) {
	svc, store, _ := newTestService(t)
	client, err := evmchain.New(context.Background(), evmchain.Config{
		PrivateKey: testRelayerKey,
		ChainID:    84532,
	}, evmchain.WithClient(&failingRPC{}))
	require.NoError(t, err)
	svc.Registry = chaincontracts.NewRegistry(client, common.HexToAddress("0x5555555555555555555555555555555555555555"))

	_, err = svc.RegisterService(context.Background(), RegisterServiceRequest{
		ServiceID:       "svc-fail",
		Name:            "Doomed Service",
		PriceBaseUnits:  "1000000",
		Kind:            "HOSTED",
		Content:         "hello",
		ProviderAddress: "0x4444444444444444444444444444444444444444",
	})
	require.Error(t, err)

	_, err = store.GetService(context.Background(), "svc-fail")
	assert.ErrorIs(t, err, catalog.ErrServiceNotFound)
}

func TestRegisterService_RejectsInvalidProviderAddress(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.RegisterService(context.Background(), RegisterServiceRequest{
		ServiceID:       "svc-bad",
		PriceBaseUnits:  "1000000",
		Kind:            "HOSTED",
		Content:         "hello",
		ProviderAddress: "not-an-address",
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
