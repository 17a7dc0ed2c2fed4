package verifier

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x402gw/gateway/internal/x402api"
	"github.com/x402gw/gateway/pkg/x402"
)

var testDomain = x402.Domain{
	Name:              "Mock USD Coin",
	Version:           "1",
	ChainID:           big.NewInt(84532),
	VerifyingContract: common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
}

var escrowAddr = common.HexToAddress("0x8d4712191fa0a189ab95C58aBaF6E19EBEA74c7f")

type stubNonces struct {
	used bool
	err  error
}

func (s stubNonces) NonceUsed(ctx context.Context, from common.Address, nonce [32]byte) (bool, error) {
	return s.used, s.err
}

func validAuth(t *testing.T) *x402.Authorization {
	t.Helper()
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	auth := &x402.Authorization{
		From:        x402.AddressFromKey(priv),
		To:          escrowAddr,
		Value:       big.NewInt(1_000_000),
		ValidAfter:  big.NewInt(time.Now().Add(-time.Hour).Unix()),
		ValidBefore: big.NewInt(time.Now().Add(time.Hour).Unix()),
		Nonce:       x402.RandomNonce32(1),
	}
	require.NoError(t, x402.Sign(auth, testDomain, priv))
	return auth
}

func TestVerify_HappyPath(t *testing.T) {
	v := New(testDomain, stubNonces{used: false})
	auth := validAuth(t)

	err := v.Verify(context.Background(), auth, Requirements{EscrowAddress: escrowAddr, PriceBase: big.NewInt(1_000_000)})
	assert.NoError(t, err)
}

func TestVerify_BadDestination(t *testing.T) {
	v := New(testDomain, stubNonces{})
	auth := validAuth(t)

	err := v.Verify(context.Background(), auth, Requirements{
		EscrowAddress: common.HexToAddress("0x9999999999999999999999999999999999999999"),
		PriceBase:     big.NewInt(1_000_000),
	})
	requireKind(t, err, x402api.KindBadDestination)
}

func TestVerify_InsufficientValue(t *testing.T) {
	v := New(testDomain, stubNonces{})
	auth := validAuth(t)

	err := v.Verify(context.Background(), auth, Requirements{EscrowAddress: escrowAddr, PriceBase: big.NewInt(2_000_000)})
	requireKind(t, err, x402api.KindInsufficientValue)
}

func TestVerify_OutOfWindow_NotYetValid(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	auth := &x402.Authorization{
		From:        x402.AddressFromKey(priv),
		To:          escrowAddr,
		Value:       big.NewInt(1_000_000),
		ValidAfter:  big.NewInt(time.Now().Add(time.Hour).Unix()),
		ValidBefore: big.NewInt(time.Now().Add(2 * time.Hour).Unix()),
		Nonce:       x402.RandomNonce32(2),
	}
	require.NoError(t, x402.Sign(auth, testDomain, priv))

	v := New(testDomain, stubNonces{})
	err = v.Verify(context.Background(), auth, Requirements{EscrowAddress: escrowAddr, PriceBase: big.NewInt(1_000_000)})
	requireKind(t, err, x402api.KindOutOfWindow)
}

func TestVerify_NonceUsed(t *testing.T) {
	v := New(testDomain, stubNonces{used: true})
	auth := validAuth(t)

	err := v.Verify(context.Background(), auth, Requirements{EscrowAddress: escrowAddr, PriceBase: big.NewInt(1_000_000)})
	requireKind(t, err, x402api.KindNonceUsed)
}

func TestVerify_BadSignature_WrongFrom(t *testing.T) {
	v := New(testDomain, stubNonces{})
	auth := validAuth(t)
	auth.From = common.HexToAddress("0x1111111111111111111111111111111111111111")

	err := v.Verify(context.Background(), auth, Requirements{EscrowAddress: escrowAddr, PriceBase: big.NewInt(1_000_000)})
	requireKind(t, err, x402api.KindBadSignature)
}

func requireKind(t *testing.T, err error, kind x402api.Kind) {
	t.Helper()
	require.Error(t, err)
	xerr, ok := err.(*x402api.Error)
	require.True(t, ok, "expected *x402api.Error, got %T", err)
	assert.Equal(t, kind, xerr.Kind)
}
