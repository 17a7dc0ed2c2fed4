package x402

import (
	"encoding/base64"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDomain() Domain {
	return Domain{
		Name:              "Mock USD Coin",
		Version:           "1",
		ChainID:           big.NewInt(84532),
		VerifyingContract: common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
	}
}

func TestSignAndRecover_RoundTrip(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)

	auth := &Authorization{
		From:        AddressFromKey(priv),
		To:          common.HexToAddress("0x8d4712191fa0a189ab95C58aBaF6E19EBEA74c7f"),
		Value:       big.NewInt(1_000_000_000_000_000_000),
		ValidAfter:  big.NewInt(0),
		ValidBefore: big.NewInt(2_000_000_000),
		Nonce:       RandomNonce32(1),
	}

	require.NoError(t, Sign(auth, testDomain(), priv))

	recovered, err := RecoverSigner(testDomain(), auth)
	require.NoError(t, err)
	assert.Equal(t, auth.From, recovered)
}

func TestRecover_WrongDomainFailsToMatch(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)

	auth := &Authorization{
		From:        AddressFromKey(priv),
		To:          common.HexToAddress("0x8d4712191fa0a189ab95C58aBaF6E19EBEA74c7f"),
		Value:       big.NewInt(1),
		ValidAfter:  big.NewInt(0),
		ValidBefore: big.NewInt(2_000_000_000),
		Nonce:       RandomNonce32(2),
	}
	require.NoError(t, Sign(auth, testDomain(), priv))

	wrongDomain := testDomain()
	wrongDomain.ChainID = big.NewInt(1)

	recovered, err := RecoverSigner(wrongDomain, auth)
	require.NoError(t, err)
	assert.NotEqual(t, auth.From, recovered)
}

func TestEncodeDecodeTunnel_RoundTrip(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)

	auth := Authorization{
		From:        AddressFromKey(priv),
		To:          common.HexToAddress("0x8d4712191fa0a189ab95C58aBaF6E19EBEA74c7f"),
		Value:       big.NewInt(1_000_000_000_000_000_000),
		ValidAfter:  big.NewInt(0),
		ValidBefore: big.NewInt(2_000_000_000),
		Nonce:       RandomNonce32(3),
	}
	require.NoError(t, Sign(&auth, testDomain(), priv))

	req := PaymentRequirement{
		Scheme:            SchemeGasless,
		Network:           "eip155:84532",
		MaxAmountRequired: "1000000000000000000",
		Resource:          "/gateway/svc-1",
		PayTo:             auth.To.Hex(),
		Asset:             testDomain().VerifyingContract.Hex(),
		MaxTimeoutSeconds: 300,
		Extra:             Extra{Symbol: "USDC", Decimals: 18, TokenName: "Mock USD Coin"},
	}

	header, err := EncodeTunnel(req, auth)
	require.NoError(t, err)

	env, decoded, err := DecodeTunnel(header)
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.True(t, RequirementsEqual(req, env.Accepted))
	assert.Equal(t, auth.From, decoded.From)
	assert.Equal(t, auth.Value.String(), decoded.Value.String())
	assert.Equal(t, auth.Nonce, decoded.Nonce)

	recovered, err := RecoverSigner(testDomain(), decoded)
	require.NoError(t, err)
	assert.Equal(t, auth.From, recovered)
}

func TestDecodeTunnel_DirectSignatureFallback(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)

	auth := Authorization{
		From:        AddressFromKey(priv),
		To:          common.HexToAddress("0x8d4712191fa0a189ab95C58aBaF6E19EBEA74c7f"),
		Value:       big.NewInt(5),
		ValidAfter:  big.NewInt(0),
		ValidBefore: big.NewInt(2_000_000_000),
		Nonce:       RandomNonce32(4),
	}
	require.NoError(t, Sign(&auth, testDomain(), priv))

	raw, err := auth.MarshalJSON()
	require.NoError(t, err)

	header := base64.StdEncoding.EncodeToString(raw)
	env, decoded, err := DecodeTunnel(header)
	require.NoError(t, err)
	assert.Nil(t, env)
	assert.Equal(t, auth.From, decoded.From)
}
