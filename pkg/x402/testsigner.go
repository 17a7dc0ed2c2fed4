package x402

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Sign produces a valid (v, r, s) over the EIP-712 digest for the given
// domain, filling them into the Authorization in place. Used by tests;
// the gateway itself never signs on a payer's behalf (the MCP tools take
// an already-signed authorization).
func Sign(a *Authorization, domain Domain, priv *ecdsa.PrivateKey) error {
	digest := Digest(domain, a)
	sig, err := crypto.Sign(digest[:], priv)
	if err != nil {
		return err
	}
	copy(a.R[:], sig[0:32])
	copy(a.S[:], sig[32:64])
	a.V = sig[64] + 27
	return nil
}

// AddressFromKey is a small convenience used by tests to derive the
// payer address matching a given private key.
func AddressFromKey(priv *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(priv.PublicKey)
}

// RandomNonce32 is a test helper producing a deterministic-looking but
// distinct nonce from a seed, avoiding a crypto/rand dependency in tests
// that need reproducible fixtures.
func RandomNonce32(seed uint64) [32]byte {
	var out [32]byte
	big.NewInt(0).SetUint64(seed).FillBytes(out[:])
	return out
}
