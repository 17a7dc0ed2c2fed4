package x402

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var receiveWithAuthorizationTypeHash = crypto.Keccak256Hash([]byte(
	"ReceiveWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)",
))

var eip712DomainTypeHash = crypto.Keccak256Hash([]byte(
	"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
))

// Domain is the EIP-712 domain separator input: {name, version, chainId,
// verifyingContract}. Name is the token's name(), version is always "1".
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

func (d Domain) separator() [32]byte {
	nameHash := crypto.Keccak256Hash([]byte(d.Name))
	versionHash := crypto.Keccak256Hash([]byte(d.Version))

	encoded := make([]byte, 5*32)
	copy(encoded[0:32], eip712DomainTypeHash[:])
	copy(encoded[32:64], nameHash[:])
	copy(encoded[64:96], versionHash[:])
	d.ChainID.FillBytes(encoded[96:128])
	copy(encoded[128+12:160], d.VerifyingContract.Bytes())

	return crypto.Keccak256Hash(encoded)
}

func structHash(a *Authorization) [32]byte {
	// abi.encode(typeHash, from, to, value, validAfter, validBefore, nonce)
	encoded := make([]byte, 7*32)
	copy(encoded[0:32], receiveWithAuthorizationTypeHash[:])
	copy(encoded[32+12:64], a.From.Bytes())
	copy(encoded[64+12:96], a.To.Bytes())
	bigOrZero(a.Value).FillBytes(encoded[96:128])
	bigOrZero(a.ValidAfter).FillBytes(encoded[128:160])
	bigOrZero(a.ValidBefore).FillBytes(encoded[160:192])
	copy(encoded[192:224], a.Nonce[:])
	return crypto.Keccak256Hash(encoded)
}

// Digest computes the final EIP-712 signing digest:
// keccak256(0x1901 || domainSeparator || structHash).
func Digest(domain Domain, a *Authorization) [32]byte {
	sep := domain.separator()
	sh := structHash(a)

	msg := make([]byte, 2+32+32)
	msg[0] = 0x19
	msg[1] = 0x01
	copy(msg[2:34], sep[:])
	copy(msg[34:66], sh[:])
	return crypto.Keccak256Hash(msg)
}

// RecoverSigner recovers the address that produced (v, r, s) over the
// EIP-712 digest for the given domain and authorization fields.
func RecoverSigner(domain Domain, a *Authorization) (common.Address, error) {
	digest := Digest(domain, a)

	sig := make([]byte, 65)
	copy(sig[0:32], a.R[:])
	copy(sig[32:64], a.S[:])
	v := a.V
	if v >= 27 {
		v -= 27
	}
	sig[64] = v

	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
