package chaincontracts

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ServiceIDHash computes the canonical on-chain key for a service_id:
// keccak256(utf8(service_id)). Service records are keyed by this hash in
// the registry contract, while the off-chain store keeps the opaque
// human-assigned service_id as its own primary key.
func ServiceIDHash(serviceID string) [32]byte {
	return crypto.Keccak256Hash([]byte(serviceID))
}

// ServiceIDHashHex is ServiceIDHash formatted as a 0x-prefixed hex string,
// the form persisted alongside the off-chain service record for quick
// lookup without recomputing the hash.
func ServiceIDHashHex(serviceID string) string {
	h := ServiceIDHash(serviceID)
	return common.BytesToHash(h[:]).Hex()
}
