// Package x402 implements the wire types of the x402 micropayment protocol:
// the 402 challenge body, the EIP-712 typed-data schema used to authorize an
// EIP-3009 receiveWithAuthorization transfer, and the tunnel-mode envelope
// that carries a signature inside a single HTTP header.
package x402

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Scheme identifies the payment scheme named in a challenge's accepts entry.
type Scheme string

const (
	SchemeGasless Scheme = "gasless" // relayer-submitted EIP-3009 transfer
	SchemeExact   Scheme = "exact"   // payer submits the transaction themselves
)

// Extra carries token metadata a signer needs to build the EIP-712 domain.
type Extra struct {
	Symbol    string `json:"symbol"`
	Decimals  int    `json:"decimals"`
	TokenName string `json:"tokenName"`
}

// PaymentRequirement is one entry of a 402 challenge's "accepts" list. Field
// names and casing are the wire contract — changing them breaks every
// existing signer (spec says the EIP-712 domain/type must be stable; the
// challenge shape is equally load-bearing for agent clients).
type PaymentRequirement struct {
	Scheme            Scheme `json:"scheme"`
	Network           string `json:"network"` // "eip155:<chainId>"
	MaxAmountRequired string `json:"maxAmountRequired"`
	Resource          string `json:"resource"`
	Description       string `json:"description"`
	PayTo             string `json:"payTo"` // escrow contract address, never the provider's wallet
	MaxTimeoutSeconds int    `json:"maxTimeoutSeconds"`
	Asset             string `json:"asset"` // token contract address
	Extra             Extra  `json:"extra"`
}

// Challenge is the full body of a 402 response.
type Challenge struct {
	Error   string               `json:"error"`
	Accepts []PaymentRequirement `json:"accepts"`
}

// NewChallenge builds the canonical 402 body for a single payment requirement.
func NewChallenge(req PaymentRequirement) Challenge {
	return Challenge{Error: "Payment Required", Accepts: []PaymentRequirement{req}}
}

// Authorization is the off-chain payment authorization tuple signed by the
// payer: the EIP-3009 ReceiveWithAuthorization fields plus the resulting
// ECDSA signature.
type Authorization struct {
	From        common.Address `json:"from"`
	To          common.Address `json:"to"`
	Value       *big.Int       `json:"value"`
	ValidAfter  *big.Int       `json:"validAfter"`
	ValidBefore *big.Int       `json:"validBefore"`
	Nonce       [32]byte       `json:"nonce"`
	V           uint8          `json:"v"`
	R           [32]byte       `json:"r"`
	S           [32]byte       `json:"s"`
}

// TunnelEnvelope is the outer base64-JSON object carried in the
// payment-signature header in tunnel mode.
type TunnelEnvelope struct {
	X402Version int                `json:"x402Version"`
	Accepted    PaymentRequirement `json:"accepted"`
	Proof       string             `json:"proof"` // base64(JSON(signatureWire))
}

// signatureWire is the inner JSON shape of an Authorization, as produced by
// a browser/agent signer: hex-encoded addresses, decimal strings for
// uint256 fields, and 0x-prefixed hex for nonce/r/s.
type signatureWire struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
	V           uint8  `json:"v"`
	R           string `json:"r"`
	S           string `json:"s"`
}

// PrimaryType is the EIP-712 primaryType name used throughout the protocol.
const PrimaryType = "ReceiveWithAuthorization"

// TypedDataFields mirrors the Solidity struct signature used to compute the
// EIP-712 struct hash. Order matters — it is part of the type hash.
var TypedDataFields = []string{
	"from:address",
	"to:address",
	"value:uint256",
	"validAfter:uint256",
	"validBefore:uint256",
	"nonce:bytes32",
}
