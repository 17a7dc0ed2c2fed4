package x402

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// toWire converts an Authorization to its JSON wire representation.
func (a *Authorization) toWire() signatureWire {
	return signatureWire{
		From:        a.From.Hex(),
		To:          a.To.Hex(),
		Value:       bigOrZero(a.Value).String(),
		ValidAfter:  bigOrZero(a.ValidAfter).String(),
		ValidBefore: bigOrZero(a.ValidBefore).String(),
		Nonce:       "0x" + hex.EncodeToString(a.Nonce[:]),
		V:           a.V,
		R:           "0x" + hex.EncodeToString(a.R[:]),
		S:           "0x" + hex.EncodeToString(a.S[:]),
	}
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

// MarshalJSON emits the wire representation expected by signers.
func (a Authorization) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.toWire())
}

// UnmarshalJSON parses the wire representation produced by a signer
// (decimal strings for uint256 fields, 0x-hex for nonce/r/s). Other
// layouts, such as numeric uint256 fields, are rejected.
func (a *Authorization) UnmarshalJSON(data []byte) error {
	var w signatureWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("x402: invalid authorization JSON: %w", err)
	}
	return a.fromWire(w)
}

func (a *Authorization) fromWire(w signatureWire) error {
	if !common.IsHexAddress(w.From) {
		return fmt.Errorf("x402: invalid from address %q", w.From)
	}
	if !common.IsHexAddress(w.To) {
		return fmt.Errorf("x402: invalid to address %q", w.To)
	}
	value, ok := new(big.Int).SetString(w.Value, 10)
	if !ok {
		return fmt.Errorf("x402: invalid value %q", w.Value)
	}
	validAfter, ok := new(big.Int).SetString(w.ValidAfter, 10)
	if !ok {
		return fmt.Errorf("x402: invalid validAfter %q", w.ValidAfter)
	}
	validBefore, ok := new(big.Int).SetString(w.ValidBefore, 10)
	if !ok {
		return fmt.Errorf("x402: invalid validBefore %q", w.ValidBefore)
	}
	nonceBytes, err := hexTo32(w.Nonce)
	if err != nil {
		return fmt.Errorf("x402: invalid nonce: %w", err)
	}
	rBytes, err := hexTo32(w.R)
	if err != nil {
		return fmt.Errorf("x402: invalid r: %w", err)
	}
	sBytes, err := hexTo32(w.S)
	if err != nil {
		return fmt.Errorf("x402: invalid s: %w", err)
	}

	a.From = common.HexToAddress(w.From)
	a.To = common.HexToAddress(w.To)
	a.Value = value
	a.ValidAfter = validAfter
	a.ValidBefore = validBefore
	a.Nonce = nonceBytes
	a.V = normalizeV(w.V)
	a.R = rBytes
	a.S = sBytes
	return nil
}

// normalizeV accepts both the 0/1 and 27/28 conventions and returns 27/28,
// the form crypto.Sign/Ecrecover helpers in this codebase expect to strip.
func normalizeV(v uint8) uint8 {
	if v < 27 {
		return v + 27
	}
	return v
}

func hexTo32(s string) ([32]byte, error) {
	var out [32]byte
	s = strings.TrimPrefix(s, "0x")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) > 32 {
		return out, fmt.Errorf("value too long: %d bytes", len(b))
	}
	copy(out[32-len(b):], b)
	return out, nil
}

// DecodeTunnel decodes a base64-JSON tunnel envelope from the
// payment-signature header value. It does not validate the signature or the
// echoed requirements against server state — callers do that separately.
func DecodeTunnel(headerValue string) (*TunnelEnvelope, *Authorization, error) {
	outer, err := base64.StdEncoding.DecodeString(headerValue)
	if err != nil {
		// Some clients use URL-safe base64; tolerate both.
		outer, err = base64.URLEncoding.DecodeString(headerValue)
		if err != nil {
			return nil, nil, fmt.Errorf("x402: invalid base64 envelope: %w", err)
		}
	}

	// Try to parse as the tunnel envelope first.
	var env TunnelEnvelope
	if err := json.Unmarshal(outer, &env); err == nil && env.Proof != "" {
		auth, err := decodeProof(env.Proof)
		if err != nil {
			return nil, nil, err
		}
		return &env, auth, nil
	}

	// Fall back to treating the outer object as the signature directly.
	var auth Authorization
	if err := json.Unmarshal(outer, &auth); err != nil {
		return nil, nil, fmt.Errorf("x402: cannot parse payment-signature header: %w", err)
	}
	return nil, &auth, nil
}

func decodeProof(proof string) (*Authorization, error) {
	raw, err := base64.StdEncoding.DecodeString(proof)
	if err != nil {
		raw, err = base64.URLEncoding.DecodeString(proof)
		if err != nil {
			return nil, fmt.Errorf("x402: invalid base64 proof: %w", err)
		}
	}
	var auth Authorization
	if err := json.Unmarshal(raw, &auth); err != nil {
		return nil, fmt.Errorf("x402: invalid proof JSON: %w", err)
	}
	return &auth, nil
}

// EncodeTunnel builds a tunnel-mode header value from a requirements echo
// and an authorization, in the wire format DecodeTunnel reads. Used by
// tests and by clients that build a payment-signature header.
func EncodeTunnel(accepted PaymentRequirement, auth Authorization) (string, error) {
	authJSON, err := json.Marshal(auth)
	if err != nil {
		return "", fmt.Errorf("x402: marshal authorization: %w", err)
	}
	proof := base64.StdEncoding.EncodeToString(authJSON)

	env := TunnelEnvelope{X402Version: 2, Accepted: accepted, Proof: proof}
	envJSON, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("x402: marshal envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(envJSON), nil
}

// RequirementsEqual performs the deep equality check the codec needs over
// the recognized fields of a PaymentRequirement — used to reject a
// tunnel-mode request whose echoed "accepted" block has been tampered with.
func RequirementsEqual(a, b PaymentRequirement) bool {
	return a.Scheme == b.Scheme &&
		a.Network == b.Network &&
		a.MaxAmountRequired == b.MaxAmountRequired &&
		a.Resource == b.Resource &&
		a.PayTo == b.PayTo &&
		a.Asset == b.Asset &&
		a.Extra == b.Extra
}
